package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/virtmail/mailstore/store"
)

func newMessage(data store.MessageData) *message {
	now := time.Now().UTC()
	m := &message{
		id:            uuid.NewString(),
		ownerID:       data.OwnerID,
		from:          data.From,
		to:            append([]string(nil), data.To...),
		cc:            append([]string(nil), data.Cc...),
		bcc:           append([]string(nil), data.Bcc...),
		subject:       data.Subject,
		body:          data.Body,
		folderID:      data.FolderID,
		state:         data.State,
		direction:     data.Direction,
		isRead:        data.IsRead,
		isStarred:     data.IsStarred,
		attachmentIDs: append([]string(nil), data.AttachmentIDs...),
		version:       1,
		createdAt:     now,
		updatedAt:     now,
		receivedAt:    data.ReceivedAt,
	}
	return m
}

func validateData(data store.MessageData) error {
	if data.OwnerID == "" {
		return fmt.Errorf("%w: missing owner id", store.ErrInvalidData)
	}
	if !data.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", store.ErrInvalidData, data.State)
	}
	if !store.IsValidFolderID(data.FolderID) {
		return fmt.Errorf("%w: folder %q", store.ErrInvalidFolder, data.FolderID)
	}
	return nil
}

// Create stores a new message.
func (s *Store) Create(ctx context.Context, data store.MessageData) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := validateData(data); err != nil {
		return nil, err
	}
	m := newMessage(data)
	s.messages.Store(m.id, m)
	return m.snapshot(), nil
}

// CreateIdempotent files an inbound message exactly once per
// (owner, deliveryKey). The LoadOrStore on the key index is the atomic
// gate; losers of the race return the winner's message.
func (s *Store) CreateIdempotent(ctx context.Context, data store.MessageData, deliveryKey string) (store.Message, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if deliveryKey == "" {
		return nil, false, fmt.Errorf("%w: missing delivery key", store.ErrInvalidData)
	}
	if err := validateData(data); err != nil {
		return nil, false, err
	}

	m := newMessage(data)
	m.deliveryKey = deliveryKey

	idx := deliveryKeyIndex(data.OwnerID, deliveryKey)
	existing, loaded := s.deliveryKeys.LoadOrStore(idx, m.id)
	if loaded {
		prev, ok := s.messages.Load(existing.(string))
		if !ok {
			return nil, false, store.ErrNotFound
		}
		return prev.(*message).snapshot(), false, nil
	}
	s.messages.Store(m.id, m)
	return m.snapshot(), true, nil
}
