package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/virtmail/mailstore/store"
)

// deliveryKeyDoc reserves one (owner, key) pair. Documents survive message
// deletion so a purged delivery never refiles.
type deliveryKeyDoc struct {
	OwnerID     string    `bson:"owner_id"`
	DeliveryKey string    `bson:"delivery_key"`
	MessageID   string    `bson:"message_id"`
	CreatedAt   time.Time `bson:"created_at"`
}

func newMessage(id string, data store.MessageData, deliveryKey string) (*message, error) {
	if data.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id required", store.ErrInvalidData)
	}
	if !data.State.Valid() {
		return nil, fmt.Errorf("%w: state %q", store.ErrInvalidData, data.State)
	}
	if !store.IsValidFolderID(data.FolderID) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidFolder, data.FolderID)
	}
	now := time.Now().UTC()
	return &message{
		ID:            id,
		OwnerID:       data.OwnerID,
		FromAddr:      data.From,
		ToAddrs:       data.To,
		CcAddrs:       data.Cc,
		BccAddrs:      data.Bcc,
		Subject:       data.Subject,
		Body:          data.Body,
		FolderID:      data.FolderID,
		State:         data.State,
		Direction:     data.Direction,
		IsRead:        data.IsRead,
		IsStarred:     data.IsStarred,
		Version:       1,
		AttachmentIDs: data.AttachmentIDs,
		DeliveryKey:   deliveryKey,
		CreatedAt:     now,
		UpdatedAt:     now,
		ReceivedAt:    data.ReceivedAt.UTC(),
	}, nil
}

// Create stores a new message with version 1.
func (s *Store) Create(ctx context.Context, data store.MessageData) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	m, err := newMessage(uuid.NewString(), data, "")
	if err != nil {
		return nil, err
	}
	if _, err := s.messages().InsertOne(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// CreateIdempotent stores a new message unless the delivery key was already
// used for this owner. The unique index on (owner_id, delivery_key) makes
// the claim atomic without a distributed lock.
func (s *Store) CreateIdempotent(ctx context.Context, data store.MessageData, deliveryKey string) (store.Message, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if deliveryKey == "" {
		return nil, false, fmt.Errorf("%w: delivery key required", store.ErrInvalidData)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	messageID := uuid.NewString()
	_, err := s.deliveryKeys().InsertOne(ctx, deliveryKeyDoc{
		OwnerID:     data.OwnerID,
		DeliveryKey: deliveryKey,
		MessageID:   messageID,
		CreatedAt:   time.Now().UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		// Key already claimed; return whichever message it points to.
		var doc deliveryKeyDoc
		filter := bson.M{"owner_id": data.OwnerID, "delivery_key": deliveryKey}
		if err := s.deliveryKeys().FindOne(ctx, filter).Decode(&doc); err != nil {
			return nil, false, fmt.Errorf("lookup delivery key: %w", err)
		}
		msg, err := s.Get(ctx, doc.MessageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, fmt.Errorf("delivered message purged: %w", store.ErrNotFound)
			}
			return nil, false, err
		}
		return msg, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim delivery key: %w", err)
	}

	m, err := newMessage(messageID, data, deliveryKey)
	if err != nil {
		// Roll the claim back so a corrected redelivery can succeed.
		s.releaseDeliveryKey(ctx, data.OwnerID, deliveryKey)
		return nil, false, err
	}
	if _, err := s.messages().InsertOne(ctx, m); err != nil {
		s.releaseDeliveryKey(ctx, data.OwnerID, deliveryKey)
		return nil, false, fmt.Errorf("insert message: %w", err)
	}
	return m, true, nil
}

func (s *Store) releaseDeliveryKey(ctx context.Context, ownerID, deliveryKey string) {
	filter := bson.M{"owner_id": ownerID, "delivery_key": deliveryKey}
	if _, err := s.deliveryKeys().DeleteOne(ctx, filter); err != nil {
		s.logger.Warn("failed to release delivery key",
			"owner_id", ownerID, "delivery_key", deliveryKey, "error", err)
	}
}
