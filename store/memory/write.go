package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/virtmail/mailstore/store"
)

// mutate applies fn to the message under its lock after checking the
// expected version. fn must not block.
func (s *Store) mutate(id string, version int64, fn func(m *message) error) (store.Message, error) {
	if id == "" {
		return nil, store.ErrInvalidID
	}
	v, ok := s.messages.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	m := v.(*message)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version != version {
		return nil, fmt.Errorf("%w: have %d, want %d", store.ErrConflict, m.version, version)
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	m.version++
	m.updatedAt = time.Now().UTC()
	return m.clone(), nil
}

// SetFlags updates the read and starred flags.
func (s *Store) SetFlags(ctx context.Context, id string, version int64, read, starred *bool) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.mutate(id, version, func(m *message) error {
		if read != nil {
			m.isRead = *read
		}
		if starred != nil {
			m.isStarred = *starred
		}
		return nil
	})
}

// MoveToFolder moves the message, tracking the prior folder across trash.
func (s *Store) MoveToFolder(ctx context.Context, id string, version int64, folderID string) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !store.IsValidFolderID(folderID) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidFolder, folderID)
	}
	return s.mutate(id, version, func(m *message) error {
		if folderID == store.FolderTrash && m.folderID != store.FolderTrash {
			m.priorFolderID = m.folderID
		} else if folderID != store.FolderTrash {
			m.priorFolderID = ""
		}
		m.folderID = folderID
		return nil
	})
}

// SetState transitions the lifecycle state.
func (s *Store) SetState(ctx context.Context, id string, version int64, state store.MessageState, failureReason string) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", store.ErrInvalidData, state)
	}
	return s.mutate(id, version, func(m *message) error {
		m.state = state
		if state == store.StateSendFailed {
			m.failureReason = failureReason
		} else {
			m.failureReason = ""
		}
		if state == store.StateSent && m.sentAt.IsZero() {
			m.sentAt = time.Now().UTC()
		}
		return nil
	})
}

// UpdateDraft rewrites draft content. Non-drafts are rejected.
func (s *Store) UpdateDraft(ctx context.Context, id string, version int64, upd store.DraftUpdate) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.mutate(id, version, func(m *message) error {
		if m.state != store.StateDraft {
			return fmt.Errorf("%w: message %s is not a draft", store.ErrInvalidData, id)
		}
		if upd.To != nil {
			m.to = append([]string(nil), upd.To...)
		}
		if upd.Cc != nil {
			m.cc = append([]string(nil), upd.Cc...)
		}
		if upd.Bcc != nil {
			m.bcc = append([]string(nil), upd.Bcc...)
		}
		if upd.Subject != nil {
			m.subject = *upd.Subject
		}
		if upd.Body != nil {
			m.body = *upd.Body
		}
		if upd.AttachmentIDs != nil {
			m.attachmentIDs = append([]string(nil), upd.AttachmentIDs...)
		}
		return nil
	})
}

// HardDelete removes the message permanently. The delivery key index entry
// is kept so a redelivered attempt does not resurrect a purged message.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}
	if _, ok := s.messages.LoadAndDelete(id); !ok {
		return store.ErrNotFound
	}
	return nil
}
