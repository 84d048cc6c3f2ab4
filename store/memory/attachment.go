package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/virtmail/mailstore/store"
)

// CreateAttachment stores attachment metadata. The reference count starts
// at zero; messages add references when they attach it.
func (s *Store) CreateAttachment(ctx context.Context, meta store.AttachmentMeta) (store.AttachmentMeta, error) {
	if err := s.checkConnected(); err != nil {
		return store.AttachmentMeta{}, err
	}
	if meta.OwnerID == "" || meta.ContentHash == "" {
		return store.AttachmentMeta{}, fmt.Errorf("%w: attachment needs owner and content hash", store.ErrInvalidData)
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	meta.RefCount = 0
	meta.CreatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[meta.ID] = meta
	return meta, nil
}

// GetAttachment returns attachment metadata by id.
func (s *Store) GetAttachment(ctx context.Context, id string) (store.AttachmentMeta, error) {
	if err := s.checkConnected(); err != nil {
		return store.AttachmentMeta{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.attachments[id]
	if !ok {
		return store.AttachmentMeta{}, store.ErrNotFound
	}
	return meta, nil
}

// FindAttachmentByHash returns the owner's attachment with the given hash.
func (s *Store) FindAttachmentByHash(ctx context.Context, ownerID, hash string) (store.AttachmentMeta, error) {
	if err := s.checkConnected(); err != nil {
		return store.AttachmentMeta{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, meta := range s.attachments {
		if meta.OwnerID == ownerID && meta.ContentHash == hash {
			return meta, nil
		}
	}
	return store.AttachmentMeta{}, store.ErrNotFound
}

// AddAttachmentRef increments the reference count.
func (s *Store) AddAttachmentRef(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.attachments[id]
	if !ok {
		return store.ErrNotFound
	}
	meta.RefCount++
	s.attachments[id] = meta
	return nil
}

// ReleaseAttachmentRef decrements the reference count, deleting the record
// at zero. The decrement and delete happen under one lock so two concurrent
// releases cannot both observe zero.
func (s *Store) ReleaseAttachmentRef(ctx context.Context, id string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.attachments[id]
	if !ok {
		return false, store.ErrNotFound
	}
	meta.RefCount--
	if meta.RefCount <= 0 {
		// Another record may still point at the same blob for a
		// different owner; the caller checks before removing the blob.
		sharedBlob := false
		for otherID, other := range s.attachments {
			if otherID != id && other.ContentHash == meta.ContentHash {
				sharedBlob = true
				break
			}
		}
		delete(s.attachments, id)
		return !sharedBlob, nil
	}
	s.attachments[id] = meta
	return false, nil
}
