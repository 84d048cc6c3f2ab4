package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/virtmail/mailstore/store"
)

// AppendActivity records one audit entry.
func (s *Store) AppendActivity(ctx context.Context, e store.ActivityEntry) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if e.OwnerID == "" {
		return store.ErrInvalidID
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[e.OwnerID] = append(s.activity[e.OwnerID], e)
	return nil
}

// ListActivity returns entries newest first.
func (s *Store) ListActivity(ctx context.Context, ownerID string, limit, offset int) ([]store.ActivityEntry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.activity[ownerID]
	out := make([]store.ActivityEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
