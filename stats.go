package mailstore

import (
	"context"
	"sync"
	"time"

	"github.com/virtmail/mailstore/store"
)

// statsEntry holds one user's cached stats snapshot.
type statsEntry struct {
	mu        sync.Mutex
	stats     *store.MailboxStats
	updatedAt time.Time
}

// Stats returns aggregate statistics for this user's mailbox. Results are
// cached per user; mutations invalidate the cache and a TTL bounds the
// staleness either way.
func (m *mailboxClient) Stats(ctx context.Context) (*store.MailboxStats, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	return s.getOrRefreshStats(ctx, m.userID)
}

// getOrRefreshStats returns cached stats within the TTL, refreshing from
// the store otherwise.
func (s *service) getOrRefreshStats(ctx context.Context, ownerID string) (*store.MailboxStats, error) {
	now := time.Now()

	if val, ok := s.statsCache.Load(ownerID); ok {
		entry := val.(*statsEntry)
		entry.mu.Lock()
		if entry.stats != nil && now.Sub(entry.updatedAt) < s.opts.statsRefreshInterval {
			clone := entry.stats.Clone()
			entry.mu.Unlock()
			return clone, nil
		}
		entry.mu.Unlock()
	}

	stats, err := s.store.Stats(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.statsCache.Store(ownerID, &statsEntry{stats: stats, updatedAt: now})
	return stats.Clone(), nil
}

// invalidateStats drops the cached snapshot so the next read recomputes.
func (s *service) invalidateStats(ownerID string) {
	s.statsCache.Delete(ownerID)
}
