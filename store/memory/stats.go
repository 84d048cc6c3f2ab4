package memory

import (
	"context"

	"github.com/virtmail/mailstore/store"
)

// Stats computes mailbox statistics in one pass over the messages.
func (s *Store) Stats(ctx context.Context, ownerID string) (*store.MailboxStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, store.ErrInvalidID
	}
	stats := &store.MailboxStats{PerFolder: make(map[string]store.FolderStats)}
	s.messages.Range(func(_, v any) bool {
		m := v.(*message).snapshot()
		if m.ownerID != ownerID {
			return true
		}
		stats.Total++
		if !m.isRead {
			stats.Unread++
		}
		if m.isStarred {
			stats.Starred++
		}
		fs := stats.PerFolder[m.folderID]
		fs.Total++
		if !m.isRead {
			fs.Unread++
		}
		stats.PerFolder[m.folderID] = fs
		return true
	})
	return stats, nil
}
