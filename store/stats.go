package store

import "context"

// FolderStats holds per-folder message counts.
type FolderStats struct {
	Total  int64
	Unread int64
}

// MailboxStats summarizes a mailbox.
type MailboxStats struct {
	Total     int64
	Unread    int64
	Starred   int64
	PerFolder map[string]FolderStats
}

// Clone returns a deep copy safe for the caller to hold.
func (s *MailboxStats) Clone() *MailboxStats {
	if s == nil {
		return nil
	}
	out := *s
	out.PerFolder = make(map[string]FolderStats, len(s.PerFolder))
	for k, v := range s.PerFolder {
		out.PerFolder[k] = v
	}
	return &out
}

// StatsStore computes mailbox statistics.
type StatsStore interface {
	Stats(ctx context.Context, ownerID string) (*MailboxStats, error)
}
