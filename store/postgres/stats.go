package postgres

import (
	"context"
	"fmt"

	"github.com/virtmail/mailstore/store"
)

// Stats aggregates message counts for one mailbox in a single pass.
func (s *Store) Stats(ctx context.Context, ownerID string) (*store.MailboxStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT folder_id,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE NOT is_read) AS unread,
		       COUNT(*) FILTER (WHERE is_starred) AS starred
		FROM %s
		WHERE owner_id = $1
		GROUP BY folder_id
	`, s.messages())

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &store.MailboxStats{PerFolder: make(map[string]store.FolderStats)}
	for rows.Next() {
		var folderID string
		var total, unread, starred int64
		if err := rows.Scan(&folderID, &total, &unread, &starred); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.PerFolder[folderID] = store.FolderStats{Total: total, Unread: unread}
		stats.Total += total
		stats.Unread += unread
		stats.Starred += starred
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}
