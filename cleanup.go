package mailstore

import (
	"context"
	"fmt"
	"time"

	"github.com/virtmail/mailstore/store"
)

// CleanupTrashResult contains the result of a trash cleanup run.
type CleanupTrashResult struct {
	// DeletedCount is the number of messages permanently deleted.
	DeletedCount int
	// Interrupted reports whether the run stopped early, for example on
	// context cancellation.
	Interrupted bool
}

// CleanupTrash permanently deletes messages, across all mailboxes, that
// have been in trash longer than the configured retention period (default
// 30 days). Each expired message goes through the same purge path as a
// manual purge, so attachment references are released and the audit trail
// and search index stay consistent.
//
// The service never schedules this itself; call it periodically from your
// application's scheduler:
//
//	go func() {
//	    ticker := time.NewTicker(1 * time.Hour)
//	    defer ticker.Stop()
//	    for range ticker.C {
//	        result, err := svc.CleanupTrash(ctx)
//	        if err != nil {
//	            log.Printf("trash cleanup: %v", err)
//	        } else if result.DeletedCount > 0 {
//	            log.Printf("purged %d expired trash messages", result.DeletedCount)
//	        }
//	    }
//	}()
func (s *service) CleanupTrash(ctx context.Context) (*CleanupTrashResult, error) {
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.CleanupTrash")

	result, err := s.cleanupTrash(ctx)
	end(err)
	s.otel.record(ctx, opCleanup, start, err)
	return result, err
}

func (s *service) cleanupTrash(ctx context.Context) (*CleanupTrashResult, error) {
	result := &CleanupTrashResult{}
	cutoff := time.Now().UTC().Add(-s.opts.trashRetention)

	// Purging shrinks the result set, so each pass re-queries the first
	// batch until nothing expired remains.
	const batchSize = 100
	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}

		msgs, err := s.store.Find(ctx, &store.Query{
			Filters: []*store.Filter{
				store.InFolder(store.FolderTrash),
				store.UpdatedBefore(cutoff),
			},
			Limit: batchSize,
		})
		if err != nil {
			return result, fmt.Errorf("find expired trash: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		purgedAny := false
		for _, msg := range msgs {
			if ctx.Err() != nil {
				result.Interrupted = true
				return result, ctx.Err()
			}
			if err := s.purge(ctx, msg.GetOwnerID(), msg.GetID()); err != nil {
				s.logger.Warn("failed to purge expired trash message",
					"message_id", msg.GetID(), "owner_id", msg.GetOwnerID(), "error", err)
				continue
			}
			result.DeletedCount++
			purgedAny = true
		}
		// Every purge in the batch failed; bail out instead of spinning
		// on the same batch.
		if !purgedAny {
			break
		}
	}

	if result.DeletedCount > 0 {
		s.logger.Debug("purged expired trash messages", "count", result.DeletedCount)
	}
	return result, nil
}
