package mailstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// OperationResult is the outcome of a bulk operation for one message id.
type OperationResult struct {
	ID      string
	Success bool
	// Error is set when Success is false.
	Error error
	// Message is the updated message for mutations that return one.
	Message Message
}

// BulkResult aggregates per-id outcomes of a bulk operation.
type BulkResult struct {
	Results []OperationResult
}

// SuccessCount returns the number of ids that succeeded.
func (r *BulkResult) SuccessCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// FailureCount returns the number of ids that failed.
func (r *BulkResult) FailureCount() int {
	return len(r.Results) - r.SuccessCount()
}

// Err returns a BulkOperationError if any id failed, nil otherwise.
func (r *BulkResult) Err() error {
	failed := r.FailureCount()
	if failed == 0 {
		return nil
	}
	return &BulkOperationError{Failed: failed, Total: len(r.Results)}
}

// runBulk applies op to each id, collecting per-id outcomes. A failing id
// never aborts the rest; only context cancellation stops the loop early,
// marking the remaining ids as failed.
func (s *service) runBulk(ctx context.Context, op string, messageIDs []string, apply func(ctx context.Context, id string) (Message, error)) (*BulkResult, error) {
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.Bulk"+op,
		attribute.Int("bulk.count", len(messageIDs)))

	result := &BulkResult{Results: make([]OperationResult, 0, len(messageIDs))}
	var canceled error
	for _, id := range messageIDs {
		if canceled == nil {
			canceled = ctx.Err()
		}
		if canceled != nil {
			result.Results = append(result.Results, OperationResult{ID: id, Error: canceled})
			continue
		}
		msg, err := apply(ctx, id)
		result.Results = append(result.Results, OperationResult{
			ID:      id,
			Success: err == nil,
			Error:   err,
			Message: msg,
		})
	}

	err := result.Err()
	end(err)
	s.otel.record(ctx, opUpdate, start, err, attribute.String("bulk.op", op))
	return result, nil
}

// BulkUpdateFlags updates flags on each message, reporting per-id results.
func (m *mailboxClient) BulkUpdateFlags(ctx context.Context, messageIDs []string, flags Flags) (*BulkResult, error) {
	return m.service.runBulk(ctx, "UpdateFlags", messageIDs, func(ctx context.Context, id string) (Message, error) {
		return m.service.updateFlags(ctx, m.userID, id, flags)
	})
}

// BulkMove moves each message into the given folder, reporting per-id
// results. The folder is checked once up front.
func (m *mailboxClient) BulkMove(ctx context.Context, messageIDs []string, folderID string) (*BulkResult, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	if err := s.checkFolderExists(ctx, m.userID, folderID); err != nil {
		return nil, err
	}
	return s.runBulk(ctx, "Move", messageIDs, func(ctx context.Context, id string) (Message, error) {
		return s.move(ctx, m.userID, id, folderID)
	})
}

// BulkTrash moves each message to trash, reporting per-id results.
func (m *mailboxClient) BulkTrash(ctx context.Context, messageIDs []string) (*BulkResult, error) {
	return m.service.runBulk(ctx, "Trash", messageIDs, func(ctx context.Context, id string) (Message, error) {
		return m.service.trash(ctx, m.userID, id)
	})
}

// BulkPurge permanently deletes each trashed message, reporting per-id
// results. Ids that no longer exist count as success.
func (m *mailboxClient) BulkPurge(ctx context.Context, messageIDs []string) (*BulkResult, error) {
	return m.service.runBulk(ctx, "Purge", messageIDs, func(ctx context.Context, id string) (Message, error) {
		return nil, m.service.purge(ctx, m.userID, id)
	})
}
