package mailstore

import (
	"context"
	"time"

	"github.com/virtmail/mailstore/store"
)

// recordActivity appends one audit entry. The audit trail is best effort
// relative to the operation it describes: a failed append is logged, never
// surfaced, so an audit outage cannot block mail flow.
func (s *service) recordActivity(ctx context.Context, ownerID, actor, action, targetID, outcome, detail string) {
	// Every recorded mutation makes cached counters stale.
	s.invalidateStats(ownerID)
	err := s.store.AppendActivity(ctx, store.ActivityEntry{
		OwnerID:  ownerID,
		Actor:    actor,
		Action:   action,
		TargetID: targetID,
		Outcome:  outcome,
		Detail:   detail,
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to record activity",
			"owner_id", ownerID, "action", action, "target_id", targetID, "error", err)
	}
}

// Activity returns the mailbox audit trail, newest first.
func (m *mailboxClient) Activity(ctx context.Context, limit, offset int) ([]store.ActivityEntry, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, m.userID, s.clampLimit(limit), offset)
}
