package store

import (
	"context"
	"time"
)

// Activity actions recorded in the audit trail.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionSend    = "send"
	ActionReceive = "receive"
	ActionMove    = "move"
	ActionFlag    = "flag"
	ActionTrash   = "trash"
	ActionRestore = "restore"
	ActionPurge   = "purge"
)

// Activity outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// ActivityEntry is one immutable audit record. Entries are append only and
// never updated or deleted.
type ActivityEntry struct {
	ID       string
	OwnerID  string
	Actor    string
	Action   string
	TargetID string
	Outcome  string
	Detail   string
	At       time.Time
}

// ActivityStore is the append-only audit trail.
type ActivityStore interface {
	AppendActivity(ctx context.Context, e ActivityEntry) error
	// ListActivity returns entries for the owner, newest first.
	ListActivity(ctx context.Context, ownerID string, limit, offset int) ([]ActivityEntry, error)
}
