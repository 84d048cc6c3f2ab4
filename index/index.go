// Package index provides the search index fed asynchronously by the engine.
// The index trails the store: a freshly filed message may take a moment to
// become searchable, and a purged message is tombstoned so it can never
// reappear even if a stale upsert arrives after the removal.
package index

import (
	"context"
	"time"
)

// Entry is the indexed projection of a message.
type Entry struct {
	MessageID string
	OwnerID   string
	From      string
	Subject   string
	Body      string
	FolderID  string
	IsRead    bool
	IsStarred bool
	At        time.Time
}

// Op is an index operation kind.
type Op int

const (
	// OpUpsert inserts or replaces an entry.
	OpUpsert Op = iota
	// OpRemove deletes an entry and tombstones its id.
	OpRemove
)

// Update is one queued index change.
type Update struct {
	Op    Op
	Entry Entry
}

// Query selects entries. Zero fields are ignored; Contains matches subject
// or body, case insensitive.
type Query struct {
	OwnerID  string
	From     string
	Contains string
	FolderID string
	Read     *bool
	Starred  *bool
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Index applies updates asynchronously and serves queries over whatever has
// been applied so far.
type Index interface {
	// Apply enqueues an update. It returns once the update is queued, not
	// once it is visible.
	Apply(ctx context.Context, u Update) error

	// Search returns matching entries, newest first, plus the total match
	// count before pagination.
	Search(ctx context.Context, q Query) ([]Entry, int64, error)

	// Flush blocks until every update queued before the call is visible.
	Flush(ctx context.Context) error

	// Close stops the index after draining the queue.
	Close(ctx context.Context) error
}
