// Package store defines the persistence contracts for the mail store. It
// carries no business rules beyond record-level invariants; lifecycle and
// routing policy live in the root package.
package store

import "context"

// MessageReader reads messages.
type MessageReader interface {
	// Get returns a message by id, ErrNotFound if absent.
	Get(ctx context.Context, id string) (Message, error)
	// Find returns messages matching the query.
	Find(ctx context.Context, q *Query) ([]Message, error)
	// Count returns the number of messages matching the filters.
	Count(ctx context.Context, filters ...*Filter) (int64, error)
}

// MessageCreator creates messages.
type MessageCreator interface {
	// Create stores a new message with Version 1.
	Create(ctx context.Context, data MessageData) (Message, error)

	// CreateIdempotent stores a new message unless one with the same
	// (OwnerID, deliveryKey) already exists, in which case the existing
	// message is returned with created=false. Backends must enforce the
	// uniqueness atomically.
	CreateIdempotent(ctx context.Context, data MessageData, deliveryKey string) (msg Message, created bool, err error)
}

// MessageMutator applies versioned mutations. Every method takes the version
// the caller last observed and returns ErrConflict if the stored version
// differs; on success the returned message carries the incremented version.
type MessageMutator interface {
	// SetFlags updates the read and starred flags. Nil pointers leave the
	// corresponding flag unchanged.
	SetFlags(ctx context.Context, id string, version int64, read, starred *bool) (Message, error)

	// MoveToFolder moves the message. Moving into FolderTrash records the
	// current folder as the prior folder; moving out clears it.
	MoveToFolder(ctx context.Context, id string, version int64, folderID string) (Message, error)

	// SetState transitions the lifecycle state. failureReason is stored
	// only for StateSendFailed and cleared otherwise. SentAt is stamped
	// when entering StateSent.
	SetState(ctx context.Context, id string, version int64, state MessageState, failureReason string) (Message, error)

	// UpdateDraft rewrites draft content. Backends reject the update with
	// ErrInvalidData if the stored state is not StateDraft.
	UpdateDraft(ctx context.Context, id string, version int64, upd DraftUpdate) (Message, error)

	// HardDelete permanently removes the message. ErrNotFound if absent.
	HardDelete(ctx context.Context, id string) error
}

// MessageStore combines the message operations.
type MessageStore interface {
	MessageReader
	MessageCreator
	MessageMutator
}

// Store is the full persistence contract a backend implements.
type Store interface {
	MessageStore
	FolderStore
	IdentityStore
	ActivityStore
	AttachmentMetadataStore
	StatsStore

	// Connect prepares the backend (schema, indexes, connections).
	Connect(ctx context.Context) error
	// Close releases backend resources.
	Close(ctx context.Context) error
}
