package mailstore

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/virtmail/mailstore/store"
)

// ListOptions controls pagination and ordering for list queries.
type ListOptions struct {
	Limit  int
	Offset int
	// SortBy defaults to creation time.
	SortBy store.MessageFieldKey
	// Ascending flips the default newest-first order.
	Ascending bool
}

// clampLimit applies the configured default and maximum page sizes.
func (s *service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.opts.defaultQueryLimit
	}
	if limit > s.opts.maxQueryLimit {
		return s.opts.maxQueryLimit
	}
	return limit
}

// getOwned fetches a message and verifies ownership. Messages of other
// owners surface as not found so ids do not leak across mailboxes.
func (s *service) getOwned(ctx context.Context, ownerID, messageID string) (store.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrMessageNotFound)
	}
	msg, err := s.store.Get(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	if msg.GetOwnerID() != ownerID {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	return msg, nil
}

// Get returns a message by id.
func (m *mailboxClient) Get(ctx context.Context, messageID string) (Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	ctx, end := s.otel.startSpan(ctx, "mailstore.Get",
		attribute.String("message.id", messageID))
	msg, err := s.getOwned(ctx, m.userID, messageID)
	end(err)
	return msg, err
}

// List returns messages in the given folder, newest first by default.
func (m *mailboxClient) List(ctx context.Context, folderID string, opts ListOptions) ([]Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	if !store.IsValidFolderID(folderID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFolder, folderID)
	}

	ctx, end := s.otel.startSpan(ctx, "mailstore.List",
		attribute.String("folder.id", folderID))

	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = store.FieldCreatedAt
	}
	msgs, err := s.store.Find(ctx, &store.Query{
		Filters: []*store.Filter{
			store.OwnerIs(m.userID),
			store.InFolder(folderID),
		},
		SortBy:   sortBy,
		SortDesc: !opts.Ascending,
		Limit:    s.clampLimit(opts.Limit),
		Offset:   opts.Offset,
	})
	end(err)
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folderID, err)
	}
	return msgs, nil
}

// Inbox lists the inbox folder.
func (m *mailboxClient) Inbox(ctx context.Context, opts ListOptions) ([]Message, error) {
	return m.List(ctx, store.FolderInbox, opts)
}

// Sent lists the sent folder.
func (m *mailboxClient) Sent(ctx context.Context, opts ListOptions) ([]Message, error) {
	return m.List(ctx, store.FolderSent, opts)
}

// ListTrash lists the trash folder.
func (m *mailboxClient) ListTrash(ctx context.Context, opts ListOptions) ([]Message, error) {
	return m.List(ctx, store.FolderTrash, opts)
}

// Drafts lists the drafts folder.
func (m *mailboxClient) Drafts(ctx context.Context, opts ListOptions) ([]Message, error) {
	return m.List(ctx, store.FolderDrafts, opts)
}
