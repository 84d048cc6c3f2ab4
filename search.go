package mailstore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/virtmail/mailstore/index"
	"github.com/virtmail/mailstore/store"
)

// SearchQuery selects messages. Zero fields are ignored. Contains matches
// subject or body, case insensitive.
type SearchQuery struct {
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

// SearchResult is one page of search matches. Total counts every match in
// the index regardless of pagination.
type SearchResult struct {
	Messages []Message
	Total    int64
}

// Search runs the query against the search index and loads the matching
// messages. The index trails writes, so a message filed moments ago may
// not match yet; entries whose message has been purged in the meantime are
// skipped.
func (m *mailboxClient) Search(ctx context.Context, query SearchQuery) (*SearchResult, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.Search",
		attribute.String("folder.id", query.FolderID))

	entries, total, err := s.idx.Search(ctx, index.Query{
		OwnerID:  m.userID,
		From:     query.From,
		Contains: query.Contains,
		FolderID: query.FolderID,
		Read:     query.Read,
		Starred:  query.Starred,
		Since:    query.Since,
		Until:    query.Until,
		Limit:    s.clampLimit(query.Limit),
		Offset:   query.Offset,
	})
	if err != nil {
		end(err)
		s.otel.record(ctx, opSearch, start, err)
		return nil, err
	}

	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		msg, err := s.store.Get(ctx, e.MessageID)
		if errors.Is(err, store.ErrNotFound) {
			total--
			continue
		}
		if err != nil {
			end(err)
			s.otel.record(ctx, opSearch, start, err)
			return nil, err
		}
		if msg.GetOwnerID() != m.userID {
			total--
			continue
		}
		msgs = append(msgs, msg)
	}

	end(nil)
	s.otel.record(ctx, opSearch, start, nil)
	return &SearchResult{Messages: msgs, Total: total}, nil
}

// indexUpsert queues the message's projection into the search index. Index
// updates are fire and forget; the index converges on its own.
func (s *service) indexUpsert(ctx context.Context, msg store.Message) {
	at := msg.GetReceivedAt()
	if at.IsZero() {
		at = msg.GetCreatedAt()
	}
	err := s.idx.Apply(ctx, index.Update{
		Op: index.OpUpsert,
		Entry: index.Entry{
			MessageID: msg.GetID(),
			OwnerID:   msg.GetOwnerID(),
			From:      msg.GetFrom(),
			Subject:   msg.GetSubject(),
			Body:      msg.GetBody(),
			FolderID:  msg.GetFolderID(),
			IsRead:    msg.GetIsRead(),
			IsStarred: msg.GetIsStarred(),
			At:        at,
		},
	})
	if err != nil {
		s.logger.Warn("failed to queue index upsert",
			"message_id", msg.GetID(), "error", err)
	}
}

// indexRemove tombstones a purged message in the index.
func (s *service) indexRemove(ctx context.Context, ownerID, messageID string) {
	err := s.idx.Apply(ctx, index.Update{
		Op:    index.OpRemove,
		Entry: index.Entry{MessageID: messageID, OwnerID: ownerID},
	})
	if err != nil {
		s.logger.Warn("failed to queue index removal",
			"message_id", messageID, "error", err)
	}
}
