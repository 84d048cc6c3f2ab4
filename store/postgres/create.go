package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/virtmail/mailstore/store"
)

// sqlxExecer is satisfied by both *sqlx.DB and *sqlx.Tx.
type sqlxExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertMessage writes one new row with version 1 under the given id.
func (s *Store) insertMessage(ctx context.Context, q sqlxExecer, id string, data store.MessageData, deliveryKey string) (*message, error) {
	if data.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id required", store.ErrInvalidData)
	}
	if !data.State.Valid() {
		return nil, fmt.Errorf("%w: state %q", store.ErrInvalidData, data.State)
	}
	if !store.IsValidFolderID(data.FolderID) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidFolder, data.FolderID)
	}

	now := time.Now().UTC()
	m := &message{
		ID:            id,
		OwnerID:       data.OwnerID,
		FromAddr:      data.From,
		ToAddrs:       data.To,
		CcAddrs:       data.Cc,
		BccAddrs:      data.Bcc,
		Subject:       data.Subject,
		Body:          data.Body,
		FolderID:      data.FolderID,
		State:         data.State,
		Direction:     data.Direction,
		IsRead:        data.IsRead,
		IsStarred:     data.IsStarred,
		Version:       1,
		AttachmentIDs: data.AttachmentIDs,
		DeliveryKey:   deliveryKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !data.ReceivedAt.IsZero() {
		m.ReceivedAt = sql.NullTime{Time: data.ReceivedAt.UTC(), Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, from_addr, to_addrs, cc_addrs, bcc_addrs, subject, body,
			folder_id, prior_folder_id, state, direction, is_read, is_starred, version,
			attachment_ids, failure_reason, delivery_key, created_at, updated_at, sent_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $11, $12, $13, $14, $15, '', $16, $17, $18, NULL, $19)
	`, s.messages())

	_, err := q.ExecContext(ctx, query,
		m.ID, m.OwnerID, m.FromAddr, pq.Array([]string(m.ToAddrs)), pq.Array([]string(m.CcAddrs)),
		pq.Array([]string(m.BccAddrs)), m.Subject, m.Body, m.FolderID, m.State, m.Direction,
		m.IsRead, m.IsStarred, m.Version, pq.Array([]string(m.AttachmentIDs)), m.DeliveryKey,
		m.CreatedAt, m.UpdatedAt, m.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// Create stores a new message with version 1.
func (s *Store) Create(ctx context.Context, data store.MessageData) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.insertMessage(ctx, s.db, uuid.NewString(), data, "")
}

// CreateIdempotent stores a new message unless the delivery key was already
// used for this owner. The key row outlives the message, so a purged
// message never comes back through redelivery; in that case the existing
// key resolves to a missing row and ErrNotFound is returned.
func (s *Store) CreateIdempotent(ctx context.Context, data store.MessageData, deliveryKey string) (store.Message, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if deliveryKey == "" {
		return nil, false, fmt.Errorf("%w: delivery key required", store.ErrInvalidData)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	messageID := uuid.NewString()
	claim := fmt.Sprintf(`
		INSERT INTO %s (owner_id, delivery_key, message_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, delivery_key) DO NOTHING
	`, s.deliveryKeys())
	res, err := tx.ExecContext(ctx, claim, data.OwnerID, deliveryKey, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("claim delivery key: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	if claimed == 0 {
		// Key already used; return whichever message it points to.
		var existingID string
		lookup := fmt.Sprintf(`SELECT message_id FROM %s WHERE owner_id = $1 AND delivery_key = $2`, s.deliveryKeys())
		if err := tx.GetContext(ctx, &existingID, lookup, data.OwnerID, deliveryKey); err != nil {
			return nil, false, fmt.Errorf("lookup delivery key: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		msg, err := s.Get(ctx, existingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, fmt.Errorf("delivered message purged: %w", store.ErrNotFound)
			}
			return nil, false, err
		}
		return msg, false, nil
	}

	m, err := s.insertMessage(ctx, tx, messageID, data, deliveryKey)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return m, true, nil
}
