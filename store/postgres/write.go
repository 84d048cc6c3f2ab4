package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/virtmail/mailstore/store"
)

// mutate runs one versioned UPDATE. set must include "version = version + 1"
// and "updated_at = NOW()"; the WHERE clause pins id and version so a stale
// caller observes ErrConflict.
func (s *Store) mutate(ctx context.Context, id string, version int64, set string, args ...any) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	idIdx := len(args) + 1
	query := fmt.Sprintf(`
		UPDATE %s
		SET %s, version = version + 1, updated_at = NOW()
		WHERE id = $%d AND version = $%d
		RETURNING %s
	`, s.messages(), set, idIdx, idIdx+1, messageColumns)
	args = append(args, id, version)

	var m message
	err := s.db.GetContext(ctx, &m, query, args...)
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update message: %w", err)
	}

	// No row matched: either the message is gone or the version is stale.
	exists := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = $1`, s.messages())
	var n int64
	if err := s.db.GetContext(ctx, &n, exists, id); err != nil {
		return nil, fmt.Errorf("check message: %w", err)
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrConflict
}

// SetFlags updates the read and starred flags.
func (s *Store) SetFlags(ctx context.Context, id string, version int64, read, starred *bool) (store.Message, error) {
	set := "is_read = COALESCE($1, is_read), is_starred = COALESCE($2, is_starred)"
	return s.mutate(ctx, id, version, set, nullBool(read), nullBool(starred))
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// MoveToFolder moves the message, maintaining the prior folder marker for
// the trash overlay.
func (s *Store) MoveToFolder(ctx context.Context, id string, version int64, folderID string) (store.Message, error) {
	if !store.IsValidFolderID(folderID) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidFolder, folderID)
	}
	// Entering trash records where the message came from; any other move
	// clears the marker.
	set := fmt.Sprintf(`
		prior_folder_id = CASE WHEN $1 = '%[1]s' AND folder_id != '%[1]s' THEN folder_id ELSE '' END,
		folder_id = $1
	`, store.FolderTrash)
	return s.mutate(ctx, id, version, set, folderID)
}

// SetState transitions the lifecycle state.
func (s *Store) SetState(ctx context.Context, id string, version int64, state store.MessageState, failureReason string) (store.Message, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: state %q", store.ErrInvalidData, state)
	}
	if state != store.StateSendFailed {
		failureReason = ""
	}
	set := fmt.Sprintf(`
		state = $1,
		failure_reason = $2,
		sent_at = CASE WHEN $1 = '%s' THEN NOW() ELSE sent_at END
	`, store.StateSent)
	return s.mutate(ctx, id, version, set, state, failureReason)
}

// UpdateDraft rewrites draft content. Non-draft rows reject the update.
func (s *Store) UpdateDraft(ctx context.Context, id string, version int64, upd store.DraftUpdate) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.GetState() != store.StateDraft {
		return nil, fmt.Errorf("%w: message %s is not a draft", store.ErrInvalidData, id)
	}

	set := `
		to_addrs = COALESCE($1, to_addrs),
		cc_addrs = COALESCE($2, cc_addrs),
		bcc_addrs = COALESCE($3, bcc_addrs),
		subject = COALESCE($4, subject),
		body = COALESCE($5, body),
		attachment_ids = COALESCE($6, attachment_ids)
	`
	m, err := s.mutate(ctx, id, version, set,
		nullArray(upd.To), nullArray(upd.Cc), nullArray(upd.Bcc),
		nullString(upd.Subject), nullString(upd.Body), nullArray(upd.AttachmentIDs))
	if err != nil {
		return nil, err
	}
	// The state check above raced only against other draft updates; a
	// concurrent send bumps the version and surfaces as ErrConflict.
	return m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullArray returns NULL for a nil slice so COALESCE keeps the stored
// value, and a pq array otherwise.
func nullArray(v []string) any {
	if v == nil {
		return nil
	}
	return pq.Array(v)
}

// HardDelete permanently removes the message. The delivery key row, if
// any, stays behind to keep redelivery idempotent.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.messages())
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
