package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/virtmail/mailstore/store"
)

type attachmentRow struct {
	ID          string    `db:"id"`
	OwnerID     string    `db:"owner_id"`
	Filename    string    `db:"filename"`
	ContentType string    `db:"content_type"`
	ContentHash string    `db:"content_hash"`
	Size        int64     `db:"size"`
	RefCount    int64     `db:"ref_count"`
	CreatedAt   time.Time `db:"created_at"`
}

// CreateAttachment stores attachment metadata with a zero reference count.
func (s *Store) CreateAttachment(ctx context.Context, meta store.AttachmentMeta) (store.AttachmentMeta, error) {
	if err := s.checkConnected(); err != nil {
		return store.AttachmentMeta{}, err
	}
	if meta.ID == "" || meta.OwnerID == "" {
		return store.AttachmentMeta{}, store.ErrInvalidID
	}
	if meta.ContentHash == "" {
		return store.AttachmentMeta{}, fmt.Errorf("%w: content hash required", store.ErrInvalidData)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.RefCount = 0
	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, filename, content_type, content_hash, size, ref_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`, s.attachments())
	_, err := s.db.ExecContext(ctx, query,
		meta.ID, meta.OwnerID, meta.Filename, meta.ContentType, meta.ContentHash, meta.Size, meta.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.AttachmentMeta{}, store.ErrAlreadyExists
		}
		return store.AttachmentMeta{}, fmt.Errorf("create attachment: %w", err)
	}
	return meta, nil
}

// GetAttachment returns attachment metadata by id.
func (s *Store) GetAttachment(ctx context.Context, id string) (store.AttachmentMeta, error) {
	if err := s.checkConnected(); err != nil {
		return store.AttachmentMeta{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, owner_id, filename, content_type, content_hash, size, ref_count, created_at
		FROM %s WHERE id = $1
	`, s.attachments())
	var row attachmentRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.AttachmentMeta{}, store.ErrNotFound
		}
		return store.AttachmentMeta{}, fmt.Errorf("get attachment: %w", err)
	}
	return store.AttachmentMeta(row), nil
}

// FindAttachmentByHash returns the owner's newest attachment with the given
// content hash.
func (s *Store) FindAttachmentByHash(ctx context.Context, ownerID, hash string) (store.AttachmentMeta, error) {
	if err := s.checkConnected(); err != nil {
		return store.AttachmentMeta{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, owner_id, filename, content_type, content_hash, size, ref_count, created_at
		FROM %s WHERE owner_id = $1 AND content_hash = $2
		ORDER BY created_at DESC LIMIT 1
	`, s.attachments())
	var row attachmentRow
	if err := s.db.GetContext(ctx, &row, query, ownerID, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.AttachmentMeta{}, store.ErrNotFound
		}
		return store.AttachmentMeta{}, fmt.Errorf("find attachment: %w", err)
	}
	return store.AttachmentMeta(row), nil
}

// AddAttachmentRef increments the reference count.
func (s *Store) AddAttachmentRef(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET ref_count = ref_count + 1 WHERE id = $1`, s.attachments())
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("add attachment ref: %w", err)
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

// ReleaseAttachmentRef decrements the reference count, deleting the record
// when it reaches zero. blobUnused is true only when no other record still
// shares the content hash, meaning the blob itself can be deleted.
func (s *Store) ReleaseAttachmentRef(ctx context.Context, id string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		SELECT id, owner_id, filename, content_type, content_hash, size, ref_count, created_at
		FROM %s WHERE id = $1 FOR UPDATE
	`, s.attachments())
	var row attachmentRow
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("get attachment: %w", err)
	}

	if row.RefCount > 1 {
		update := fmt.Sprintf(`UPDATE %s SET ref_count = ref_count - 1 WHERE id = $1`, s.attachments())
		if _, err := tx.ExecContext(ctx, update, id); err != nil {
			return false, fmt.Errorf("release attachment ref: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit: %w", err)
		}
		return false, nil
	}

	del := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.attachments())
	if _, err := tx.ExecContext(ctx, del, id); err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}

	shared := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE content_hash = $1`, s.attachments())
	var remaining int64
	if err := tx.GetContext(ctx, &remaining, shared, row.ContentHash); err != nil {
		return false, fmt.Errorf("count shared hash: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return remaining == 0, nil
}
