package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/virtmail/mailstore/store"
)

// folderRow is one row of the folders table.
type folderRow struct {
	OwnerID   string    `db:"owner_id"`
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	IsSystem  bool      `db:"is_system"`
	CreatedAt time.Time `db:"created_at"`
}

func (f folderRow) toFolder() store.Folder {
	return store.Folder{
		ID:        f.ID,
		OwnerID:   f.OwnerID,
		Name:      f.Name,
		IsSystem:  f.IsSystem,
		CreatedAt: f.CreatedAt,
	}
}

// EnsureSystemFolders creates any missing system folders for the owner.
func (s *Store) EnsureSystemFolders(ctx context.Context, ownerID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if ownerID == "" {
		return store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (owner_id, id, name, is_system)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (owner_id, id) DO NOTHING
	`, s.folders())
	for _, id := range store.SystemFolderIDs {
		if _, err := s.db.ExecContext(ctx, query, ownerID, id, store.SystemFolderName(id)); err != nil {
			return fmt.Errorf("ensure system folder %s: %w", id, err)
		}
	}
	return nil
}

// CreateFolder creates a user folder.
func (s *Store) CreateFolder(ctx context.Context, ownerID, id, name string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	if ownerID == "" || id == "" {
		return store.Folder{}, store.ErrInvalidID
	}
	if !store.IsValidFolderID(id) || store.IsSystemFolderID(id) {
		return store.Folder{}, fmt.Errorf("%w: %q", store.ErrInvalidFolder, id)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (owner_id, id, name, is_system)
		VALUES ($1, $2, $3, FALSE)
	`, s.folders())
	if _, err := s.db.ExecContext(ctx, query, ownerID, id, name); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return store.Folder{}, store.ErrAlreadyExists
		}
		return store.Folder{}, fmt.Errorf("create folder: %w", err)
	}
	return s.GetFolder(ctx, ownerID, id)
}

// GetFolder returns a folder by id.
func (s *Store) GetFolder(ctx context.Context, ownerID, id string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT owner_id, id, name, is_system, created_at
		FROM %s WHERE owner_id = $1 AND id = $2
	`, s.folders())
	var row folderRow
	if err := s.db.GetContext(ctx, &row, query, ownerID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Folder{}, store.ErrNotFound
		}
		return store.Folder{}, fmt.Errorf("get folder: %w", err)
	}
	return row.toFolder(), nil
}

// ListFolders returns all folders for the owner, system folders first.
func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT owner_id, id, name, is_system, created_at
		FROM %s WHERE owner_id = $1
		ORDER BY is_system DESC, name ASC
	`, s.folders())
	var rows []folderRow
	if err := s.db.SelectContext(ctx, &rows, query, ownerID); err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	out := make([]store.Folder, len(rows))
	for i, row := range rows {
		out[i] = row.toFolder()
	}
	return out, nil
}

// RenameFolder renames a user folder.
func (s *Store) RenameFolder(ctx context.Context, ownerID, id, name string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	if store.IsSystemFolderID(id) {
		return store.Folder{}, store.ErrSystemFolder
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET name = $1
		WHERE owner_id = $2 AND id = $3 AND NOT is_system
	`, s.folders())
	res, err := s.db.ExecContext(ctx, query, name, ownerID, id)
	if err != nil {
		return store.Folder{}, fmt.Errorf("rename folder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Folder{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.Folder{}, store.ErrNotFound
	}
	return s.GetFolder(ctx, ownerID, id)
}

// DeleteFolder removes an empty user folder.
func (s *Store) DeleteFolder(ctx context.Context, ownerID, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if store.IsSystemFolderID(id) {
		return store.ErrSystemFolder
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	count := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE owner_id = $1 AND folder_id = $2`, s.messages())
	var n int64
	if err := s.db.GetContext(ctx, &n, count, ownerID, id); err != nil {
		return fmt.Errorf("count folder messages: %w", err)
	}
	if n > 0 {
		return store.ErrFolderNotEmpty
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE owner_id = $1 AND id = $2 AND NOT is_system`, s.folders())
	res, err := s.db.ExecContext(ctx, query, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
