package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/virtmail/mailstore/store"
)

type activityRow struct {
	ID       int64     `db:"id"`
	OwnerID  string    `db:"owner_id"`
	Actor    string    `db:"actor"`
	Action   string    `db:"action"`
	TargetID string    `db:"target_id"`
	Outcome  string    `db:"outcome"`
	Detail   string    `db:"detail"`
	At       time.Time `db:"at"`
}

// AppendActivity appends one audit record. Rows are never updated.
func (s *Store) AppendActivity(ctx context.Context, e store.ActivityEntry) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if e.OwnerID == "" {
		return store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (owner_id, actor, action, target_id, outcome, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.activity())
	if _, err := s.db.ExecContext(ctx, query, e.OwnerID, e.Actor, e.Action, e.TargetID, e.Outcome, e.Detail, e.At); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns audit records for the owner, newest first.
func (s *Store) ListActivity(ctx context.Context, ownerID string, limit, offset int) ([]store.ActivityEntry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
		SELECT id, owner_id, actor, action, target_id, outcome, detail, at
		FROM %s WHERE owner_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, s.activity())
	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, query, ownerID, limit, offset); err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	out := make([]store.ActivityEntry, len(rows))
	for i, r := range rows {
		out[i] = store.ActivityEntry{
			ID:       strconv.FormatInt(r.ID, 10),
			OwnerID:  r.OwnerID,
			Actor:    r.Actor,
			Action:   r.Action,
			TargetID: r.TargetID,
			Outcome:  r.Outcome,
			Detail:   r.Detail,
			At:       r.At,
		}
	}
	return out, nil
}
