package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/virtmail/mailstore/store"
)

// fieldColumns maps filterable fields to their columns.
var fieldColumns = map[store.MessageFieldKey]string{
	store.FieldID:          "id",
	store.FieldOwnerID:     "owner_id",
	store.FieldFrom:        "from_addr",
	store.FieldSubject:     "subject",
	store.FieldBody:        "body",
	store.FieldFolderID:    "folder_id",
	store.FieldState:       "state",
	store.FieldDirection:   "direction",
	store.FieldIsRead:      "is_read",
	store.FieldIsStarred:   "is_starred",
	store.FieldDeliveryKey: "delivery_key",
	store.FieldCreatedAt:   "created_at",
	store.FieldUpdatedAt:   "updated_at",
}

// Get returns a message by id.
func (s *Store) Get(ctx context.Context, id string) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.messages())
	var m message
	if err := s.db.GetContext(ctx, &m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// Find returns messages matching the query, newest first by default.
func (s *Store) Find(ctx context.Context, q *store.Query) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var filters []*store.Filter
	limit, offset := 0, 0
	sortBy := store.FieldCreatedAt
	sortDesc := true
	if q != nil {
		filters = q.Filters
		limit, offset = q.Limit, q.Offset
		if q.SortBy != "" {
			sortBy = q.SortBy
			sortDesc = q.SortDesc
		}
	}

	where, args, err := buildWhere(filters)
	if err != nil {
		return nil, err
	}
	order := "ASC"
	if sortDesc {
		order = "DESC"
	}
	// Secondary sort on id makes pagination deterministic.
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY %s %s, id %s`,
		messageColumns, s.messages(), where, fieldColumns[sortBy], order, order)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, offset)
	}

	var rows []*message
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	out := make([]store.Message, len(rows))
	for i, m := range rows {
		out[i] = m
	}
	return out, nil
}

// Count returns the number of messages matching the filters.
func (s *Store) Count(ctx context.Context, filters ...*store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return 0, err
		}
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	where, args, err := buildWhere(filters)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.messages(), where)
	var count int64
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// buildWhere translates filters into a WHERE clause with positional args.
func buildWhere(filters []*store.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "TRUE", nil, nil
	}
	var conditions []string
	var args []any
	for _, f := range filters {
		col, ok := fieldColumns[f.Key]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", store.ErrInvalidFilter, f.Key)
		}
		idx := len(args) + 1
		switch f.Operator {
		case store.OpEqual:
			conditions = append(conditions, fmt.Sprintf("%s = $%d", col, idx))
			args = append(args, f.Value)
		case store.OpNotEqual:
			conditions = append(conditions, fmt.Sprintf("%s != $%d", col, idx))
			args = append(args, f.Value)
		case store.OpGreaterThan:
			conditions = append(conditions, fmt.Sprintf("%s > $%d", col, idx))
			args = append(args, f.Value)
		case store.OpGreaterEq:
			conditions = append(conditions, fmt.Sprintf("%s >= $%d", col, idx))
			args = append(args, f.Value)
		case store.OpLessThan:
			conditions = append(conditions, fmt.Sprintf("%s < $%d", col, idx))
			args = append(args, f.Value)
		case store.OpLessEq:
			conditions = append(conditions, fmt.Sprintf("%s <= $%d", col, idx))
			args = append(args, f.Value)
		case store.OpIn:
			conditions = append(conditions, fmt.Sprintf("%s = ANY($%d)", col, idx))
			args = append(args, pq.Array(f.Value))
		case store.OpNotIn:
			conditions = append(conditions, fmt.Sprintf("NOT (%s = ANY($%d))", col, idx))
			args = append(args, pq.Array(f.Value))
		case store.OpContains:
			conditions = append(conditions, fmt.Sprintf("%s ILIKE $%d", col, idx))
			args = append(args, "%"+escapeLike(fmt.Sprint(f.Value))+"%")
		default:
			return "", nil, fmt.Errorf("%w: operator %q", store.ErrInvalidFilter, f.Operator)
		}
	}
	return strings.Join(conditions, " AND "), args, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
