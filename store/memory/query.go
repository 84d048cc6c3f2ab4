package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/virtmail/mailstore/store"
)

// Get returns a snapshot of the message.
func (s *Store) Get(ctx context.Context, id string) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	v, ok := s.messages.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.(*message).snapshot(), nil
}

// Find returns message snapshots matching q, sorted and paginated.
func (s *Store) Find(ctx context.Context, q *store.Query) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var matched []*message
	s.messages.Range(func(_, v any) bool {
		snap := v.(*message).snapshot()
		if q == nil || matchAll(snap, q.Filters) {
			matched = append(matched, snap)
		}
		return true
	})

	sortBy, desc := store.FieldCreatedAt, true
	if q != nil && q.SortBy != "" {
		sortBy, desc = q.SortBy, q.SortDesc
	}
	sort.Slice(matched, func(i, j int) bool {
		less := lessByField(matched[i], matched[j], sortBy)
		if desc {
			return !less && !sameByField(matched[i], matched[j], sortBy)
		}
		return less
	})

	if q != nil {
		if q.Offset > 0 {
			if q.Offset >= len(matched) {
				return nil, nil
			}
			matched = matched[q.Offset:]
		}
		if q.Limit > 0 && q.Limit < len(matched) {
			matched = matched[:q.Limit]
		}
	}

	out := make([]store.Message, len(matched))
	for i, m := range matched {
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
	var n int64
	s.messages.Range(func(_, v any) bool {
		if matchAll(v.(*message).snapshot(), filters) {
			n++
		}
		return true
	})
	return n, nil
}

func matchAll(m *message, filters []*store.Filter) bool {
	for _, f := range filters {
		if !match(m, f) {
			return false
		}
	}
	return true
}

func fieldValue(m *message, key store.MessageFieldKey) any {
	switch key {
	case store.FieldID:
		return m.id
	case store.FieldOwnerID:
		return m.ownerID
	case store.FieldFrom:
		return m.from
	case store.FieldSubject:
		return m.subject
	case store.FieldBody:
		return m.body
	case store.FieldFolderID:
		return m.folderID
	case store.FieldState:
		return string(m.state)
	case store.FieldDirection:
		return string(m.direction)
	case store.FieldIsRead:
		return m.isRead
	case store.FieldIsStarred:
		return m.isStarred
	case store.FieldDeliveryKey:
		return m.deliveryKey
	case store.FieldCreatedAt:
		return m.createdAt
	case store.FieldUpdatedAt:
		return m.updatedAt
	}
	return nil
}

func match(m *message, f *store.Filter) bool {
	val := fieldValue(m, f.Key)
	switch f.Operator {
	case store.OpEqual:
		return equalValues(val, f.Value)
	case store.OpNotEqual:
		return !equalValues(val, f.Value)
	case store.OpContains:
		s, ok1 := val.(string)
		sub, ok2 := f.Value.(string)
		return ok1 && ok2 && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	case store.OpIn:
		return inValues(val, f.Value)
	case store.OpNotIn:
		return !inValues(val, f.Value)
	case store.OpGreaterThan, store.OpGreaterEq, store.OpLessThan, store.OpLessEq:
		return compareOrdered(val, f.Value, f.Operator)
	}
	return false
}

func equalValues(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func inValues(val, set any) bool {
	items, ok := set.([]any)
	if !ok {
		return false
	}
	for _, it := range items {
		if equalValues(val, it) {
			return true
		}
	}
	return false
}

func compareOrdered(a, b any, op store.Operator) bool {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		switch op {
		case store.OpGreaterThan:
			return at.After(bt)
		case store.OpGreaterEq:
			return !at.Before(bt)
		case store.OpLessThan:
			return at.Before(bt)
		case store.OpLessEq:
			return !at.After(bt)
		}
		return false
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch op {
	case store.OpGreaterThan:
		return as > bs
	case store.OpGreaterEq:
		return as >= bs
	case store.OpLessThan:
		return as < bs
	case store.OpLessEq:
		return as <= bs
	}
	return false
}

func lessByField(a, b *message, key store.MessageFieldKey) bool {
	av, bv := fieldValue(a, key), fieldValue(b, key)
	if at, ok := av.(time.Time); ok {
		bt := bv.(time.Time)
		if at.Equal(bt) {
			return a.id < b.id
		}
		return at.Before(bt)
	}
	as, bs := fmt.Sprintf("%v", av), fmt.Sprintf("%v", bv)
	if as == bs {
		return a.id < b.id
	}
	return as < bs
}

func sameByField(a, b *message, key store.MessageFieldKey) bool {
	return !lessByField(a, b, key) && !lessByField(b, a, key)
}
