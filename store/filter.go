package store

import (
	"fmt"
	"time"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEqual       Operator = "eq"
	OpNotEqual    Operator = "ne"
	OpGreaterThan Operator = "gt"
	OpGreaterEq   Operator = "gte"
	OpLessThan    Operator = "lt"
	OpLessEq      Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "nin"
	OpContains    Operator = "contains"
)

// MessageFieldKey names a filterable message field.
type MessageFieldKey string

const (
	FieldID          MessageFieldKey = "ID"
	FieldOwnerID     MessageFieldKey = "OwnerID"
	FieldFrom        MessageFieldKey = "From"
	FieldSubject     MessageFieldKey = "Subject"
	FieldBody        MessageFieldKey = "Body"
	FieldFolderID    MessageFieldKey = "FolderID"
	FieldState       MessageFieldKey = "State"
	FieldDirection   MessageFieldKey = "Direction"
	FieldIsRead      MessageFieldKey = "IsRead"
	FieldIsStarred   MessageFieldKey = "IsStarred"
	FieldDeliveryKey MessageFieldKey = "DeliveryKey"
	FieldCreatedAt   MessageFieldKey = "CreatedAt"
	FieldUpdatedAt   MessageFieldKey = "UpdatedAt"
)

var validFields = map[MessageFieldKey]bool{
	FieldID: true, FieldOwnerID: true, FieldFrom: true, FieldSubject: true,
	FieldBody: true, FieldFolderID: true, FieldState: true, FieldDirection: true,
	FieldIsRead: true, FieldIsStarred: true, FieldDeliveryKey: true,
	FieldCreatedAt: true, FieldUpdatedAt: true,
}

// Filter is a single field comparison. Build filters with MessageFilter or
// the convenience constructors below.
type Filter struct {
	Key      MessageFieldKey
	Operator Operator
	Value    any
}

// Validate reports whether the filter targets a known field with a known
// operator.
func (f *Filter) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil filter", ErrInvalidFilter)
	}
	if !validFields[f.Key] {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, f.Key)
	}
	switch f.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEq, OpLessThan, OpLessEq,
		OpIn, OpNotIn, OpContains:
		return nil
	}
	return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Operator)
}

// FilterBuilder builds a Filter for one field.
type FilterBuilder struct {
	key MessageFieldKey
}

// MessageFilter starts a filter on the named field.
func MessageFilter(key MessageFieldKey) *FilterBuilder {
	return &FilterBuilder{key: key}
}

func (b *FilterBuilder) build(op Operator, v any) *Filter {
	return &Filter{Key: b.key, Operator: op, Value: v}
}

func (b *FilterBuilder) Equal(v any) *Filter       { return b.build(OpEqual, v) }
func (b *FilterBuilder) NotEqual(v any) *Filter    { return b.build(OpNotEqual, v) }
func (b *FilterBuilder) GreaterThan(v any) *Filter { return b.build(OpGreaterThan, v) }
func (b *FilterBuilder) GreaterEq(v any) *Filter   { return b.build(OpGreaterEq, v) }
func (b *FilterBuilder) LessThan(v any) *Filter    { return b.build(OpLessThan, v) }
func (b *FilterBuilder) LessEq(v any) *Filter      { return b.build(OpLessEq, v) }
func (b *FilterBuilder) In(v ...any) *Filter       { return b.build(OpIn, v) }
func (b *FilterBuilder) NotIn(v ...any) *Filter    { return b.build(OpNotIn, v) }
func (b *FilterBuilder) Contains(v string) *Filter { return b.build(OpContains, v) }

// Convenience constructors for the common query shapes.

// OwnerIs filters messages by mailbox owner.
func OwnerIs(ownerID string) *Filter {
	return MessageFilter(FieldOwnerID).Equal(ownerID)
}

// InFolder filters messages by folder.
func InFolder(folderID string) *Filter {
	return MessageFilter(FieldFolderID).Equal(folderID)
}

// NotInTrash excludes trashed messages.
func NotInTrash() *Filter {
	return MessageFilter(FieldFolderID).NotEqual(FolderTrash)
}

// StateIs filters messages by lifecycle state.
func StateIs(state MessageState) *Filter {
	return MessageFilter(FieldState).Equal(string(state))
}

// IsUnread selects unread messages.
func IsUnread() *Filter {
	return MessageFilter(FieldIsRead).Equal(false)
}

// IsStarred selects starred messages.
func IsStarred() *Filter {
	return MessageFilter(FieldIsStarred).Equal(true)
}

// UpdatedBefore selects messages last touched before t.
func UpdatedBefore(t time.Time) *Filter {
	return MessageFilter(FieldUpdatedAt).LessThan(t)
}

// Query bundles filters with ordering and pagination for Find.
type Query struct {
	Filters  []*Filter
	SortBy   MessageFieldKey
	SortDesc bool
	Limit    int
	Offset   int
}

// Validate checks every filter and the sort field.
func (q *Query) Validate() error {
	if q == nil {
		return nil
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	if q.SortBy != "" && !validFields[q.SortBy] {
		return fmt.Errorf("%w: unknown sort field %q", ErrInvalidFilter, q.SortBy)
	}
	return nil
}
