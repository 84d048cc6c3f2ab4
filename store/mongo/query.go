package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/virtmail/mailstore/store"
)

// regexMetaChars matches regex metacharacters that need escaping.
var regexMetaChars = regexp.MustCompile(`[\\^$.|?*+()[\]{}]`)

func escapeRegex(s string) string {
	return regexMetaChars.ReplaceAllString(s, `\$0`)
}

// fieldKeys maps filterable fields to document keys.
var fieldKeys = map[store.MessageFieldKey]string{
	store.FieldID:          "_id",
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

	var m message
	if err := s.messages().FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
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

	filter, err := buildFilter(filters)
	if err != nil {
		return nil, err
	}
	order := 1
	if sortDesc {
		order = -1
	}
	// Secondary sort on _id makes pagination deterministic.
	findOpts := mongoopts.Find().
		SetSort(bson.D{{Key: fieldKeys[sortBy], Value: order}, {Key: "_id", Value: order}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	if offset > 0 {
		findOpts.SetSkip(int64(offset))
	}

	cursor, err := s.messages().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []store.Message
	for cursor.Next(ctx) {
		var m message
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, &m)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
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

	filter, err := buildFilter(filters)
	if err != nil {
		return 0, err
	}
	count, err := s.messages().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// buildFilter translates filters into a bson document. Conditions combine
// with $and so repeated fields, such as a created_at range, work.
func buildFilter(filters []*store.Filter) (bson.M, error) {
	if len(filters) == 0 {
		return bson.M{}, nil
	}
	conds := make([]bson.M, 0, len(filters))
	for _, f := range filters {
		key, ok := fieldKeys[f.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", store.ErrInvalidFilter, f.Key)
		}
		var cond any
		switch f.Operator {
		case store.OpEqual:
			cond = f.Value
		case store.OpNotEqual:
			cond = bson.M{"$ne": f.Value}
		case store.OpGreaterThan:
			cond = bson.M{"$gt": f.Value}
		case store.OpGreaterEq:
			cond = bson.M{"$gte": f.Value}
		case store.OpLessThan:
			cond = bson.M{"$lt": f.Value}
		case store.OpLessEq:
			cond = bson.M{"$lte": f.Value}
		case store.OpIn:
			cond = bson.M{"$in": f.Value}
		case store.OpNotIn:
			cond = bson.M{"$nin": f.Value}
		case store.OpContains:
			cond = bson.M{"$regex": escapeRegex(fmt.Sprint(f.Value)), "$options": "i"}
		default:
			return nil, fmt.Errorf("%w: operator %q", store.ErrInvalidFilter, f.Operator)
		}
		conds = append(conds, bson.M{key: cond})
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return bson.M{"$and": conds}, nil
}
