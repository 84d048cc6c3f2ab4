package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/virtmail/mailstore/store"
)

type activityDoc struct {
	ID       bson.ObjectID `bson:"_id,omitempty"`
	OwnerID  string        `bson:"owner_id"`
	Actor    string        `bson:"actor"`
	Action   string        `bson:"action"`
	TargetID string        `bson:"target_id,omitempty"`
	Outcome  string        `bson:"outcome"`
	Detail   string        `bson:"detail,omitempty"`
	At       time.Time     `bson:"at"`
}

// AppendActivity records one immutable audit entry.
func (s *Store) AppendActivity(ctx context.Context, e store.ActivityEntry) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if e.OwnerID == "" || e.Action == "" {
		return fmt.Errorf("%w: activity owner and action required", store.ErrInvalidData)
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	doc := activityDoc{
		OwnerID:  e.OwnerID,
		Actor:    e.Actor,
		Action:   e.Action,
		TargetID: e.TargetID,
		Outcome:  e.Outcome,
		Detail:   e.Detail,
		At:       e.At,
	}
	if _, err := s.activity().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns the owner's entries, newest first.
func (s *Store) ListActivity(ctx context.Context, ownerID string, limit, offset int) ([]store.ActivityEntry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := mongoopts.Find().
		SetSort(bson.D{{Key: "at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cur, err := s.activity().Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer cur.Close(ctx)

	var out []store.ActivityEntry
	for cur.Next(ctx) {
		var d activityDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}
		out = append(out, store.ActivityEntry{
			ID:       d.ID.Hex(),
			OwnerID:  d.OwnerID,
			Actor:    d.Actor,
			Action:   d.Action,
			TargetID: d.TargetID,
			Outcome:  d.Outcome,
			Detail:   d.Detail,
			At:       d.At,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return out, nil
}
