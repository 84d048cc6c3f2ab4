package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/virtmail/mailstore/store"
)

// Stats aggregates per-folder counts in a single pipeline pass.
func (s *Store) Stats(ctx context.Context, ownerID string) (*store.MailboxStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"owner_id": ownerID}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$folder_id",
			"total": bson.M{"$sum": 1},
			"unread": bson.M{"$sum": bson.M{
				"$cond": bson.A{"$is_read", 0, 1},
			}},
			"starred": bson.M{"$sum": bson.M{
				"$cond": bson.A{"$is_starred", 1, 0},
			}},
		}}},
	}

	cur, err := s.messages().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	defer cur.Close(ctx)

	stats := &store.MailboxStats{PerFolder: make(map[string]store.FolderStats)}
	for cur.Next(ctx) {
		var row struct {
			FolderID string `bson:"_id"`
			Total    int64  `bson:"total"`
			Unread   int64  `bson:"unread"`
			Starred  int64  `bson:"starred"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		stats.PerFolder[row.FolderID] = store.FolderStats{Total: row.Total, Unread: row.Unread}
		stats.Total += row.Total
		stats.Unread += row.Unread
		stats.Starred += row.Starred
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	return stats, nil
}
