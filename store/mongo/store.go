// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/virtmail/mailstore/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	opts      *options
	connected atomic.Bool
	logger    *slog.Logger
}

// New creates a MongoDB store with the provided client. Call Connect to
// initialize collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect pings the deployment and creates indexes.
func (s *Store) Connect(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	s.db = s.client.Database(s.opts.database)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.connected.Store(true)
	s.logger.Info("connected to MongoDB", "database", s.opts.database)
	return nil
}

// Close marks the store as disconnected. The caller owns the client and
// disconnects it separately.
func (s *Store) Close(ctx context.Context) error {
	s.connected.Store(false)
	return nil
}

func (s *Store) checkConnected() error {
	if !s.connected.Load() {
		return store.ErrNotConnected
	}
	return nil
}

// opCtx bounds one operation with the configured timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.timeout)
}

// Collection helpers.
func (s *Store) messages() *mongo.Collection     { return s.db.Collection("messages") }
func (s *Store) deliveryKeys() *mongo.Collection { return s.db.Collection("delivery_keys") }
func (s *Store) folders() *mongo.Collection      { return s.db.Collection("folders") }
func (s *Store) domains() *mongo.Collection      { return s.db.Collection("domains") }
func (s *Store) users() *mongo.Collection        { return s.db.Collection("users") }
func (s *Store) aliases() *mongo.Collection      { return s.db.Collection("aliases") }
func (s *Store) activity() *mongo.Collection     { return s.db.Collection("activity") }
func (s *Store) attachments() *mongo.Collection  { return s.db.Collection("attachments") }

// ensureIndexes creates the indexes each collection relies on.
func (s *Store) ensureIndexes(ctx context.Context) error {
	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "folder_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "state", Value: 1}}},
		{Keys: bson.D{{Key: "folder_id", Value: 1}, {Key: "updated_at", Value: 1}}},
	}
	if _, err := s.messages().Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}

	// The unique key index is what makes idempotent filing atomic; the
	// documents outlive message deletion.
	keyIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "delivery_key", Value: 1}},
		Options: mongoopts.Index().SetUnique(true),
	}
	if _, err := s.deliveryKeys().Indexes().CreateOne(ctx, keyIndex); err != nil {
		return fmt.Errorf("delivery key index: %w", err)
	}

	folderIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "folder_id", Value: 1}},
		Options: mongoopts.Index().SetUnique(true),
	}
	if _, err := s.folders().Indexes().CreateOne(ctx, folderIndex); err != nil {
		return fmt.Errorf("folder index: %w", err)
	}

	unique := func(c *mongo.Collection, field string) error {
		idx := mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: mongoopts.Index().SetUnique(true),
		}
		_, err := c.Indexes().CreateOne(ctx, idx)
		return err
	}
	if err := unique(s.domains(), "name"); err != nil {
		return fmt.Errorf("domain index: %w", err)
	}
	if err := unique(s.users(), "address"); err != nil {
		return fmt.Errorf("user index: %w", err)
	}
	if err := unique(s.aliases(), "source"); err != nil {
		return fmt.Errorf("alias index: %w", err)
	}

	activityIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "at", Value: -1}},
	}
	if _, err := s.activity().Indexes().CreateOne(ctx, activityIndex); err != nil {
		return fmt.Errorf("activity index: %w", err)
	}

	attachmentIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "content_hash", Value: 1}}},
		{Keys: bson.D{{Key: "content_hash", Value: 1}}},
	}
	if _, err := s.attachments().Indexes().CreateMany(ctx, attachmentIndexes); err != nil {
		return fmt.Errorf("attachment indexes: %w", err)
	}
	return nil
}
