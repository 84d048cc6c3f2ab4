package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/virtmail/mailstore/store"
)

type attachmentDoc struct {
	ID          string    `bson:"_id"`
	OwnerID     string    `bson:"owner_id"`
	Filename    string    `bson:"filename"`
	ContentType string    `bson:"content_type"`
	ContentHash string    `bson:"content_hash"`
	Size        int64     `bson:"size"`
	RefCount    int64     `bson:"ref_count"`
	CreatedAt   time.Time `bson:"created_at"`
}

// CreateAttachment records attachment metadata with a zero reference count.
func (s *Store) CreateAttachment(ctx context.Context, meta store.AttachmentMeta) (store.AttachmentMeta, error) {
	if err := s.checkConnected(); err != nil {
		return store.AttachmentMeta{}, err
	}
	if meta.ID == "" || meta.OwnerID == "" || meta.ContentHash == "" {
		return store.AttachmentMeta{}, fmt.Errorf("%w: attachment id, owner and hash required", store.ErrInvalidData)
	}
	meta.RefCount = 0
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.attachments().InsertOne(ctx, attachmentDoc(meta)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.AttachmentMeta{}, fmt.Errorf("attachment %s: %w", meta.ID, store.ErrAlreadyExists)
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

	var d attachmentDoc
	err := s.attachments().FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.AttachmentMeta{}, store.ErrNotFound
	}
	if err != nil {
		return store.AttachmentMeta{}, fmt.Errorf("get attachment: %w", err)
	}
	return store.AttachmentMeta(d), nil
}

// FindAttachmentByHash returns the owner's newest attachment with the hash.
func (s *Store) FindAttachmentByHash(ctx context.Context, ownerID, hash string) (store.AttachmentMeta, error) {
	if err := s.checkConnected(); err != nil {
		return store.AttachmentMeta{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"owner_id": ownerID, "content_hash": hash}
	opts := mongoopts.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var d attachmentDoc
	err := s.attachments().FindOne(ctx, filter, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.AttachmentMeta{}, store.ErrNotFound
	}
	if err != nil {
		return store.AttachmentMeta{}, fmt.Errorf("find attachment: %w", err)
	}
	return store.AttachmentMeta(d), nil
}

// AddAttachmentRef increments the reference count.
func (s *Store) AddAttachmentRef(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.attachments().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"ref_count": 1}})
	if err != nil {
		return fmt.Errorf("add attachment ref: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReleaseAttachmentRef decrements the reference count and deletes the
// record when it reaches zero. blobUnused reports that no remaining record
// shares the content hash.
func (s *Store) ReleaseAttachmentRef(ctx context.Context, id string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// Decrement only while the count is above one. A matched update means
	// other references remain and the record stays.
	res, err := s.attachments().UpdateOne(ctx,
		bson.M{"_id": id, "ref_count": bson.M{"$gt": 1}},
		bson.M{"$inc": bson.M{"ref_count": -1}})
	if err != nil {
		return false, fmt.Errorf("release attachment ref: %w", err)
	}
	if res.MatchedCount > 0 {
		return false, nil
	}

	var d attachmentDoc
	err = s.attachments().FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}

	n, err := s.attachments().CountDocuments(ctx, bson.M{"content_hash": d.ContentHash})
	if err != nil {
		return false, fmt.Errorf("count attachment hash: %w", err)
	}
	return n == 0, nil
}
