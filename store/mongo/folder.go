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

type folderDoc struct {
	OwnerID   string    `bson:"owner_id"`
	FolderID  string    `bson:"folder_id"`
	Name      string    `bson:"name"`
	IsSystem  bool      `bson:"is_system"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d folderDoc) toFolder() store.Folder {
	return store.Folder{
		ID:        d.FolderID,
		OwnerID:   d.OwnerID,
		Name:      d.Name,
		IsSystem:  d.IsSystem,
		CreatedAt: d.CreatedAt,
	}
}

// EnsureSystemFolders upserts the four system folders for the owner.
func (s *Store) EnsureSystemFolders(ctx context.Context, ownerID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if ownerID == "" {
		return store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	for _, id := range store.SystemFolderIDs {
		filter := bson.M{"owner_id": ownerID, "folder_id": id}
		update := bson.M{"$setOnInsert": folderDoc{
			OwnerID:   ownerID,
			FolderID:  id,
			Name:      store.SystemFolderName(id),
			IsSystem:  true,
			CreatedAt: time.Now().UTC(),
		}}
		opts := mongoopts.UpdateOne().SetUpsert(true)
		if _, err := s.folders().UpdateOne(ctx, filter, update, opts); err != nil {
			return fmt.Errorf("ensure folder %s: %w", id, err)
		}
	}
	return nil
}

// CreateFolder creates a user folder.
func (s *Store) CreateFolder(ctx context.Context, ownerID, id, name string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	if ownerID == "" || !store.IsValidFolderID(id) {
		return store.Folder{}, fmt.Errorf("%w: %q", store.ErrInvalidFolder, id)
	}
	if store.IsSystemFolderID(id) {
		return store.Folder{}, fmt.Errorf("%w: %q", store.ErrInvalidFolder, id)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	doc := folderDoc{
		OwnerID:   ownerID,
		FolderID:  id,
		Name:      name,
		IsSystem:  false,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.folders().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.Folder{}, fmt.Errorf("folder %s: %w", id, store.ErrAlreadyExists)
		}
		return store.Folder{}, fmt.Errorf("create folder: %w", err)
	}
	return doc.toFolder(), nil
}

// GetFolder returns a folder by id.
func (s *Store) GetFolder(ctx context.Context, ownerID, id string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var d folderDoc
	err := s.folders().FindOne(ctx, bson.M{"owner_id": ownerID, "folder_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Folder{}, store.ErrNotFound
	}
	if err != nil {
		return store.Folder{}, fmt.Errorf("get folder: %w", err)
	}
	return d.toFolder(), nil
}

// ListFolders returns the owner's folders, system folders first.
func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := mongoopts.Find().SetSort(bson.D{{Key: "is_system", Value: -1}, {Key: "name", Value: 1}})
	cur, err := s.folders().Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer cur.Close(ctx)

	var out []store.Folder
	for cur.Next(ctx) {
		var d folderDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode folder: %w", err)
		}
		out = append(out, d.toFolder())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return out, nil
}

// RenameFolder renames a user folder.
func (s *Store) RenameFolder(ctx context.Context, ownerID, id, name string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	if store.IsSystemFolderID(id) {
		return store.Folder{}, fmt.Errorf("%w: %q", store.ErrSystemFolder, id)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"owner_id": ownerID, "folder_id": id, "is_system": false}
	res, err := s.folders().UpdateOne(ctx, filter, bson.M{"$set": bson.M{"name": name}})
	if err != nil {
		return store.Folder{}, fmt.Errorf("rename folder: %w", err)
	}
	if res.MatchedCount == 0 {
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
		return fmt.Errorf("%w: %q", store.ErrSystemFolder, id)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	n, err := s.messages().CountDocuments(ctx, bson.M{"owner_id": ownerID, "folder_id": id})
	if err != nil {
		return fmt.Errorf("count folder messages: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d messages remain", store.ErrFolderNotEmpty, n)
	}

	res, err := s.folders().DeleteOne(ctx, bson.M{"owner_id": ownerID, "folder_id": id, "is_system": false})
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
