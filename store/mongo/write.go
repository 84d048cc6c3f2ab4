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

// mutate runs one versioned FindOneAndUpdate. The filter pins id and
// version so a stale caller observes ErrConflict; update must bump the
// version and updated_at.
func (s *Store) mutate(ctx context.Context, id string, version int64, update bson.M) (store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	set, _ := update["$set"].(bson.M)
	if set == nil {
		set = bson.M{}
	}
	set["updated_at"] = time.Now().UTC()
	update["$set"] = set
	if _, ok := update["$inc"]; !ok {
		update["$inc"] = bson.M{"version": 1}
	}

	filter := bson.M{"_id": id, "version": version}
	opts := mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After)

	var m message
	err := s.messages().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update message: %w", err)
	}

	// No document matched: either the message is gone or the version is
	// stale.
	n, err := s.messages().CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("check message: %w", err)
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrConflict
}

// SetFlags updates the read and starred flags.
func (s *Store) SetFlags(ctx context.Context, id string, version int64, read, starred *bool) (store.Message, error) {
	set := bson.M{}
	if read != nil {
		set["is_read"] = *read
	}
	if starred != nil {
		set["is_starred"] = *starred
	}
	return s.mutate(ctx, id, version, bson.M{"$set": set})
}

// MoveToFolder moves the message, maintaining the prior folder marker for
// the trash overlay.
func (s *Store) MoveToFolder(ctx context.Context, id string, version int64, folderID string) (store.Message, error) {
	if !store.IsValidFolderID(folderID) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidFolder, folderID)
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prior := ""
	if folderID == store.FolderTrash && cur.GetFolderID() != store.FolderTrash {
		prior = cur.GetFolderID()
	}
	set := bson.M{"folder_id": folderID, "prior_folder_id": prior}
	// The version filter in mutate makes the read-then-update race safe:
	// a concurrent mutation bumps the version and this call conflicts.
	return s.mutate(ctx, id, version, bson.M{"$set": set})
}

// SetState transitions the lifecycle state.
func (s *Store) SetState(ctx context.Context, id string, version int64, state store.MessageState, failureReason string) (store.Message, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: state %q", store.ErrInvalidData, state)
	}
	if state != store.StateSendFailed {
		failureReason = ""
	}
	set := bson.M{"state": state, "failure_reason": failureReason}
	if state == store.StateSent {
		set["sent_at"] = time.Now().UTC()
	}
	return s.mutate(ctx, id, version, bson.M{"$set": set})
}

// UpdateDraft rewrites draft content. Non-draft documents reject the
// update.
func (s *Store) UpdateDraft(ctx context.Context, id string, version int64, upd store.DraftUpdate) (store.Message, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.GetState() != store.StateDraft {
		return nil, fmt.Errorf("%w: message %s is not a draft", store.ErrInvalidData, id)
	}

	set := bson.M{}
	if upd.To != nil {
		set["to_addrs"] = upd.To
	}
	if upd.Cc != nil {
		set["cc_addrs"] = upd.Cc
	}
	if upd.Bcc != nil {
		set["bcc_addrs"] = upd.Bcc
	}
	if upd.Subject != nil {
		set["subject"] = *upd.Subject
	}
	if upd.Body != nil {
		set["body"] = *upd.Body
	}
	if upd.AttachmentIDs != nil {
		set["attachment_ids"] = upd.AttachmentIDs
	}
	return s.mutate(ctx, id, version, bson.M{"$set": set})
}

// HardDelete permanently removes the message. The delivery key document,
// if any, stays behind to keep redelivery idempotent.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.messages().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
