package mailstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/virtmail/mailstore/store"
)

// UploadAttachment stores the blob content-addressed and returns its
// metadata. Uploads whose content matches an existing blob of the same
// owner reuse it; the blob itself is written once per content hash.
//
// The returned attachment is unreferenced until a draft attaches it.
func (m *mailboxClient) UploadAttachment(ctx context.Context, filename, contentType string, r io.Reader) (store.AttachmentMeta, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return store.AttachmentMeta{}, err
	}
	if s.files == nil {
		return store.AttachmentMeta{}, ErrFileStoreRequired
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.UploadAttachment",
		attribute.String("attachment.filename", filename))

	meta, err := s.uploadAttachment(ctx, m.userID, filename, contentType, r)
	end(err)
	s.otel.record(ctx, opUpdate, start, err)
	return meta, err
}

func (s *service) uploadAttachment(ctx context.Context, ownerID, filename, contentType string, r io.Reader) (store.AttachmentMeta, error) {
	if strings.TrimSpace(filename) == "" {
		return store.AttachmentMeta{}, &ValidationError{Field: "Filename", Message: "must not be empty"}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Hash and buffer in one pass. Attachments are size-capped, so
	// buffering in memory is acceptable; the cap is checked before any
	// blob write happens.
	var buf bytes.Buffer
	hasher := sha256.New()
	limit := int64(s.opts.maxAttachmentSize)
	n, err := io.Copy(io.MultiWriter(&buf, hasher), io.LimitReader(r, limit+1))
	if err != nil {
		return store.AttachmentMeta{}, fmt.Errorf("read attachment: %w", err)
	}
	if n > limit {
		return store.AttachmentMeta{}, &ValidationError{
			Field:   "Content",
			Message: fmt.Sprintf("attachment too large, max %d bytes", limit),
		}
	}
	hash := hex.EncodeToString(hasher.Sum(nil))

	stored, err := s.files.Exists(ctx, hash)
	if err != nil {
		return store.AttachmentMeta{}, fmt.Errorf("check blob %s: %w", hash, err)
	}
	if !stored {
		if err := s.files.Put(ctx, hash, &buf, n, contentType); err != nil {
			return store.AttachmentMeta{}, fmt.Errorf("store blob %s: %w", hash, err)
		}
	}

	meta, err := s.store.CreateAttachment(ctx, store.AttachmentMeta{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Filename:    filename,
		ContentType: contentType,
		ContentHash: hash,
		Size:        n,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return store.AttachmentMeta{}, fmt.Errorf("create attachment: %w", err)
	}

	s.logger.Debug("attachment uploaded",
		"attachment_id", meta.ID, "owner_id", ownerID, "size", n, "deduplicated", stored)
	return meta, nil
}

// GetAttachment returns attachment metadata. Attachments of other owners
// read as not found.
func (m *mailboxClient) GetAttachment(ctx context.Context, attachmentID string) (store.AttachmentMeta, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return store.AttachmentMeta{}, err
	}
	return s.getOwnedAttachment(ctx, m.userID, attachmentID)
}

// OpenAttachment streams the attachment content. The caller closes the
// returned reader.
func (m *mailboxClient) OpenAttachment(ctx context.Context, attachmentID string) (io.ReadCloser, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, ErrFileStoreRequired
	}
	meta, err := s.getOwnedAttachment(ctx, m.userID, attachmentID)
	if err != nil {
		return nil, err
	}
	rc, err := s.files.Get(ctx, meta.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", meta.ContentHash, err)
	}
	return rc, nil
}

// adoptAttachments maps attachment ids onto records owned by the recipient,
// cloning metadata for ids owned by someone else. Delivered copies then
// reference recipient-owned records, so download access and reference counts
// stay scoped per mailbox while the blob is shared by content hash.
func (s *service) adoptAttachments(ctx context.Context, ownerID string, ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		meta, err := s.store.GetAttachment(ctx, id)
		if err != nil {
			s.logger.Warn("dropping unknown attachment on delivery",
				"attachment_id", id, "owner_id", ownerID, "error", err)
			continue
		}
		if meta.OwnerID == ownerID {
			out = append(out, id)
			continue
		}
		existing, err := s.store.FindAttachmentByHash(ctx, ownerID, meta.ContentHash)
		if err == nil {
			out = append(out, existing.ID)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("attachment lookup failed on delivery",
				"attachment_id", id, "owner_id", ownerID, "error", err)
			continue
		}
		clone, err := s.store.CreateAttachment(ctx, store.AttachmentMeta{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			Filename:    meta.Filename,
			ContentType: meta.ContentType,
			ContentHash: meta.ContentHash,
			Size:        meta.Size,
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("failed to clone attachment for recipient",
				"attachment_id", id, "owner_id", ownerID, "error", err)
			continue
		}
		out = append(out, clone.ID)
	}
	return out
}

func (s *service) getOwnedAttachment(ctx context.Context, ownerID, attachmentID string) (store.AttachmentMeta, error) {
	meta, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.AttachmentMeta{}, fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
		}
		return store.AttachmentMeta{}, fmt.Errorf("get attachment %s: %w", attachmentID, err)
	}
	if meta.OwnerID != ownerID {
		return store.AttachmentMeta{}, fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
	}
	return meta, nil
}
