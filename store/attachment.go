package store

import (
	"context"
	"io"
	"time"
)

// AttachmentMeta describes a stored attachment. Attachments are content
// addressed: ContentHash is the hex SHA-256 of the bytes and doubles as the
// blob key, so identical uploads share one blob.
type AttachmentMeta struct {
	ID          string
	OwnerID     string
	Filename    string
	ContentType string
	ContentHash string
	Size        int64
	RefCount    int64
	CreatedAt   time.Time
}

// AttachmentMetadataStore tracks attachment records and their reference
// counts. RefCount is the number of messages referencing the attachment,
// starting at zero for a fresh upload. The blob itself lives in a
// FileStore keyed by content hash.
type AttachmentMetadataStore interface {
	CreateAttachment(ctx context.Context, meta AttachmentMeta) (AttachmentMeta, error)
	GetAttachment(ctx context.Context, id string) (AttachmentMeta, error)
	// FindAttachmentByHash returns the owner's attachment with the given
	// content hash, or ErrNotFound.
	FindAttachmentByHash(ctx context.Context, ownerID, hash string) (AttachmentMeta, error)

	// AddAttachmentRef atomically increments the reference count.
	AddAttachmentRef(ctx context.Context, id string) error
	// ReleaseAttachmentRef atomically decrements the reference count and
	// deletes the record when it reaches zero. blobUnused reports that no
	// remaining record references the blob, so the caller may remove it
	// from the FileStore.
	ReleaseAttachmentRef(ctx context.Context, id string) (blobUnused bool, err error)
}

// FileStore stores attachment blobs. Keys are content hashes, so writes for
// an existing key may be treated as no-ops.
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
