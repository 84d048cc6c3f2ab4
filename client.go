package mailstore

import (
	"context"
	"io"

	"github.com/virtmail/mailstore/store"
)

// Message is the read view of a stored message.
type Message = store.Message

// MessageReader provides single message retrieval.
type MessageReader interface {
	Get(ctx context.Context, messageID string) (Message, error)
}

// MessageLister provides message listing by folder.
type MessageLister interface {
	// List returns messages in the given folder, newest first.
	List(ctx context.Context, folderID string, opts ListOptions) ([]Message, error)
	Inbox(ctx context.Context, opts ListOptions) ([]Message, error)
	Sent(ctx context.Context, opts ListOptions) ([]Message, error)
	ListTrash(ctx context.Context, opts ListOptions) ([]Message, error)
}

// MessageSearcher provides message search over the eventually consistent
// index.
type MessageSearcher interface {
	Search(ctx context.Context, query SearchQuery) (*SearchResult, error)
}

// DraftClient provides draft composition and submission.
type DraftClient interface {
	CreateDraft(ctx context.Context, data DraftData) (Message, error)
	UpdateDraft(ctx context.Context, messageID string, upd DraftUpdate) (Message, error)
	Drafts(ctx context.Context, opts ListOptions) ([]Message, error)
	// Send submits the draft. It returns once the message has entered
	// the sending state; delivery continues in the background and resolves
	// to sent or send_failed.
	Send(ctx context.Context, messageID string) (Message, error)
}

// MailboxMutator provides mutation operations on messages by ID.
type MailboxMutator interface {
	UpdateFlags(ctx context.Context, messageID string, flags Flags) (Message, error)
	Move(ctx context.Context, messageID string, folderID string) (Message, error)
	Trash(ctx context.Context, messageID string) (Message, error)
	Restore(ctx context.Context, messageID string) (Message, error)
	Purge(ctx context.Context, messageID string) error
	MarkAllRead(ctx context.Context, folderID string) (int64, error)
}

// BulkOperator provides bulk mutations by message IDs. Each call returns a
// BulkResult with per-ID success or failure; one bad id never aborts the
// rest.
type BulkOperator interface {
	BulkUpdateFlags(ctx context.Context, messageIDs []string, flags Flags) (*BulkResult, error)
	BulkMove(ctx context.Context, messageIDs []string, folderID string) (*BulkResult, error)
	BulkTrash(ctx context.Context, messageIDs []string) (*BulkResult, error)
	BulkPurge(ctx context.Context, messageIDs []string) (*BulkResult, error)
}

// FolderClient provides folder management.
type FolderClient interface {
	Folders(ctx context.Context) ([]FolderInfo, error)
	CreateFolder(ctx context.Context, folderID, name string) (store.Folder, error)
	RenameFolder(ctx context.Context, folderID, name string) (store.Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error
}

// AttachmentClient provides content-addressed attachment storage.
type AttachmentClient interface {
	// UploadAttachment stores the blob and returns its metadata. An
	// upload whose content matches an existing attachment of the same
	// owner reuses the stored blob.
	UploadAttachment(ctx context.Context, filename, contentType string, r io.Reader) (store.AttachmentMeta, error)
	// OpenAttachment streams the attachment content.
	OpenAttachment(ctx context.Context, attachmentID string) (io.ReadCloser, error)
	// GetAttachment returns attachment metadata.
	GetAttachment(ctx context.Context, attachmentID string) (store.AttachmentMeta, error)
}

// ActivityReader reads the mailbox audit trail.
type ActivityReader interface {
	Activity(ctx context.Context, limit, offset int) ([]store.ActivityEntry, error)
}

// StatsReader provides mailbox statistics.
type StatsReader interface {
	Stats(ctx context.Context) (*store.MailboxStats, error)
}

// FolderInfo describes a folder with its message counts.
type FolderInfo struct {
	ID           string
	Name         string
	IsSystem     bool
	MessageCount int64
	UnreadCount  int64
}

// Mailbox provides mail operations scoped to a single user.
//
// Composed of focused client interfaces:
//   - MessageReader, MessageLister, MessageSearcher: reads
//   - DraftClient: compose and send
//   - MailboxMutator: flags, moves, trash lifecycle
//   - BulkOperator: bulk mutations with per-id results
//   - FolderClient: folder management
//   - AttachmentClient: attachments
//   - ActivityReader, StatsReader: audit trail and counters
type Mailbox interface {
	UserID() string
	MessageReader
	MessageLister
	MessageSearcher
	DraftClient
	MailboxMutator
	BulkOperator
	FolderClient
	AttachmentClient
	ActivityReader
	StatsReader
}

// mailboxClient is the default Mailbox implementation. It carries no state
// of its own beyond the owner id.
type mailboxClient struct {
	service *service
	userID  string
}

var _ Mailbox = (*mailboxClient)(nil)

// Client returns a mailbox client for the given user.
func (s *service) Client(userID string) Mailbox {
	return &mailboxClient{service: s, userID: userID}
}

// UserID returns the owner this client is scoped to.
func (m *mailboxClient) UserID() string {
	return m.userID
}
