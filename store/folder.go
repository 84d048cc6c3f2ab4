package store

import (
	"context"
	"time"
)

// Folder is a mailbox folder. System folders share an id across all owners
// and cannot be renamed or deleted.
type Folder struct {
	ID        string
	OwnerID   string
	Name      string
	IsSystem  bool
	CreatedAt time.Time
}

// SystemFolderName returns the display name for a system folder id.
func SystemFolderName(id string) string {
	switch id {
	case FolderInbox:
		return "Inbox"
	case FolderSent:
		return "Sent"
	case FolderDrafts:
		return "Drafts"
	case FolderTrash:
		return "Trash"
	}
	return ""
}

// FolderStore manages per-owner folders.
type FolderStore interface {
	// EnsureSystemFolders creates any missing system folders for the owner.
	// It is idempotent.
	EnsureSystemFolders(ctx context.Context, ownerID string) error

	// CreateFolder creates a user folder. Returns ErrAlreadyExists if the
	// owner already has a folder with the same id.
	CreateFolder(ctx context.Context, ownerID, id, name string) (Folder, error)

	// GetFolder returns a folder by id.
	GetFolder(ctx context.Context, ownerID, id string) (Folder, error)

	// ListFolders returns all folders for the owner, system folders first.
	ListFolders(ctx context.Context, ownerID string) ([]Folder, error)

	// RenameFolder renames a user folder. Returns ErrSystemFolder for
	// system folders.
	RenameFolder(ctx context.Context, ownerID, id, name string) (Folder, error)

	// DeleteFolder removes an empty user folder. Returns ErrSystemFolder
	// for system folders and ErrFolderNotEmpty if messages remain in it.
	DeleteFolder(ctx context.Context, ownerID, id string) error
}
