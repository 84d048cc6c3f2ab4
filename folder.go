package mailstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/virtmail/mailstore/store"
)

// Folders lists the user's folders with message counts, system folders
// first.
func (m *mailboxClient) Folders(ctx context.Context) ([]FolderInfo, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.Folders")

	infos, err := s.listFolders(ctx, m.userID)
	end(err)
	s.otel.record(ctx, opList, start, err)
	return infos, err
}

func (s *service) listFolders(ctx context.Context, ownerID string) ([]FolderInfo, error) {
	if err := s.store.EnsureSystemFolders(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("ensure system folders: %w", err)
	}
	folders, err := s.store.ListFolders(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	stats, err := s.store.Stats(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("folder stats: %w", err)
	}

	infos := make([]FolderInfo, 0, len(folders))
	for _, f := range folders {
		info := FolderInfo{ID: f.ID, Name: f.Name, IsSystem: f.IsSystem}
		if fs, ok := stats.PerFolder[f.ID]; ok {
			info.MessageCount = fs.Total
			info.UnreadCount = fs.Unread
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].IsSystem != infos[j].IsSystem {
			return infos[i].IsSystem
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// CreateFolder creates a user folder. Ids starting with the system prefix
// are rejected.
func (m *mailboxClient) CreateFolder(ctx context.Context, folderID, name string) (store.Folder, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return store.Folder{}, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.CreateFolder",
		attribute.String("folder.id", folderID))

	folder, err := s.createFolder(ctx, m.userID, folderID, name)
	end(err)
	s.otel.record(ctx, opUpdate, start, err)
	return folder, err
}

func (s *service) createFolder(ctx context.Context, ownerID, folderID, name string) (store.Folder, error) {
	if err := validateFolderName(name); err != nil {
		return store.Folder{}, err
	}
	if !store.IsValidFolderID(folderID) {
		return store.Folder{}, fmt.Errorf("%w: %q", ErrInvalidFolder, folderID)
	}
	folder, err := s.store.CreateFolder(ctx, ownerID, folderID, name)
	if err != nil {
		return store.Folder{}, fmt.Errorf("create folder %s: %w", folderID, err)
	}
	s.recordActivity(ctx, ownerID, ownerID, store.ActionCreate, folderID, store.OutcomeOK, "folder")
	return folder, nil
}

// RenameFolder renames a user folder. System folders keep their names.
func (m *mailboxClient) RenameFolder(ctx context.Context, folderID, name string) (store.Folder, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return store.Folder{}, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.RenameFolder",
		attribute.String("folder.id", folderID))

	folder, err := s.renameFolder(ctx, m.userID, folderID, name)
	end(err)
	s.otel.record(ctx, opUpdate, start, err)
	return folder, err
}

func (s *service) renameFolder(ctx context.Context, ownerID, folderID, name string) (store.Folder, error) {
	if err := validateFolderName(name); err != nil {
		return store.Folder{}, err
	}
	if store.IsSystemFolderID(folderID) {
		return store.Folder{}, fmt.Errorf("%w: cannot rename %s", ErrSystemFolder, folderID)
	}
	folder, err := s.store.RenameFolder(ctx, ownerID, folderID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Folder{}, fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
		}
		return store.Folder{}, fmt.Errorf("rename folder %s: %w", folderID, err)
	}
	s.recordActivity(ctx, ownerID, ownerID, store.ActionUpdate, folderID, store.OutcomeOK, "rename: "+name)
	return folder, nil
}

// DeleteFolder deletes an empty user folder. System folders and non-empty
// folders are rejected; move or trash the contents first.
func (m *mailboxClient) DeleteFolder(ctx context.Context, folderID string) error {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.DeleteFolder",
		attribute.String("folder.id", folderID))

	err := s.deleteFolder(ctx, m.userID, folderID)
	end(err)
	s.otel.record(ctx, opUpdate, start, err)
	return err
}

func (s *service) deleteFolder(ctx context.Context, ownerID, folderID string) error {
	if store.IsSystemFolderID(folderID) {
		return fmt.Errorf("%w: cannot delete %s", ErrSystemFolder, folderID)
	}
	if err := s.store.DeleteFolder(ctx, ownerID, folderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
		}
		return fmt.Errorf("delete folder %s: %w", folderID, err)
	}
	s.recordActivity(ctx, ownerID, ownerID, store.ActionUpdate, folderID, store.OutcomeOK, "deleted")
	return nil
}

// validateFolderName checks the display name of a user folder.
func validateFolderName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "Name", Message: "folder name must not be empty"}
	}
	const maxFolderName = 128
	if len(name) > maxFolderName {
		return &ValidationError{
			Field:   "Name",
			Message: fmt.Sprintf("folder name too long: %d bytes, max %d", len(name), maxFolderName),
		}
	}
	return nil
}
