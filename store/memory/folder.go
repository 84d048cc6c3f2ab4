package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/virtmail/mailstore/store"
)

// EnsureSystemFolders creates any missing system folders for the owner.
func (s *Store) EnsureSystemFolders(ctx context.Context, ownerID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if ownerID == "" {
		return store.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range store.SystemFolderIDs {
		key := folderKey(ownerID, id)
		if _, ok := s.folders[key]; ok {
			continue
		}
		s.folders[key] = store.Folder{
			ID:        id,
			OwnerID:   ownerID,
			Name:      store.SystemFolderName(id),
			IsSystem:  true,
			CreatedAt: time.Now().UTC(),
		}
	}
	return nil
}

// CreateFolder creates a user folder.
func (s *Store) CreateFolder(ctx context.Context, ownerID, id, name string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	if ownerID == "" || id == "" {
		return store.Folder{}, store.ErrInvalidID
	}
	if store.IsSystemFolderID(id) || !store.IsValidFolderID(id) {
		return store.Folder{}, fmt.Errorf("%w: %q", store.ErrInvalidFolder, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := folderKey(ownerID, id)
	if _, ok := s.folders[key]; ok {
		return store.Folder{}, fmt.Errorf("%w: folder %q", store.ErrAlreadyExists, id)
	}
	f := store.Folder{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.folders[key] = f
	return f, nil
}

// GetFolder returns one folder.
func (s *Store) GetFolder(ctx context.Context, ownerID, id string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[folderKey(ownerID, id)]
	if !ok {
		return store.Folder{}, store.ErrNotFound
	}
	return f, nil
}

// ListFolders returns the owner's folders, system folders first.
func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Folder
	for _, f := range s.folders {
		if f.OwnerID == ownerID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsSystem != out[j].IsSystem {
			return out[i].IsSystem
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// RenameFolder renames a user folder.
func (s *Store) RenameFolder(ctx context.Context, ownerID, id, name string) (store.Folder, error) {
	if err := s.checkConnected(); err != nil {
		return store.Folder{}, err
	}
	if store.IsSystemFolderID(id) {
		return store.Folder{}, store.ErrSystemFolder
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := folderKey(ownerID, id)
	f, ok := s.folders[key]
	if !ok {
		return store.Folder{}, store.ErrNotFound
	}
	f.Name = name
	s.folders[key] = f
	return f, nil
}

// DeleteFolder removes an empty user folder.
func (s *Store) DeleteFolder(ctx context.Context, ownerID, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if store.IsSystemFolderID(id) {
		return store.ErrSystemFolder
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := folderKey(ownerID, id)
	if _, ok := s.folders[key]; !ok {
		return store.ErrNotFound
	}
	empty := true
	s.messages.Range(func(_, v any) bool {
		m := v.(*message).snapshot()
		if m.ownerID == ownerID && m.folderID == id {
			empty = false
			return false
		}
		return true
	})
	if !empty {
		return store.ErrFolderNotEmpty
	}
	delete(s.folders, key)
	return nil
}
