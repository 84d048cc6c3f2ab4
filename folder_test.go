package mailstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/virtmail/mailstore/store"
)

func TestFolders(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	env.deliverInbound(t, "alice@example.com", "one", "fl-1")
	env.deliverInbound(t, "alice@example.com", "two", "fl-2")
	msg := env.deliverInbound(t, "alice@example.com", "read me", "fl-3")
	if _, err := mb.UpdateFlags(ctx, msg.GetID(), MarkRead()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if _, err := mb.CreateFolder(ctx, "work", "Work"); err != nil {
		t.Fatalf("create folder: %v", err)
	}

	infos, err := mb.Folders(ctx)
	if err != nil {
		t.Fatalf("folders: %v", err)
	}
	byID := make(map[string]FolderInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}
	for _, id := range []string{store.FolderInbox, store.FolderSent, store.FolderDrafts, store.FolderTrash, "work"} {
		if _, ok := byID[id]; !ok {
			t.Errorf("missing folder %s", id)
		}
	}
	inbox := byID[store.FolderInbox]
	if inbox.MessageCount != 3 || inbox.UnreadCount != 2 {
		t.Errorf("inbox counts: total %d unread %d", inbox.MessageCount, inbox.UnreadCount)
	}
	if !inbox.IsSystem || byID["work"].IsSystem {
		t.Error("system flag wrong")
	}
	// System folders sort ahead of user folders.
	if infos[len(infos)-1].ID != "work" {
		t.Errorf("expected user folder last, got %s", infos[len(infos)-1].ID)
	}
}

func TestFolderManagement(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	folder, err := mb.CreateFolder(ctx, "projects", "Projects")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if folder.ID != "projects" || folder.Name != "Projects" || folder.IsSystem {
		t.Errorf("unexpected folder: %+v", folder)
	}

	t.Run("duplicate id rejected", func(t *testing.T) {
		if _, err := mb.CreateFolder(ctx, "projects", "Again"); !errors.Is(err, store.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("reserved prefix rejected", func(t *testing.T) {
		if _, err := mb.CreateFolder(ctx, "__shadow", "Shadow"); !errors.Is(err, ErrInvalidFolder) {
			t.Errorf("expected ErrInvalidFolder, got %v", err)
		}
	})

	t.Run("name validation", func(t *testing.T) {
		var verr *ValidationError
		if _, err := mb.CreateFolder(ctx, "blank", "   "); !errors.As(err, &verr) {
			t.Errorf("expected ValidationError for blank name, got %v", err)
		}
		if _, err := mb.CreateFolder(ctx, "long", strings.Repeat("n", 129)); !errors.As(err, &verr) {
			t.Errorf("expected ValidationError for long name, got %v", err)
		}
	})

	t.Run("rename", func(t *testing.T) {
		renamed, err := mb.RenameFolder(ctx, "projects", "Client Projects")
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
		if renamed.Name != "Client Projects" {
			t.Errorf("expected renamed folder, got %+v", renamed)
		}
		if _, err := mb.RenameFolder(ctx, store.FolderInbox, "Mail"); !errors.Is(err, ErrSystemFolder) {
			t.Errorf("expected ErrSystemFolder, got %v", err)
		}
		if _, err := mb.RenameFolder(ctx, "ghost", "Ghost"); !errors.Is(err, ErrFolderNotFound) {
			t.Errorf("expected ErrFolderNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		msg := env.deliverInbound(t, "alice@example.com", "occupant", "fm-1")
		if _, err := mb.Move(ctx, msg.GetID(), "projects"); err != nil {
			t.Fatalf("move: %v", err)
		}
		if err := mb.DeleteFolder(ctx, "projects"); !errors.Is(err, store.ErrFolderNotEmpty) {
			t.Errorf("expected ErrFolderNotEmpty, got %v", err)
		}
		if _, err := mb.Trash(ctx, msg.GetID()); err != nil {
			t.Fatalf("trash: %v", err)
		}
		if err := mb.DeleteFolder(ctx, "projects"); err != nil {
			t.Fatalf("delete emptied folder: %v", err)
		}
		if err := mb.DeleteFolder(ctx, store.FolderTrash); !errors.Is(err, ErrSystemFolder) {
			t.Errorf("expected ErrSystemFolder, got %v", err)
		}
		if err := mb.DeleteFolder(ctx, "projects"); !errors.Is(err, ErrFolderNotFound) {
			t.Errorf("expected ErrFolderNotFound, got %v", err)
		}
	})
}
