package mailstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/virtmail/mailstore/store"
)

func TestList(t *testing.T) {
	env := setupTestService(t, WithDefaultQueryLimit(3), WithMaxQueryLimit(5))
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		env.deliverInbound(t, "alice@example.com", fmt.Sprintf("note %d", i), fmt.Sprintf("q-%d", i))
	}

	t.Run("default page size", func(t *testing.T) {
		page, err := mb.Inbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		if len(page) != 3 {
			t.Errorf("expected the default page of 3, got %d", len(page))
		}
	})

	t.Run("limit is clamped", func(t *testing.T) {
		page, err := mb.Inbox(ctx, ListOptions{Limit: 100})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		if len(page) != 5 {
			t.Errorf("expected the maximum page of 5, got %d", len(page))
		}
	})

	t.Run("pagination walks the folder", func(t *testing.T) {
		seen := make(map[string]bool)
		for offset := 0; offset < 7; offset += 5 {
			page, err := mb.Inbox(ctx, ListOptions{Limit: 5, Offset: offset})
			if err != nil {
				t.Fatalf("inbox at %d: %v", offset, err)
			}
			for _, m := range page {
				if seen[m.GetID()] {
					t.Errorf("message %s returned twice", m.GetID())
				}
				seen[m.GetID()] = true
			}
		}
		if len(seen) != 7 {
			t.Errorf("expected all 7 messages across pages, got %d", len(seen))
		}
	})

	t.Run("ascending by subject", func(t *testing.T) {
		page, err := mb.Inbox(ctx, ListOptions{Limit: 5, SortBy: store.FieldSubject, Ascending: true})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		for i := 1; i < len(page); i++ {
			if page[i-1].GetSubject() > page[i].GetSubject() {
				t.Errorf("out of order: %q before %q", page[i-1].GetSubject(), page[i].GetSubject())
			}
		}
	})

	t.Run("invalid folder id", func(t *testing.T) {
		if _, err := mb.List(ctx, "__vault", ListOptions{}); !errors.Is(err, ErrInvalidFolder) {
			t.Errorf("expected ErrInvalidFolder, got %v", err)
		}
	})
}

func TestListTrash(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	kept := env.deliverInbound(t, "alice@example.com", "kept", "lt-1")
	doomed := env.deliverInbound(t, "alice@example.com", "doomed", "lt-2")
	if _, err := mb.Trash(ctx, doomed.GetID()); err != nil {
		t.Fatalf("trash: %v", err)
	}

	trash, err := mb.ListTrash(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list trash: %v", err)
	}
	if len(trash) != 1 || trash[0].GetID() != doomed.GetID() {
		t.Errorf("expected only the trashed message, got %d results", len(trash))
	}

	inbox, err := mb.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].GetID() != kept.GetID() {
		t.Errorf("trashed message must leave the inbox, got %d results", len(inbox))
	}
}

func TestGet(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	bob := env.provisionUser(t, "bob@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	msg := env.deliverInbound(t, "alice@example.com", "mine", "g-1")

	got, err := mb.Get(ctx, msg.GetID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.GetSubject() != "mine" || got.GetOwnerID() != alice.ID {
		t.Errorf("unexpected message: %+v", got)
	}

	if _, err := mb.Get(ctx, ""); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound for empty id, got %v", err)
	}
	if _, err := env.svc.Client(bob.ID).Get(ctx, msg.GetID()); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound across owners, got %v", err)
	}
}
