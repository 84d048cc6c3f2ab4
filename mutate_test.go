package mailstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/virtmail/mailstore/store"
	"github.com/virtmail/mailstore/store/memory"
)

// deliverInbound files one message into the user's inbox and returns it.
func (e *testEnv) deliverInbound(t *testing.T, address, subject, deliveryID string) Message {
	t.Helper()
	ctx := context.Background()
	err := e.svc.AcceptInbound(ctx, InboundMessage{
		From:       "sender@elsewhere.net",
		To:         []string{address},
		Subject:    subject,
		Body:       "body of " + subject,
		DeliveryID: deliveryID,
	})
	if err != nil {
		t.Fatalf("deliver %s: %v", deliveryID, err)
	}

	u, err := e.svc.Admin().GetUserByAddress(ctx, address)
	if err != nil {
		t.Fatalf("lookup %s: %v", address, err)
	}
	msgs, err := e.store.Find(ctx, &store.Query{Filters: []*store.Filter{
		store.OwnerIs(u.ID),
		store.MessageFilter(store.FieldDeliveryKey).Equal(deliveryID),
	}})
	if err != nil || len(msgs) != 1 {
		t.Fatalf("find delivered message: %d results, err %v", len(msgs), err)
	}
	return msgs[0]
}

func TestUpdateFlags(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	msg := env.deliverInbound(t, "alice@example.com", "flag me", "f-1")

	updated, err := mb.UpdateFlags(ctx, msg.GetID(), MarkRead())
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !updated.GetIsRead() {
		t.Error("expected read")
	}

	updated, err = mb.UpdateFlags(ctx, msg.GetID(), Star())
	if err != nil {
		t.Fatalf("star: %v", err)
	}
	if !updated.GetIsStarred() || !updated.GetIsRead() {
		t.Errorf("starring must not clear read: %+v", updated)
	}

	t.Run("empty flags are a no-op read", func(t *testing.T) {
		before := updated.GetVersion()
		same, err := mb.UpdateFlags(ctx, msg.GetID(), Flags{})
		if err != nil {
			t.Fatalf("empty update: %v", err)
		}
		if same.GetVersion() != before {
			t.Errorf("empty flags must not bump the version: %d vs %d", same.GetVersion(), before)
		}
	})

	t.Run("other owner's message hidden", func(t *testing.T) {
		bob := env.provisionUser(t, "bob@example.com")
		if _, err := env.svc.Client(bob.ID).UpdateFlags(ctx, msg.GetID(), MarkRead()); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("expected ErrMessageNotFound, got %v", err)
		}
	})
}

func TestMove(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	if _, err := mb.CreateFolder(ctx, "archive", "Archive"); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	msg := env.deliverInbound(t, "alice@example.com", "move me", "m-1")

	moved, err := mb.Move(ctx, msg.GetID(), "archive")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.GetFolderID() != "archive" {
		t.Errorf("expected archive, got %s", moved.GetFolderID())
	}

	t.Run("move to same folder is a no-op", func(t *testing.T) {
		again, err := mb.Move(ctx, msg.GetID(), "archive")
		if err != nil {
			t.Fatalf("move: %v", err)
		}
		if again.GetVersion() != moved.GetVersion() {
			t.Errorf("same-folder move must not bump version: %d vs %d", again.GetVersion(), moved.GetVersion())
		}
	})

	t.Run("unknown folder rejected", func(t *testing.T) {
		if _, err := mb.Move(ctx, msg.GetID(), "nope"); !errors.Is(err, ErrFolderNotFound) {
			t.Errorf("expected ErrFolderNotFound, got %v", err)
		}
	})

	t.Run("moving into trash rejected", func(t *testing.T) {
		if _, err := mb.Move(ctx, msg.GetID(), store.FolderTrash); !errors.Is(err, ErrInvalidFolder) {
			t.Errorf("expected ErrInvalidFolder, got %v", err)
		}
	})

	t.Run("trashed message cannot be moved", func(t *testing.T) {
		if _, err := mb.Trash(ctx, msg.GetID()); err != nil {
			t.Fatalf("trash: %v", err)
		}
		if _, err := mb.Move(ctx, msg.GetID(), store.FolderInbox); !errors.Is(err, ErrImmutableMessage) {
			t.Errorf("expected ErrImmutableMessage, got %v", err)
		}
	})
}

func TestTrashRestore(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	t.Run("restore to prior folder", func(t *testing.T) {
		if _, err := mb.CreateFolder(ctx, "receipts", "Receipts"); err != nil {
			t.Fatalf("create folder: %v", err)
		}
		msg := env.deliverInbound(t, "alice@example.com", "receipt", "tr-1")
		if _, err := mb.Move(ctx, msg.GetID(), "receipts"); err != nil {
			t.Fatalf("move: %v", err)
		}

		trashed, err := mb.Trash(ctx, msg.GetID())
		if err != nil {
			t.Fatalf("trash: %v", err)
		}
		if trashed.GetFolderID() != store.FolderTrash || trashed.GetPriorFolderID() != "receipts" {
			t.Errorf("expected trash with prior receipts, got %s prior %s", trashed.GetFolderID(), trashed.GetPriorFolderID())
		}

		restored, err := mb.Restore(ctx, msg.GetID())
		if err != nil {
			t.Fatalf("restore: %v", err)
		}
		if restored.GetFolderID() != "receipts" {
			t.Errorf("expected restore to receipts, got %s", restored.GetFolderID())
		}
	})

	t.Run("restore falls back when prior folder is gone", func(t *testing.T) {
		if _, err := mb.CreateFolder(ctx, "temp", "Temp"); err != nil {
			t.Fatalf("create folder: %v", err)
		}
		msg := env.deliverInbound(t, "alice@example.com", "temp note", "tr-2")
		if _, err := mb.Move(ctx, msg.GetID(), "temp"); err != nil {
			t.Fatalf("move: %v", err)
		}
		if _, err := mb.Trash(ctx, msg.GetID()); err != nil {
			t.Fatalf("trash: %v", err)
		}
		if err := mb.DeleteFolder(ctx, "temp"); err != nil {
			t.Fatalf("delete folder: %v", err)
		}

		restored, err := mb.Restore(ctx, msg.GetID())
		if err != nil {
			t.Fatalf("restore: %v", err)
		}
		// Inbound received messages fall back to the inbox.
		if restored.GetFolderID() != store.FolderInbox {
			t.Errorf("expected inbox fallback, got %s", restored.GetFolderID())
		}
	})

	t.Run("draft falls back to drafts", func(t *testing.T) {
		draft, err := mb.CreateDraft(ctx, DraftData{Subject: "wip"})
		if err != nil {
			t.Fatalf("create draft: %v", err)
		}
		if _, err := mb.CreateFolder(ctx, "scratch", "Scratch"); err != nil {
			t.Fatalf("create folder: %v", err)
		}
		if _, err := mb.Move(ctx, draft.GetID(), "scratch"); err != nil {
			t.Fatalf("move: %v", err)
		}
		if _, err := mb.Trash(ctx, draft.GetID()); err != nil {
			t.Fatalf("trash: %v", err)
		}
		if err := mb.DeleteFolder(ctx, "scratch"); err != nil {
			t.Fatalf("delete folder: %v", err)
		}

		restored, err := mb.Restore(ctx, draft.GetID())
		if err != nil {
			t.Fatalf("restore: %v", err)
		}
		if restored.GetFolderID() != store.FolderDrafts {
			t.Errorf("expected drafts fallback, got %s", restored.GetFolderID())
		}
	})

	t.Run("sent message falls back to drafts", func(t *testing.T) {
		env.provisionUser(t, "bob@example.com")
		draft, err := mb.CreateDraft(ctx, DraftData{To: []string{"bob@example.com"}, Subject: "shipped"})
		if err != nil {
			t.Fatalf("create draft: %v", err)
		}
		if _, err := mb.Send(ctx, draft.GetID()); err != nil {
			t.Fatalf("send: %v", err)
		}
		if err := env.svc.Flush(ctx); err != nil {
			t.Fatalf("flush: %v", err)
		}
		if _, err := mb.CreateFolder(ctx, "keepsakes", "Keepsakes"); err != nil {
			t.Fatalf("create folder: %v", err)
		}
		if _, err := mb.Move(ctx, draft.GetID(), "keepsakes"); err != nil {
			t.Fatalf("move: %v", err)
		}
		if _, err := mb.Trash(ctx, draft.GetID()); err != nil {
			t.Fatalf("trash: %v", err)
		}
		if err := mb.DeleteFolder(ctx, "keepsakes"); err != nil {
			t.Fatalf("delete folder: %v", err)
		}

		restored, err := mb.Restore(ctx, draft.GetID())
		if err != nil {
			t.Fatalf("restore: %v", err)
		}
		if restored.GetFolderID() != store.FolderDrafts {
			t.Errorf("expected drafts fallback for outbound mail, got %s", restored.GetFolderID())
		}
	})

	t.Run("trash is idempotent", func(t *testing.T) {
		msg := env.deliverInbound(t, "alice@example.com", "twice", "tr-3")
		first, err := mb.Trash(ctx, msg.GetID())
		if err != nil {
			t.Fatalf("trash: %v", err)
		}
		second, err := mb.Trash(ctx, msg.GetID())
		if err != nil {
			t.Fatalf("second trash: %v", err)
		}
		if second.GetVersion() != first.GetVersion() || second.GetPriorFolderID() != first.GetPriorFolderID() {
			t.Errorf("second trash must change nothing: %+v vs %+v", second, first)
		}
	})

	t.Run("restore requires trash", func(t *testing.T) {
		msg := env.deliverInbound(t, "alice@example.com", "not trashed", "tr-4")
		if _, err := mb.Restore(ctx, msg.GetID()); !errors.Is(err, ErrNotInTrash) {
			t.Errorf("expected ErrNotInTrash, got %v", err)
		}
	})
}

func TestPurge(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	msg := env.deliverInbound(t, "alice@example.com", "purge me", "p-1")

	t.Run("requires trash", func(t *testing.T) {
		if err := mb.Purge(ctx, msg.GetID()); !errors.Is(err, ErrNotInTrash) {
			t.Errorf("expected ErrNotInTrash, got %v", err)
		}
	})

	if _, err := mb.Trash(ctx, msg.GetID()); err != nil {
		t.Fatalf("trash: %v", err)
	}
	if err := mb.Purge(ctx, msg.GetID()); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := mb.Get(ctx, msg.GetID()); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound after purge, got %v", err)
	}

	t.Run("purge of a purged id is a no-op", func(t *testing.T) {
		if err := mb.Purge(ctx, msg.GetID()); err != nil {
			t.Errorf("expected nil for already purged id, got %v", err)
		}
	})

	t.Run("purged delivery stays final", func(t *testing.T) {
		err := env.svc.AcceptInbound(ctx, InboundMessage{
			From:       "sender@elsewhere.net",
			To:         []string{"alice@example.com"},
			Subject:    "purge me",
			DeliveryID: "p-1",
		})
		if err != nil {
			t.Fatalf("redelivery after purge: %v", err)
		}
		inbox, err := mb.Inbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		if len(inbox) != 0 {
			t.Errorf("purged message must not come back, got %d messages", len(inbox))
		}
	})
}

// failingDeleteStore makes HardDelete fail on demand while delegating
// everything else.
type failingDeleteStore struct {
	store.Store
	fail bool
}

func (f *failingDeleteStore) HardDelete(ctx context.Context, id string) error {
	if f.fail {
		return errors.New("disk offline")
	}
	return f.Store.HardDelete(ctx, id)
}

func TestPurgeFailureKeepsMessage(t *testing.T) {
	st := memory.New()
	flaky := &failingDeleteStore{Store: st}
	fs := memory.NewFileStore()
	svc, err := NewService(
		WithStore(flaky),
		WithFileStore(fs),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	env := &testEnv{svc: svc, store: st, files: fs}

	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)

	meta, err := mb.UploadAttachment(ctx, "notes.txt", "text/plain", strings.NewReader("keep me"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	draft, err := mb.CreateDraft(ctx, DraftData{Subject: "doomed", AttachmentIDs: []string{meta.ID}})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if _, err := mb.Trash(ctx, draft.GetID()); err != nil {
		t.Fatalf("trash: %v", err)
	}

	flaky.fail = true
	if err := mb.Purge(ctx, draft.GetID()); err == nil {
		t.Fatal("expected purge to fail")
	}

	kept, err := mb.Get(ctx, draft.GetID())
	if err != nil {
		t.Fatalf("message must survive a failed purge: %v", err)
	}
	if kept.GetFolderID() != store.FolderTrash {
		t.Errorf("message must stay in trash, got %s", kept.GetFolderID())
	}
	if _, err := mb.GetAttachment(ctx, meta.ID); err != nil {
		t.Errorf("attachment record must survive a failed purge: %v", err)
	}
	if ok, err := env.files.Exists(ctx, meta.ContentHash); err != nil || !ok {
		t.Errorf("blob must survive a failed purge: exists %v err %v", ok, err)
	}

	flaky.fail = false
	if err := mb.Purge(ctx, draft.GetID()); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := mb.GetAttachment(ctx, meta.ID); !errors.Is(err, ErrAttachmentNotFound) {
		t.Errorf("expected record released after purge, got %v", err)
	}
	if ok, _ := env.files.Exists(ctx, meta.ContentHash); ok {
		t.Error("expected blob removed after purge")
	}
}

func TestMarkAllRead(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.deliverInbound(t, "alice@example.com", fmt.Sprintf("unread %d", i), fmt.Sprintf("mar-%d", i))
	}

	n, err := mb.MarkAllRead(ctx, store.FolderInbox)
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 updated, got %d", n)
	}

	inbox, err := mb.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	for _, m := range inbox {
		if !m.GetIsRead() {
			t.Errorf("message %s still unread", m.GetID())
		}
	}

	t.Run("second pass updates nothing", func(t *testing.T) {
		n, err := mb.MarkAllRead(ctx, store.FolderInbox)
		if err != nil {
			t.Fatalf("mark all read: %v", err)
		}
		if n != 0 {
			t.Errorf("expected 0 updated, got %d", n)
		}
	})

	t.Run("unknown folder rejected", func(t *testing.T) {
		if _, err := mb.MarkAllRead(ctx, "nope"); !errors.Is(err, ErrFolderNotFound) {
			t.Errorf("expected ErrFolderNotFound, got %v", err)
		}
	})
}

func TestBulkOperations(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		msg := env.deliverInbound(t, "alice@example.com", fmt.Sprintf("bulk %d", i), fmt.Sprintf("b-%d", i))
		ids = append(ids, msg.GetID())
	}

	t.Run("flags with one bad id", func(t *testing.T) {
		res, err := mb.BulkUpdateFlags(ctx, append(append([]string(nil), ids...), "bogus"), MarkRead())
		if err != nil {
			t.Fatalf("bulk flags: %v", err)
		}
		if res.SuccessCount() != 3 || res.FailureCount() != 1 {
			t.Errorf("expected 3 ok and 1 failed, got %d/%d", res.SuccessCount(), res.FailureCount())
		}
		var boe *BulkOperationError
		if !errors.As(res.Err(), &boe) {
			t.Fatalf("expected BulkOperationError, got %v", res.Err())
		}
		if boe.Failed != 1 || boe.Total != 4 {
			t.Errorf("unexpected error detail: %+v", boe)
		}
		last := res.Results[len(res.Results)-1]
		if last.Success || !errors.Is(last.Error, ErrMessageNotFound) {
			t.Errorf("expected the bogus id to fail with ErrMessageNotFound, got %+v", last)
		}
	})

	t.Run("all succeed", func(t *testing.T) {
		res, err := mb.BulkTrash(ctx, ids)
		if err != nil {
			t.Fatalf("bulk trash: %v", err)
		}
		if res.Err() != nil {
			t.Errorf("expected no error, got %v", res.Err())
		}
		for _, r := range res.Results {
			if r.Message == nil || r.Message.GetFolderID() != store.FolderTrash {
				t.Errorf("expected trashed message in result: %+v", r)
			}
		}
	})

	t.Run("bulk purge treats missing ids as done", func(t *testing.T) {
		res, err := mb.BulkPurge(ctx, append(append([]string(nil), ids...), "long-gone"))
		if err != nil {
			t.Fatalf("bulk purge: %v", err)
		}
		if res.Err() != nil {
			t.Errorf("expected every purge to succeed, got %v", res.Err())
		}
	})

	t.Run("bulk move validates the folder up front", func(t *testing.T) {
		if _, err := mb.BulkMove(ctx, ids, "nope"); !errors.Is(err, ErrFolderNotFound) {
			t.Errorf("expected ErrFolderNotFound, got %v", err)
		}
	})
}
