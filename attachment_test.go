package mailstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/virtmail/mailstore/store/memory"
)

func TestUploadAttachment(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	content := []byte("quarterly numbers, final version")
	meta, err := mb.UploadAttachment(ctx, "q3.xlsx", "application/vnd.ms-excel", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if meta.ID == "" || meta.ContentHash == "" {
		t.Fatalf("incomplete metadata: %+v", meta)
	}
	if meta.Size != int64(len(content)) || meta.Filename != "q3.xlsx" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if ok, err := env.files.Exists(ctx, meta.ContentHash); err != nil || !ok {
		t.Errorf("blob not stored: exists %v err %v", ok, err)
	}

	t.Run("same content shares the blob", func(t *testing.T) {
		again, err := mb.UploadAttachment(ctx, "copy-of-q3.xlsx", "application/vnd.ms-excel", bytes.NewReader(content))
		if err != nil {
			t.Fatalf("second upload: %v", err)
		}
		if again.ID == meta.ID {
			t.Error("each upload needs its own metadata record")
		}
		if again.ContentHash != meta.ContentHash {
			t.Errorf("same bytes must hash alike: %s vs %s", again.ContentHash, meta.ContentHash)
		}
	})

	t.Run("roundtrip", func(t *testing.T) {
		rc, err := mb.OpenAttachment(ctx, meta.ID)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer rc.Close()
		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("content mismatch: %q", got)
		}
	})

	t.Run("default content type", func(t *testing.T) {
		m, err := mb.UploadAttachment(ctx, "raw.bin", "", strings.NewReader("opaque"))
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		if m.ContentType != "application/octet-stream" {
			t.Errorf("expected octet-stream, got %s", m.ContentType)
		}
	})

	t.Run("filename required", func(t *testing.T) {
		var verr *ValidationError
		if _, err := mb.UploadAttachment(ctx, "  ", "text/plain", strings.NewReader("x")); !errors.As(err, &verr) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("size cap", func(t *testing.T) {
		env := setupTestService(t, WithMaxAttachmentSize(16))
		alice := env.provisionUser(t, "alice@example.com")
		mb := env.svc.Client(alice.ID)

		if _, err := mb.UploadAttachment(ctx, "small.txt", "text/plain", strings.NewReader("fits in sixteen.")); err != nil {
			t.Fatalf("upload at the cap: %v", err)
		}
		var verr *ValidationError
		if _, err := mb.UploadAttachment(ctx, "big.txt", "text/plain", strings.NewReader("seventeen bytes!!")); !errors.As(err, &verr) {
			t.Errorf("expected ValidationError over the cap, got %v", err)
		}
	})

	t.Run("other owner's attachment hidden", func(t *testing.T) {
		bob := env.provisionUser(t, "bob@example.com")
		if _, err := env.svc.Client(bob.ID).GetAttachment(ctx, meta.ID); !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("expected ErrAttachmentNotFound, got %v", err)
		}
		if _, err := env.svc.Client(bob.ID).OpenAttachment(ctx, meta.ID); !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("expected ErrAttachmentNotFound, got %v", err)
		}
	})
}

func TestAttachmentRequiresFileStore(t *testing.T) {
	st := memory.New()
	svc, err := NewService(WithStore(st))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })

	mb := svc.Client("user-1")
	if _, err := mb.UploadAttachment(ctx, "a.txt", "text/plain", strings.NewReader("x")); !errors.Is(err, ErrFileStoreRequired) {
		t.Errorf("expected ErrFileStoreRequired on upload, got %v", err)
	}
	if _, err := mb.OpenAttachment(ctx, "any"); !errors.Is(err, ErrFileStoreRequired) {
		t.Errorf("expected ErrFileStoreRequired on open, got %v", err)
	}
}

func TestAttachmentLifecycle(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	meta, err := mb.UploadAttachment(ctx, "notes.txt", "text/plain", strings.NewReader("keep these"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	draft, err := mb.CreateDraft(ctx, DraftData{Subject: "with file", AttachmentIDs: []string{meta.ID}})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	t.Run("unknown attachment rejected", func(t *testing.T) {
		if _, err := mb.CreateDraft(ctx, DraftData{AttachmentIDs: []string{"ghost"}}); !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("expected ErrAttachmentNotFound, got %v", err)
		}
	})

	t.Run("detach releases the reference", func(t *testing.T) {
		none := []string{}
		upd, err := mb.UpdateDraft(ctx, draft.GetID(), DraftUpdate{AttachmentIDs: none})
		if err != nil {
			t.Fatalf("detach: %v", err)
		}
		if len(upd.GetAttachmentIDs()) != 0 {
			t.Errorf("expected no attachments, got %v", upd.GetAttachmentIDs())
		}
		if ok, _ := env.files.Exists(ctx, meta.ContentHash); ok {
			t.Error("unreferenced blob should be deleted")
		}
		if _, err := mb.GetAttachment(ctx, meta.ID); !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("expected metadata gone, got %v", err)
		}
	})

	t.Run("purge releases the last reference", func(t *testing.T) {
		m2, err := mb.UploadAttachment(ctx, "scan.pdf", "application/pdf", strings.NewReader("pdf bytes"))
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		d2, err := mb.CreateDraft(ctx, DraftData{Subject: "doomed", AttachmentIDs: []string{m2.ID}})
		if err != nil {
			t.Fatalf("create draft: %v", err)
		}
		if _, err := mb.Trash(ctx, d2.GetID()); err != nil {
			t.Fatalf("trash: %v", err)
		}
		if err := mb.Purge(ctx, d2.GetID()); err != nil {
			t.Fatalf("purge: %v", err)
		}
		if ok, _ := env.files.Exists(ctx, m2.ContentHash); ok {
			t.Error("blob should be deleted with its last reference")
		}
	})

	t.Run("shared blob survives one owner's purge", func(t *testing.T) {
		payload := "shared bytes between two drafts"
		a1, err := mb.UploadAttachment(ctx, "one.txt", "text/plain", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		a2, err := mb.UploadAttachment(ctx, "two.txt", "text/plain", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		d1, err := mb.CreateDraft(ctx, DraftData{Subject: "first", AttachmentIDs: []string{a1.ID}})
		if err != nil {
			t.Fatalf("create draft: %v", err)
		}
		if _, err := mb.CreateDraft(ctx, DraftData{Subject: "second", AttachmentIDs: []string{a2.ID}}); err != nil {
			t.Fatalf("create draft: %v", err)
		}

		if _, err := mb.Trash(ctx, d1.GetID()); err != nil {
			t.Fatalf("trash: %v", err)
		}
		if err := mb.Purge(ctx, d1.GetID()); err != nil {
			t.Fatalf("purge: %v", err)
		}
		if ok, _ := env.files.Exists(ctx, a1.ContentHash); !ok {
			t.Error("blob still referenced by the second record must survive")
		}
		if _, err := mb.GetAttachment(ctx, a2.ID); err != nil {
			t.Errorf("surviving attachment unreadable: %v", err)
		}
	})
}
