package mailstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/virtmail/mailstore/store"
)

func TestConcurrentFlagUpdates(t *testing.T) {
	env := setupTestService(t, WithMaxUpdateAttempts(25))
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	msg := env.deliverInbound(t, "alice@example.com", "contested", "cc-1")

	const workers = 8
	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			flags := MarkRead()
			if i%2 == 1 {
				flags = Star()
			}
			_, err := mb.UpdateFlags(ctx, msg.GetID(), flags)
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Errorf("concurrent flag update: %v", err)
		}
	}

	final, err := mb.Get(ctx, msg.GetID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !final.GetIsRead() || !final.GetIsStarred() {
		t.Errorf("both flags must stick: read %v starred %v", final.GetIsRead(), final.GetIsStarred())
	}
}

func TestConcurrentTrash(t *testing.T) {
	env := setupTestService(t, WithMaxUpdateAttempts(25))
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	msg := env.deliverInbound(t, "alice@example.com", "pile on", "cc-2")

	const workers = 6
	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mb.Trash(ctx, msg.GetID())
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Errorf("concurrent trash: %v", err)
		}
	}

	final, err := mb.Get(ctx, msg.GetID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.GetFolderID() != store.FolderTrash || final.GetPriorFolderID() != store.FolderInbox {
		t.Errorf("expected trash with prior inbox, got %s prior %s",
			final.GetFolderID(), final.GetPriorFolderID())
	}
}

func TestConcurrentFlagAndTrash(t *testing.T) {
	env := setupTestService(t, WithMaxUpdateAttempts(25))
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	msg := env.deliverInbound(t, "alice@example.com", "read and gone", "cc-3")

	const workers = 8
	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = mb.UpdateFlags(ctx, msg.GetID(), MarkRead())
			} else {
				_, err = mb.Trash(ctx, msg.GetID())
			}
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Errorf("concurrent mutation: %v", err)
		}
	}

	final, err := mb.Get(ctx, msg.GetID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.GetFolderID() != store.FolderTrash || final.GetPriorFolderID() != store.FolderInbox {
		t.Errorf("expected trash with prior inbox, got %s prior %s",
			final.GetFolderID(), final.GetPriorFolderID())
	}
	if !final.GetIsRead() {
		t.Error("read flag must survive the concurrent trash")
	}
}

func TestAcceptInboundDuringClose(t *testing.T) {
	env := setupTestService(t, WithInboundWorkers(2))
	env.provisionUser(t, "alice@example.com")
	ctx := context.Background()

	const workers = 16
	errCh := make(chan error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errCh <- env.svc.AcceptInbound(ctx, InboundMessage{
				From:       "sender@elsewhere.net",
				To:         []string{"alice@example.com"},
				Subject:    "racing the shutdown",
				DeliveryID: fmt.Sprintf("shutdown-%d", i),
			})
		}(i)
	}
	close(start)
	if err := env.svc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
	close(errCh)

	// Deliveries either complete before the shutdown or are rejected
	// cleanly; resolution against the closed store surfaces per recipient.
	for err := range errCh {
		if err == nil || errors.Is(err, ErrNotConnected) {
			continue
		}
		var pde *PartialDeliveryError
		if errors.As(err, &pde) {
			continue
		}
		t.Errorf("unexpected accept error during close: %v", err)
	}
}

func TestConcurrentDeliverySameKey(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	const workers = 8
	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- env.svc.AcceptInbound(ctx, InboundMessage{
				From:       "sender@elsewhere.net",
				To:         []string{"alice@example.com"},
				Subject:    "exactly once",
				DeliveryID: "dup-1",
			})
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Errorf("concurrent delivery: %v", err)
		}
	}

	inbox, err := mb.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Errorf("expected one filed copy, got %d", len(inbox))
	}
}

func TestConcurrentDistinctDeliveries(t *testing.T) {
	env := setupTestService(t, WithInboundWorkers(2))
	alice := env.provisionUser(t, "alice@example.com")
	mb := env.svc.Client(alice.ID)
	ctx := context.Background()

	const deliveries = 20
	errCh := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errCh <- env.svc.AcceptInbound(ctx, InboundMessage{
				From:       "sender@elsewhere.net",
				To:         []string{"alice@example.com"},
				Subject:    fmt.Sprintf("burst %d", i),
				DeliveryID: fmt.Sprintf("burst-%d", i),
			})
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Errorf("delivery: %v", err)
		}
	}

	stats, err := mb.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != deliveries {
		t.Errorf("expected %d messages, got %d", deliveries, stats.Total)
	}
}
