package mailstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/virtmail/mailstore/store"
)

func TestAcceptInbound(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	ctx := context.Background()

	receivedAt := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	msg := InboundMessage{
		From:       "sender@elsewhere.net",
		To:         []string{"alice@example.com"},
		Subject:    "invoice",
		Body:       "please find attached",
		DeliveryID: "smtp-001",
		ReceivedAt: receivedAt,
	}
	if err := env.svc.AcceptInbound(ctx, msg); err != nil {
		t.Fatalf("accept inbound: %v", err)
	}

	mb := env.svc.Client(alice.ID)
	inbox, err := mb.Inbox(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("expected 1 message, got %d", len(inbox))
	}
	got := inbox[0]
	if got.GetState() != store.StateReceived || got.GetFolderID() != store.FolderInbox {
		t.Errorf("unexpected filing: state %s folder %s", got.GetState(), got.GetFolderID())
	}
	if got.GetDeliveryKey() != "smtp-001" {
		t.Errorf("expected delivery key recorded, got %q", got.GetDeliveryKey())
	}
	if !got.GetReceivedAt().Equal(receivedAt) {
		t.Errorf("expected received timestamp preserved, got %v", got.GetReceivedAt())
	}

	t.Run("redelivery files nothing new", func(t *testing.T) {
		if err := env.svc.AcceptInbound(ctx, msg); err != nil {
			t.Fatalf("redelivery: %v", err)
		}
		inbox, err := mb.Inbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		if len(inbox) != 1 {
			t.Errorf("expected redelivery to be a no-op, got %d messages", len(inbox))
		}
	})

	t.Run("new delivery id files again", func(t *testing.T) {
		again := msg
		again.DeliveryID = "smtp-002"
		if err := env.svc.AcceptInbound(ctx, again); err != nil {
			t.Fatalf("accept: %v", err)
		}
		inbox, err := mb.Inbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		if len(inbox) != 2 {
			t.Errorf("expected 2 messages, got %d", len(inbox))
		}
	})
}

func TestAcceptInboundValidation(t *testing.T) {
	env := setupTestService(t)
	env.provisionUser(t, "alice@example.com")
	ctx := context.Background()

	t.Run("missing delivery id", func(t *testing.T) {
		err := env.svc.AcceptInbound(ctx, InboundMessage{
			From: "x@elsewhere.net",
			To:   []string{"alice@example.com"},
		})
		ve, ok := IsValidationError(err)
		if !ok || ve.Field != "delivery_id" {
			t.Errorf("expected validation error on delivery_id, got %v", err)
		}
	})

	t.Run("no recipients", func(t *testing.T) {
		err := env.svc.AcceptInbound(ctx, InboundMessage{From: "x@elsewhere.net", DeliveryID: "d1"})
		if !errors.Is(err, ErrNoRecipients) {
			t.Errorf("expected ErrNoRecipients, got %v", err)
		}
	})
}

func TestAcceptInboundPartialDelivery(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	ctx := context.Background()

	t.Run("unknown local recipient", func(t *testing.T) {
		err := env.svc.AcceptInbound(ctx, InboundMessage{
			From:       "sender@elsewhere.net",
			To:         []string{"alice@example.com", "ghost@example.com"},
			DeliveryID: "pd-1",
		})
		pde, ok := IsPartialDelivery(err)
		if !ok {
			t.Fatalf("expected PartialDeliveryError, got %v", err)
		}
		if _, failed := pde.Failed["ghost@example.com"]; !failed || len(pde.Failed) != 1 {
			t.Errorf("expected only ghost to fail: %+v", pde.Failed)
		}

		// The known recipient was still delivered.
		inbox, err := env.svc.Client(alice.ID).Inbox(ctx, ListOptions{})
		if err != nil || len(inbox) != 1 {
			t.Errorf("expected 1 delivered message, got %d (err %v)", len(inbox), err)
		}
	})

	t.Run("remote recipient without submitter", func(t *testing.T) {
		err := env.svc.AcceptInbound(ctx, InboundMessage{
			From:       "sender@elsewhere.net",
			To:         []string{"outside@elsewhere.net"},
			DeliveryID: "pd-2",
		})
		pde, ok := IsPartialDelivery(err)
		if !ok {
			t.Fatalf("expected PartialDeliveryError, got %v", err)
		}
		if ferr := pde.Failed["outside@elsewhere.net"]; !errors.Is(ferr, ErrNoSubmitter) {
			t.Errorf("expected ErrNoSubmitter for the remote target, got %v", ferr)
		}
	})
}

func TestAcceptInboundAliasFanOut(t *testing.T) {
	env := setupTestService(t)
	alice := env.provisionUser(t, "alice@example.com")
	bob := env.provisionUser(t, "bob@example.com")
	admin := env.svc.Admin()
	ctx := context.Background()

	if _, err := admin.CreateAlias(ctx, "team@example.com", []string{"alice@example.com", "bob@example.com"}); err != nil {
		t.Fatalf("create alias: %v", err)
	}

	if err := env.svc.AcceptInbound(ctx, InboundMessage{
		From:       "sender@elsewhere.net",
		To:         []string{"team@example.com"},
		Subject:    "announcement",
		DeliveryID: "fan-1",
	}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for _, u := range []store.MailUser{alice, bob} {
		inbox, err := env.svc.Client(u.ID).Inbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("inbox for %s: %v", u.Address, err)
		}
		if len(inbox) != 1 {
			t.Errorf("expected 1 copy for %s, got %d", u.Address, len(inbox))
		}
	}
}

func TestAcceptInboundRemoteRelay(t *testing.T) {
	sub := &recordingSubmitter{}
	env := setupTestService(t, WithSubmitter(sub), WithSendRetry(fastSendRetry))
	admin := env.svc.Admin()
	ctx := context.Background()

	env.provisionUser(t, "alice@example.com")
	if _, err := admin.CreateAlias(ctx, "fw@example.com", []string{"external@elsewhere.net"}); err != nil {
		t.Fatalf("create alias: %v", err)
	}

	if err := env.svc.AcceptInbound(ctx, InboundMessage{
		From:       "sender@other.org",
		To:         []string{"fw@example.com"},
		Subject:    "forwarded",
		DeliveryID: "relay-1",
	}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	envs := sub.sent()
	if len(envs) != 1 {
		t.Fatalf("expected 1 relay, got %d", len(envs))
	}
	if len(envs[0].To) != 1 || envs[0].To[0] != "external@elsewhere.net" {
		t.Errorf("unexpected relay envelope: %+v", envs[0])
	}
}
