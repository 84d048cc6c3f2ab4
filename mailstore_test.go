package mailstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/virtmail/mailstore/store"
	"github.com/virtmail/mailstore/store/memory"
)

// testEnv bundles the service with the backends it runs on, so tests can
// inspect blob storage or mutate records behind the service's back.
type testEnv struct {
	svc   Service
	store *memory.Store
	files *memory.FileStore
}

func setupTestService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st := memory.New()
	fs := memory.NewFileStore()

	base := []Option{
		WithStore(st),
		WithFileStore(fs),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return &testEnv{svc: svc, store: st, files: fs}
}

// provisionUser creates the domain if needed and a user inside it,
// returning the user record.
func (e *testEnv) provisionUser(t *testing.T, address string) store.MailUser {
	t.Helper()
	admin := e.svc.Admin()
	ctx := context.Background()

	at := -1
	for i, c := range address {
		if c == '@' {
			at = i
		}
	}
	if at < 0 {
		t.Fatalf("bad test address %q", address)
	}
	domain := address[at+1:]
	if _, err := admin.CreateDomain(ctx, domain); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("create domain %s: %v", domain, err)
	}
	u, err := admin.CreateUser(ctx, address, "correct horse battery")
	if err != nil {
		t.Fatalf("create user %s: %v", address, err)
	}
	return u
}

func TestNewService(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		if _, err := NewService(); !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("operations gated on connect", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		ctx := context.Background()

		if svc.IsConnected() {
			t.Error("fresh service must not report connected")
		}
		if _, err := svc.Client("alice").Get(ctx, "x"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Admin().ListDomains(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if err := svc.AcceptInbound(ctx, InboundMessage{DeliveryID: "d"}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("connect close lifecycle", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		ctx := context.Background()

		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("expected connected after Connect")
		}
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}

		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		if svc.IsConnected() {
			t.Error("expected disconnected after Close")
		}
		// Closing again is a no-op.
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("second close: %v", err)
		}
		if _, err := svc.Client("alice").Get(ctx, "x"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected after Close, got %v", err)
		}
	})
}

func TestAdminDomains(t *testing.T) {
	env := setupTestService(t)
	admin := env.svc.Admin()
	ctx := context.Background()

	d, err := admin.CreateDomain(ctx, " Example.COM ")
	if err != nil {
		t.Fatalf("create domain: %v", err)
	}
	if d.Name != "example.com" || !d.Active {
		t.Errorf("unexpected domain: %+v", d)
	}

	t.Run("duplicate rejected", func(t *testing.T) {
		if _, err := admin.CreateDomain(ctx, "example.com"); !errors.Is(err, store.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("invalid name rejected", func(t *testing.T) {
		if _, ok := IsValidationError(mustFailDomain(t, admin, "")); !ok {
			t.Error("expected validation error for empty name")
		}
		if _, ok := IsValidationError(mustFailDomain(t, admin, "bad@domain")); !ok {
			t.Error("expected validation error for name with @")
		}
	})

	t.Run("list", func(t *testing.T) {
		domains, err := admin.ListDomains(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(domains) != 1 {
			t.Errorf("expected 1 domain, got %d", len(domains))
		}
	})

	t.Run("deactivate", func(t *testing.T) {
		if err := admin.SetDomainActive(ctx, "example.com", false); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		if err := admin.SetDomainActive(ctx, "unknown.net", false); !errors.Is(err, ErrDomainNotFound) {
			t.Errorf("expected ErrDomainNotFound, got %v", err)
		}
	})
}

func mustFailDomain(t *testing.T, admin Admin, name string) error {
	t.Helper()
	_, err := admin.CreateDomain(context.Background(), name)
	if err == nil {
		t.Fatalf("expected CreateDomain(%q) to fail", name)
	}
	return err
}

func TestAdminUsers(t *testing.T) {
	env := setupTestService(t)
	admin := env.svc.Admin()
	ctx := context.Background()

	if _, err := admin.CreateDomain(ctx, "example.com"); err != nil {
		t.Fatalf("create domain: %v", err)
	}

	u, err := admin.CreateUser(ctx, "Alice@Example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Address != "alice@example.com" || !u.Active {
		t.Errorf("unexpected user: %+v", u)
	}
	if u.PasswordHash == "s3cret-pass" {
		t.Error("password must be stored hashed")
	}

	t.Run("system folders provisioned", func(t *testing.T) {
		folders, err := env.svc.Client(u.ID).Folders(ctx)
		if err != nil {
			t.Fatalf("folders: %v", err)
		}
		if len(folders) != len(store.SystemFolderIDs) {
			t.Errorf("expected %d folders, got %d", len(store.SystemFolderIDs), len(folders))
		}
	})

	t.Run("short password rejected", func(t *testing.T) {
		_, err := admin.CreateUser(ctx, "bob@example.com", "short")
		if _, ok := IsValidationError(err); !ok {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("unhosted domain rejected", func(t *testing.T) {
		if _, err := admin.CreateUser(ctx, "bob@elsewhere.net", "s3cret-pass"); !errors.Is(err, ErrDomainNotFound) {
			t.Errorf("expected ErrDomainNotFound, got %v", err)
		}
	})

	t.Run("authenticate", func(t *testing.T) {
		got, err := admin.Authenticate(ctx, "alice@example.com", "s3cret-pass")
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if got.ID != u.ID {
			t.Errorf("expected user %s, got %s", u.ID, got.ID)
		}

		if _, err := admin.Authenticate(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrBadCredentials) {
			t.Errorf("expected ErrBadCredentials for wrong password, got %v", err)
		}
		if _, err := admin.Authenticate(ctx, "ghost@example.com", "whatever!"); !errors.Is(err, ErrBadCredentials) {
			t.Errorf("expected ErrBadCredentials for unknown user, got %v", err)
		}

		if err := admin.SetUserActive(ctx, "alice@example.com", false); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		if _, err := admin.Authenticate(ctx, "alice@example.com", "s3cret-pass"); !errors.Is(err, ErrBadCredentials) {
			t.Errorf("expected ErrBadCredentials for disabled user, got %v", err)
		}
	})
}

func TestAdminAliases(t *testing.T) {
	env := setupTestService(t)
	admin := env.svc.Admin()
	ctx := context.Background()

	if _, err := admin.CreateDomain(ctx, "example.com"); err != nil {
		t.Fatalf("create domain: %v", err)
	}

	a, err := admin.CreateAlias(ctx, "Team@Example.com", []string{"alice@example.com", "ext@elsewhere.net"})
	if err != nil {
		t.Fatalf("create alias: %v", err)
	}
	if a.Source != "team@example.com" || len(a.Destinations) != 2 {
		t.Errorf("unexpected alias: %+v", a)
	}

	t.Run("empty destinations rejected", func(t *testing.T) {
		_, err := admin.CreateAlias(ctx, "empty@example.com", nil)
		if _, ok := IsValidationError(err); !ok {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("unhosted source rejected", func(t *testing.T) {
		if _, err := admin.CreateAlias(ctx, "x@elsewhere.net", []string{"alice@example.com"}); !errors.Is(err, ErrDomainNotFound) {
			t.Errorf("expected ErrDomainNotFound, got %v", err)
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		aliases, err := admin.ListAliases(ctx, "example.com")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(aliases) != 1 {
			t.Fatalf("expected 1 alias, got %d", len(aliases))
		}
		if err := admin.DeleteAlias(ctx, "team@example.com"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := admin.DeleteAlias(ctx, "team@example.com"); !errors.Is(err, ErrAliasNotFound) {
			t.Errorf("expected ErrAliasNotFound, got %v", err)
		}
	})
}
