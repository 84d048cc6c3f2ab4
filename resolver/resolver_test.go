package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/virtmail/mailstore/store"
	"github.com/virtmail/mailstore/store/memory"
)

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		in      string
		local   string
		domain  string
		wantErr bool
	}{
		{"alice@example.com", "alice", "example.com", false},
		{"  Alice@Example.COM  ", "alice", "example.com", false},
		{`"odd@name"@example.com`, `"odd@name"`, "example.com", false},
		{"alice", "", "", true},
		{"@example.com", "", "", true},
		{"alice@", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		local, domain, err := SplitAddress(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("SplitAddress(%q): expected ErrInvalidAddress, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitAddress(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if local != tt.local || domain != tt.domain {
			t.Errorf("SplitAddress(%q) = %q, %q; want %q, %q", tt.in, local, domain, tt.local, tt.domain)
		}
	}
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	r := NewStatic(map[string]Mailbox{
		"Alice@Example.com": {UserID: "u1", Address: "alice@example.com"},
	})

	t.Run("mapped address is local", func(t *testing.T) {
		res, err := r.Resolve(ctx, "alice@EXAMPLE.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Local) != 1 || res.Local[0].UserID != "u1" {
			t.Errorf("expected local mailbox u1, got %+v", res)
		}
		if len(res.Remote) != 0 {
			t.Errorf("expected no remote targets, got %v", res.Remote)
		}
	})

	t.Run("unmapped address is remote", func(t *testing.T) {
		res, err := r.Resolve(ctx, "bob@elsewhere.net")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Remote) != 1 || res.Remote[0] != "bob@elsewhere.net" {
			t.Errorf("expected remote bob@elsewhere.net, got %+v", res)
		}
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := r.Resolve(ctx, "not-an-address")
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress, got %v", err)
		}
	})
}

// setupDirectory creates a connected memory store with a hosted domain
// and returns the identity store plus the domain record.
func setupDirectory(t *testing.T) (*memory.Store, store.Domain) {
	t.Helper()
	st := memory.New()
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { st.Close(context.Background()) })

	dom, err := st.CreateDomain(context.Background(), store.Domain{Name: "example.com", Active: true})
	if err != nil {
		t.Fatalf("create domain: %v", err)
	}
	return st, dom
}

func addUser(t *testing.T, st *memory.Store, dom store.Domain, local string, active bool) store.MailUser {
	t.Helper()
	u, err := st.CreateUser(context.Background(), store.MailUser{
		DomainID:  dom.ID,
		LocalPart: local,
		Address:   local + "@" + dom.Name,
		Active:    active,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", local, err)
	}
	return u
}

func addAlias(t *testing.T, st *memory.Store, dom store.Domain, source string, dests ...string) store.Alias {
	t.Helper()
	a, err := st.CreateAlias(context.Background(), store.Alias{
		DomainID:     dom.ID,
		Source:       source,
		Destinations: dests,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create alias %s: %v", source, err)
	}
	return a
}

func TestDirectoryResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("hosted user", func(t *testing.T) {
		st, dom := setupDirectory(t)
		u := addUser(t, st, dom, "alice", true)

		res, err := NewDirectory(st, nil).Resolve(ctx, "Alice@Example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Local) != 1 || res.Local[0].UserID != u.ID {
			t.Errorf("expected local mailbox for %s, got %+v", u.ID, res)
		}
	})

	t.Run("unhosted domain is remote", func(t *testing.T) {
		st, _ := setupDirectory(t)

		res, err := NewDirectory(st, nil).Resolve(ctx, "carol@elsewhere.net")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Remote) != 1 || res.Remote[0] != "carol@elsewhere.net" {
			t.Errorf("expected remote target, got %+v", res)
		}
	})

	t.Run("unknown local part", func(t *testing.T) {
		st, _ := setupDirectory(t)

		_, err := NewDirectory(st, nil).Resolve(ctx, "ghost@example.com")
		if !errors.Is(err, ErrUnknownAddress) {
			t.Errorf("expected ErrUnknownAddress, got %v", err)
		}
	})

	t.Run("alias fan out with dedup", func(t *testing.T) {
		st, dom := setupDirectory(t)
		alice := addUser(t, st, dom, "alice", true)
		bob := addUser(t, st, dom, "bob", true)
		// alice appears via two paths, result carries her once.
		addAlias(t, st, dom, "team@example.com",
			"alice@example.com", "bob@example.com", "alice@example.com", "ext@elsewhere.net", "ext@elsewhere.net")

		res, err := NewDirectory(st, nil).Resolve(ctx, "team@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Local) != 2 {
			t.Fatalf("expected 2 local mailboxes, got %+v", res.Local)
		}
		got := map[string]bool{res.Local[0].UserID: true, res.Local[1].UserID: true}
		if !got[alice.ID] || !got[bob.ID] {
			t.Errorf("expected alice and bob, got %+v", res.Local)
		}
		if len(res.Remote) != 1 || res.Remote[0] != "ext@elsewhere.net" {
			t.Errorf("expected one remote target, got %v", res.Remote)
		}
	})

	t.Run("alias shadows user", func(t *testing.T) {
		st, dom := setupDirectory(t)
		addUser(t, st, dom, "sales", true)
		bob := addUser(t, st, dom, "bob", true)
		addAlias(t, st, dom, "sales@example.com", "bob@example.com")

		res, err := NewDirectory(st, nil).Resolve(ctx, "sales@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Local) != 1 || res.Local[0].UserID != bob.ID {
			t.Errorf("expected alias target bob, got %+v", res.Local)
		}
	})

	t.Run("chained aliases", func(t *testing.T) {
		st, dom := setupDirectory(t)
		alice := addUser(t, st, dom, "alice", true)
		addAlias(t, st, dom, "a@example.com", "b@example.com")
		addAlias(t, st, dom, "b@example.com", "alice@example.com")

		res, err := NewDirectory(st, nil).Resolve(ctx, "a@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Local) != 1 || res.Local[0].UserID != alice.ID {
			t.Errorf("expected alice via chain, got %+v", res)
		}
	})

	t.Run("alias loop", func(t *testing.T) {
		st, dom := setupDirectory(t)
		addAlias(t, st, dom, "x@example.com", "y@example.com")
		addAlias(t, st, dom, "y@example.com", "x@example.com")

		_, err := NewDirectory(st, nil).Resolve(ctx, "x@example.com")
		var loopErr *AliasLoopError
		if !errors.As(err, &loopErr) {
			t.Fatalf("expected AliasLoopError, got %v", err)
		}
		if loopErr.Address != "x@example.com" {
			t.Errorf("expected loop detected at x@example.com, got %s", loopErr.Address)
		}
	})

	t.Run("alias chain too deep", func(t *testing.T) {
		st, dom := setupDirectory(t)
		addUser(t, st, dom, "end", true)
		// hop0 -> hop1 -> ... -> hop12 -> end, well past the depth cap.
		for i := 0; i < 12; i++ {
			src := hopAddr(i)
			dest := hopAddr(i + 1)
			if i == 11 {
				dest = "end@example.com"
			}
			addAlias(t, st, dom, src, dest)
		}

		_, err := NewDirectory(st, nil).Resolve(ctx, hopAddr(0))
		var depthErr *AliasDepthError
		if !errors.As(err, &depthErr) {
			t.Fatalf("expected AliasDepthError, got %v", err)
		}
	})

	t.Run("inactive domain", func(t *testing.T) {
		st, dom := setupDirectory(t)
		addUser(t, st, dom, "alice", true)
		if err := st.SetDomainActive(ctx, dom.ID, false); err != nil {
			t.Fatalf("deactivate domain: %v", err)
		}

		_, err := NewDirectory(st, nil).Resolve(ctx, "alice@example.com")
		if !errors.Is(err, ErrInactiveAddress) {
			t.Errorf("expected ErrInactiveAddress, got %v", err)
		}
	})

	t.Run("inactive user", func(t *testing.T) {
		st, dom := setupDirectory(t)
		addUser(t, st, dom, "gone", false)

		_, err := NewDirectory(st, nil).Resolve(ctx, "gone@example.com")
		if !errors.Is(err, ErrInactiveAddress) {
			t.Errorf("expected ErrInactiveAddress, got %v", err)
		}
	})

	t.Run("inactive alias", func(t *testing.T) {
		st, dom := setupDirectory(t)
		addUser(t, st, dom, "alice", true)
		a := addAlias(t, st, dom, "old@example.com", "alice@example.com")
		// Recreate as inactive; memory store has no alias update.
		if err := st.DeleteAlias(ctx, a.ID); err != nil {
			t.Fatalf("delete alias: %v", err)
		}
		if _, err := st.CreateAlias(ctx, store.Alias{
			DomainID: dom.ID, Source: "old@example.com",
			Destinations: []string{"alice@example.com"}, Active: false,
		}); err != nil {
			t.Fatalf("recreate alias: %v", err)
		}

		_, err := NewDirectory(st, nil).Resolve(ctx, "old@example.com")
		if !errors.Is(err, ErrInactiveAddress) {
			t.Errorf("expected ErrInactiveAddress, got %v", err)
		}
	})
}

func TestDirectoryLookups(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts hosted active domain", func(t *testing.T) {
		st, _ := setupDirectory(t)
		d := NewDirectory(st, nil)

		ok, err := d.AcceptsDomain(ctx, " Example.COM ")
		if err != nil || !ok {
			t.Errorf("expected hosted domain accepted, got %v (err %v)", ok, err)
		}
		ok, err = d.AcceptsDomain(ctx, "elsewhere.net")
		if err != nil || ok {
			t.Errorf("expected unhosted domain refused, got %v (err %v)", ok, err)
		}
	})

	t.Run("inactive domain refused", func(t *testing.T) {
		st, dom := setupDirectory(t)
		if err := st.SetDomainActive(ctx, dom.ID, false); err != nil {
			t.Fatalf("deactivate domain: %v", err)
		}
		ok, err := NewDirectory(st, nil).AcceptsDomain(ctx, "example.com")
		if err != nil || ok {
			t.Errorf("expected inactive domain refused, got %v (err %v)", ok, err)
		}
	})

	t.Run("user active", func(t *testing.T) {
		st, dom := setupDirectory(t)
		addUser(t, st, dom, "alice", true)
		addUser(t, st, dom, "gone", false)
		d := NewDirectory(st, nil)

		ok, err := d.UserActive(ctx, "Alice@Example.com")
		if err != nil || !ok {
			t.Errorf("expected active user, got %v (err %v)", ok, err)
		}
		ok, err = d.UserActive(ctx, "gone@example.com")
		if err != nil || ok {
			t.Errorf("expected inactive user refused, got %v (err %v)", ok, err)
		}
		ok, err = d.UserActive(ctx, "ghost@example.com")
		if err != nil || ok {
			t.Errorf("expected unknown user refused, got %v (err %v)", ok, err)
		}
		if _, err := d.UserActive(ctx, "not-an-address"); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress, got %v", err)
		}
	})

	t.Run("alias destinations", func(t *testing.T) {
		st, dom := setupDirectory(t)
		addUser(t, st, dom, "alice", true)
		addAlias(t, st, dom, "team@example.com", "alice@example.com", "ext@elsewhere.net")
		d := NewDirectory(st, nil)

		dests, err := d.AliasDestinations(ctx, "Team@Example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dests) != 2 || dests[0] != "alice@example.com" || dests[1] != "ext@elsewhere.net" {
			t.Errorf("unexpected destinations: %v", dests)
		}

		none, err := d.AliasDestinations(ctx, "solo@example.com")
		if err != nil || none != nil {
			t.Errorf("expected no destinations for a non-alias, got %v (err %v)", none, err)
		}
	})
}

func hopAddr(i int) string {
	return "hop" + string(rune('a'+i)) + "@example.com"
}
