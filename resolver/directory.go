package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/virtmail/mailstore/store"
)

// Directory resolves addresses against the identity records in a store:
// hosted domains, their users, and alias chains.
type Directory struct {
	ids store.IdentityStore
	log *slog.Logger
}

var _ Resolver = (*Directory)(nil)

// NewDirectory returns a Directory over the given identity store.
func NewDirectory(ids store.IdentityStore, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{ids: ids, log: log}
}

// AcceptsDomain reports whether the named domain is hosted and active.
// SMTP frontends call this during the rcpt phase before accepting mail.
func (d *Directory) AcceptsDomain(ctx context.Context, name string) (bool, error) {
	domain, err := d.ids.GetDomainByName(ctx, strings.ToLower(strings.TrimSpace(name)))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolver: lookup domain %s: %w", name, err)
	}
	return domain.Active, nil
}

// UserActive reports whether the address maps to an active hosted user.
// Aliases do not count; expand those through Resolve or AliasDestinations.
func (d *Directory) UserActive(ctx context.Context, address string) (bool, error) {
	local, domain, err := SplitAddress(address)
	if err != nil {
		return false, err
	}
	user, err := d.ids.GetUserByAddress(ctx, local+"@"+domain)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolver: lookup user %s: %w", address, err)
	}
	return user.Active, nil
}

// AliasDestinations returns the unexpanded destinations of an active alias,
// or nil when no active alias matches the source address.
func (d *Directory) AliasDestinations(ctx context.Context, source string) ([]string, error) {
	local, domain, err := SplitAddress(source)
	if err != nil {
		return nil, err
	}
	alias, err := d.ids.GetAliasBySource(ctx, local+"@"+domain)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolver: lookup alias %s: %w", source, err)
	}
	if !alias.Active {
		return nil, nil
	}
	return append([]string(nil), alias.Destinations...), nil
}

// Resolve expands the address to delivery targets. Addresses in domains we
// do not host resolve to remote targets without further checks.
func (d *Directory) Resolve(ctx context.Context, address string) (Resolution, error) {
	var res Resolution
	seenLocal := make(map[string]struct{})
	seenRemote := make(map[string]struct{})

	err := d.expand(ctx, address, nil, &res, seenLocal, seenRemote)
	if err != nil {
		return Resolution{}, err
	}
	return res, nil
}

// expand resolves one address, recursing through aliases. chain holds the
// alias sources already followed in this branch, used for loop detection
// and depth accounting.
func (d *Directory) expand(ctx context.Context, address string, chain []string, res *Resolution, seenLocal, seenRemote map[string]struct{}) error {
	local, domainName, err := SplitAddress(address)
	if err != nil {
		return err
	}
	address = local + "@" + domainName

	for _, prev := range chain {
		if prev == address {
			return &AliasLoopError{Address: address, Chain: append(append([]string(nil), chain...), address)}
		}
	}
	if len(chain) > MaxAliasDepth {
		return &AliasDepthError{Address: chain[0], Depth: MaxAliasDepth}
	}

	domain, err := d.ids.GetDomainByName(ctx, domainName)
	if errors.Is(err, store.ErrNotFound) {
		if _, dup := seenRemote[address]; !dup {
			seenRemote[address] = struct{}{}
			res.Remote = append(res.Remote, address)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolver: lookup domain %s: %w", domainName, err)
	}
	if !domain.Active {
		return fmt.Errorf("%w: domain %s", ErrInactiveAddress, domainName)
	}

	// Aliases shadow users with the same source address.
	alias, err := d.ids.GetAliasBySource(ctx, address)
	if err == nil {
		if !alias.Active {
			return fmt.Errorf("%w: alias %s", ErrInactiveAddress, address)
		}
		next := append(append([]string(nil), chain...), address)
		for _, dest := range alias.Destinations {
			if err := d.expand(ctx, dest, next, res, seenLocal, seenRemote); err != nil {
				return err
			}
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resolver: lookup alias %s: %w", address, err)
	}

	user, err := d.ids.GetUserByAddress(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	if err != nil {
		return fmt.Errorf("resolver: lookup user %s: %w", address, err)
	}
	if !user.Active {
		return fmt.Errorf("%w: user %s", ErrInactiveAddress, address)
	}

	if _, dup := seenLocal[user.ID]; !dup {
		seenLocal[user.ID] = struct{}{}
		res.Local = append(res.Local, Mailbox{UserID: user.ID, Address: user.Address})
	}
	d.log.Debug("resolved address", "address", strings.ToLower(address), "user", user.ID, "hops", len(chain))
	return nil
}
