// Package resolver turns recipient addresses into concrete delivery
// targets: local mailboxes for hosted users and remote addresses for
// everything else, with alias chains expanded along the way.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxAliasDepth bounds alias chain expansion. A chain longer than this is
// rejected even if it would eventually terminate.
const MaxAliasDepth = 10

// Sentinel errors.
var (
	// ErrUnknownAddress is returned for a hosted domain with no matching
	// user or alias.
	ErrUnknownAddress = errors.New("resolver: unknown address")

	// ErrInactiveAddress is returned when the domain or user exists but
	// is deactivated.
	ErrInactiveAddress = errors.New("resolver: address is inactive")

	// ErrInvalidAddress is returned for a syntactically invalid address.
	ErrInvalidAddress = errors.New("resolver: invalid address")
)

// Mailbox identifies one local delivery target.
type Mailbox struct {
	UserID  string
	Address string
}

// Resolution is the fully expanded result for one recipient address.
type Resolution struct {
	// Local lists hosted mailboxes to file into, deduplicated.
	Local []Mailbox
	// Remote lists non-hosted addresses to relay, deduplicated.
	Remote []string
}

// Empty reports whether the resolution carries no targets.
func (r Resolution) Empty() bool {
	return len(r.Local) == 0 && len(r.Remote) == 0
}

// Resolver resolves a recipient address to delivery targets.
type Resolver interface {
	Resolve(ctx context.Context, address string) (Resolution, error)
}

// AliasLoopError is returned when alias expansion revisits an address.
type AliasLoopError struct {
	Address string
	Chain   []string
}

func (e *AliasLoopError) Error() string {
	return fmt.Sprintf("resolver: alias loop at %s (chain: %s)", e.Address, strings.Join(e.Chain, " -> "))
}

// AliasDepthError is returned when an alias chain exceeds MaxAliasDepth.
type AliasDepthError struct {
	Address string
	Depth   int
}

func (e *AliasDepthError) Error() string {
	return fmt.Sprintf("resolver: alias chain for %s exceeds %d hops", e.Address, e.Depth)
}

// SplitAddress breaks an address into lowercased local part and domain.
func SplitAddress(address string) (local, domain string, err error) {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return address[:at], address[at+1:], nil
}
