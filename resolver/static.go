package resolver

import (
	"context"
	"fmt"
	"strings"
)

// Static is a map-based Resolver for testing and single-node deployments.
// Addresses not in the map resolve as remote. Safe for concurrent use,
// read-only after creation.
type Static struct {
	mailboxes map[string]Mailbox
}

var _ Resolver = (*Static)(nil)

// NewStatic creates a Static resolver from a map of address to local
// mailbox. The map is copied to prevent external mutation.
func NewStatic(mailboxes map[string]Mailbox) *Static {
	m := make(map[string]Mailbox, len(mailboxes))
	for addr, mb := range mailboxes {
		m[strings.ToLower(addr)] = mb
	}
	return &Static{mailboxes: m}
}

// Resolve returns the mapped mailbox, or a remote target for unmapped
// addresses.
func (s *Static) Resolve(_ context.Context, address string) (Resolution, error) {
	local, domain, err := SplitAddress(address)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %q: %w", address, err)
	}
	address = local + "@" + domain
	if mb, ok := s.mailboxes[address]; ok {
		return Resolution{Local: []Mailbox{mb}}, nil
	}
	return Resolution{Remote: []string{address}}, nil
}
