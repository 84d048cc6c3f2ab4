package store

import (
	"context"
	"time"
)

// Domain is a mail domain hosted by this installation.
type Domain struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// MailUser is an addressable mailbox owner within a domain.
type MailUser struct {
	ID           string
	DomainID     string
	LocalPart    string
	Address      string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// Alias forwards mail from a source address to one or more destination
// addresses. Destinations may be local or remote and may themselves be
// aliases.
type Alias struct {
	ID           string
	DomainID     string
	Source       string
	Destinations []string
	Active       bool
	CreatedAt    time.Time
}

// IdentityStore holds the routing identities: domains, users and aliases.
type IdentityStore interface {
	CreateDomain(ctx context.Context, d Domain) (Domain, error)
	GetDomainByName(ctx context.Context, name string) (Domain, error)
	ListDomains(ctx context.Context) ([]Domain, error)
	SetDomainActive(ctx context.Context, id string, active bool) error

	CreateUser(ctx context.Context, u MailUser) (MailUser, error)
	GetUser(ctx context.Context, id string) (MailUser, error)
	GetUserByAddress(ctx context.Context, address string) (MailUser, error)
	ListUsers(ctx context.Context, domainID string) ([]MailUser, error)
	SetUserActive(ctx context.Context, id string, active bool) error

	CreateAlias(ctx context.Context, a Alias) (Alias, error)
	GetAliasBySource(ctx context.Context, source string) (Alias, error)
	ListAliases(ctx context.Context, domainID string) ([]Alias, error)
	DeleteAlias(ctx context.Context, id string) error
}
