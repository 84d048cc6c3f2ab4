package mailstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/virtmail/mailstore/resolver"
	"github.com/virtmail/mailstore/store"
)

// Admin provisions the virtual identities mail routes against: hosted
// domains, the users inside them and alias redirections.
type Admin interface {
	// CreateDomain registers a hosted domain. Addresses in unregistered
	// domains resolve as remote.
	CreateDomain(ctx context.Context, name string) (store.Domain, error)
	ListDomains(ctx context.Context) ([]store.Domain, error)
	// SetDomainActive enables or disables delivery for a whole domain.
	SetDomainActive(ctx context.Context, name string, active bool) error

	// CreateUser provisions a mailbox at the given address inside a
	// hosted domain and creates its system folders.
	CreateUser(ctx context.Context, address, password string) (store.MailUser, error)
	GetUserByAddress(ctx context.Context, address string) (store.MailUser, error)
	ListUsers(ctx context.Context, domainName string) ([]store.MailUser, error)
	SetUserActive(ctx context.Context, address string, active bool) error
	// Authenticate verifies a user's password and returns the user.
	Authenticate(ctx context.Context, address, password string) (store.MailUser, error)

	// CreateAlias redirects mail for source to one or more destination
	// addresses. Destinations may be local, aliases themselves or
	// remote.
	CreateAlias(ctx context.Context, source string, destinations []string) (store.Alias, error)
	ListAliases(ctx context.Context, domainName string) ([]store.Alias, error)
	DeleteAlias(ctx context.Context, source string) error
}

var (
	// ErrDomainNotFound indicates the domain is not hosted here.
	ErrDomainNotFound = fmt.Errorf("mailstore: domain: %w", store.ErrNotFound)
	// ErrUserNotFound indicates no user exists at the address.
	ErrUserNotFound = fmt.Errorf("mailstore: user: %w", store.ErrNotFound)
	// ErrAliasNotFound indicates no alias exists for the source.
	ErrAliasNotFound = fmt.Errorf("mailstore: alias: %w", store.ErrNotFound)
	// ErrBadCredentials indicates a failed authentication attempt.
	ErrBadCredentials = errors.New("mailstore: bad credentials")
)

// adminClient implements Admin on top of the service's identity store.
type adminClient struct {
	service *service
}

var _ Admin = (*adminClient)(nil)

// Admin returns the identity provisioning surface.
func (s *service) Admin() Admin {
	return &adminClient{service: s}
}

// CreateDomain registers a hosted domain.
func (a *adminClient) CreateDomain(ctx context.Context, name string) (store.Domain, error) {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return store.Domain{}, err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || strings.ContainsAny(name, "@ ") {
		return store.Domain{}, &ValidationError{Field: "Name", Message: fmt.Sprintf("invalid domain %q", name)}
	}
	d, err := s.store.CreateDomain(ctx, store.Domain{
		ID:        uuid.NewString(),
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return store.Domain{}, fmt.Errorf("create domain %s: %w", name, err)
	}
	s.logger.Info("domain created", "domain", name)
	return d, nil
}

// ListDomains lists all hosted domains.
func (a *adminClient) ListDomains(ctx context.Context) ([]store.Domain, error) {
	if err := a.service.checkAccess(); err != nil {
		return nil, err
	}
	return a.service.store.ListDomains(ctx)
}

// SetDomainActive enables or disables a domain.
func (a *adminClient) SetDomainActive(ctx context.Context, name string, active bool) error {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return err
	}
	d, err := a.getDomain(ctx, name)
	if err != nil {
		return err
	}
	if err := s.store.SetDomainActive(ctx, d.ID, active); err != nil {
		return fmt.Errorf("set domain %s active=%t: %w", name, active, err)
	}
	s.logger.Info("domain state changed", "domain", name, "active", active)
	return nil
}

// CreateUser provisions a mailbox and its system folders.
func (a *adminClient) CreateUser(ctx context.Context, address, password string) (store.MailUser, error) {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return store.MailUser{}, err
	}
	local, domainName, err := resolver.SplitAddress(address)
	if err != nil {
		return store.MailUser{}, &ValidationError{Field: "Address", Message: err.Error()}
	}
	d, err := a.getDomain(ctx, domainName)
	if err != nil {
		return store.MailUser{}, err
	}
	if len(password) < 8 {
		return store.MailUser{}, &ValidationError{Field: "Password", Message: "must be at least 8 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.MailUser{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, store.MailUser{
		ID:           uuid.NewString(),
		DomainID:     d.ID,
		LocalPart:    local,
		Address:      strings.ToLower(local + "@" + domainName),
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return store.MailUser{}, fmt.Errorf("create user %s: %w", address, err)
	}
	if err := s.store.EnsureSystemFolders(ctx, u.ID); err != nil {
		return store.MailUser{}, fmt.Errorf("provision folders for %s: %w", address, err)
	}
	s.recordActivity(ctx, u.ID, "admin", store.ActionCreate, u.ID, store.OutcomeOK, "user "+u.Address)
	s.logger.Info("user created", "address", u.Address, "user_id", u.ID)
	return u, nil
}

// GetUserByAddress looks up a user by address.
func (a *adminClient) GetUserByAddress(ctx context.Context, address string) (store.MailUser, error) {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return store.MailUser{}, err
	}
	u, err := s.store.GetUserByAddress(ctx, strings.ToLower(strings.TrimSpace(address)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.MailUser{}, fmt.Errorf("%w: %s", ErrUserNotFound, address)
		}
		return store.MailUser{}, fmt.Errorf("get user %s: %w", address, err)
	}
	return u, nil
}

// ListUsers lists the users of one hosted domain.
func (a *adminClient) ListUsers(ctx context.Context, domainName string) ([]store.MailUser, error) {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	d, err := a.getDomain(ctx, domainName)
	if err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, d.ID)
}

// SetUserActive enables or disables one mailbox.
func (a *adminClient) SetUserActive(ctx context.Context, address string, active bool) error {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return err
	}
	u, err := a.GetUserByAddress(ctx, address)
	if err != nil {
		return err
	}
	if err := s.store.SetUserActive(ctx, u.ID, active); err != nil {
		return fmt.Errorf("set user %s active=%t: %w", address, active, err)
	}
	s.logger.Info("user state changed", "address", u.Address, "active", active)
	return nil
}

// Authenticate verifies a password against the stored bcrypt hash.
// Disabled users fail authentication.
func (a *adminClient) Authenticate(ctx context.Context, address, password string) (store.MailUser, error) {
	u, err := a.GetUserByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return store.MailUser{}, ErrBadCredentials
		}
		return store.MailUser{}, err
	}
	if !u.Active {
		return store.MailUser{}, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return store.MailUser{}, ErrBadCredentials
	}
	return u, nil
}

// CreateAlias redirects mail for source to the destination addresses.
func (a *adminClient) CreateAlias(ctx context.Context, source string, destinations []string) (store.Alias, error) {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return store.Alias{}, err
	}
	_, domainName, err := resolver.SplitAddress(source)
	if err != nil {
		return store.Alias{}, &ValidationError{Field: "Source", Message: err.Error()}
	}
	d, err := a.getDomain(ctx, domainName)
	if err != nil {
		return store.Alias{}, err
	}
	if len(destinations) == 0 {
		return store.Alias{}, &ValidationError{Field: "Destinations", Message: "must not be empty"}
	}
	normalized := make([]string, 0, len(destinations))
	for _, dest := range destinations {
		if err := validateAddress("Destinations", dest); err != nil {
			return store.Alias{}, err
		}
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(dest)))
	}

	alias, err := s.store.CreateAlias(ctx, store.Alias{
		ID:           uuid.NewString(),
		DomainID:     d.ID,
		Source:       strings.ToLower(strings.TrimSpace(source)),
		Destinations: normalized,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return store.Alias{}, fmt.Errorf("create alias %s: %w", source, err)
	}
	s.logger.Info("alias created", "source", alias.Source, "destinations", len(normalized))
	return alias, nil
}

// ListAliases lists the aliases of one hosted domain.
func (a *adminClient) ListAliases(ctx context.Context, domainName string) ([]store.Alias, error) {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	d, err := a.getDomain(ctx, domainName)
	if err != nil {
		return nil, err
	}
	return s.store.ListAliases(ctx, d.ID)
}

// DeleteAlias removes the alias for source.
func (a *adminClient) DeleteAlias(ctx context.Context, source string) error {
	s := a.service
	if err := s.checkAccess(); err != nil {
		return err
	}
	alias, err := s.store.GetAliasBySource(ctx, strings.ToLower(strings.TrimSpace(source)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAliasNotFound, source)
		}
		return fmt.Errorf("get alias %s: %w", source, err)
	}
	if err := s.store.DeleteAlias(ctx, alias.ID); err != nil {
		return fmt.Errorf("delete alias %s: %w", source, err)
	}
	s.logger.Info("alias deleted", "source", alias.Source)
	return nil
}

func (a *adminClient) getDomain(ctx context.Context, name string) (store.Domain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	d, err := a.service.store.GetDomainByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Domain{}, fmt.Errorf("%w: %s", ErrDomainNotFound, name)
		}
		return store.Domain{}, fmt.Errorf("get domain %s: %w", name, err)
	}
	return d, nil
}
