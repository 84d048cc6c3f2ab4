package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/virtmail/mailstore/store"
)

// CreateDomain registers a mail domain. Names are stored lowercased.
func (s *Store) CreateDomain(ctx context.Context, d store.Domain) (store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return store.Domain{}, err
	}
	if d.Name == "" {
		return store.Domain{}, fmt.Errorf("%w: missing domain name", store.ErrInvalidData)
	}
	d.Name = strings.ToLower(d.Name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.domains {
		if existing.Name == d.Name {
			return store.Domain{}, fmt.Errorf("%w: domain %q", store.ErrAlreadyExists, d.Name)
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	s.domains[d.ID] = d
	return d, nil
}

// GetDomainByName looks up a domain by its lowercased name.
func (s *Store) GetDomainByName(ctx context.Context, name string) (store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return store.Domain{}, err
	}
	name = strings.ToLower(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.domains {
		if d.Name == name {
			return d, nil
		}
	}
	return store.Domain{}, store.ErrNotFound
}

// ListDomains returns all domains sorted by name.
func (s *Store) ListDomains(ctx context.Context) ([]store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetDomainActive toggles a domain.
func (s *Store) SetDomainActive(ctx context.Context, id string, active bool) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Active = active
	s.domains[id] = d
	return nil
}

// CreateUser registers a mailbox owner.
func (s *Store) CreateUser(ctx context.Context, u store.MailUser) (store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailUser{}, err
	}
	if u.Address == "" {
		return store.MailUser{}, fmt.Errorf("%w: missing address", store.ErrInvalidData)
	}
	u.Address = strings.ToLower(u.Address)
	u.LocalPart = strings.ToLower(u.LocalPart)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Address == u.Address {
			return store.MailUser{}, fmt.Errorf("%w: user %q", store.ErrAlreadyExists, u.Address)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

// GetUser looks up a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailUser{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return store.MailUser{}, store.ErrNotFound
	}
	return u, nil
}

// GetUserByAddress looks up a user by full address.
func (s *Store) GetUserByAddress(ctx context.Context, address string) (store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailUser{}, err
	}
	address = strings.ToLower(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Address == address {
			return u, nil
		}
	}
	return store.MailUser{}, store.ErrNotFound
}

// ListUsers returns users in a domain sorted by address.
func (s *Store) ListUsers(ctx context.Context, domainID string) ([]store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.MailUser
	for _, u := range s.users {
		if u.DomainID == domainID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// SetUserActive toggles a user.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Active = active
	s.users[id] = u
	return nil
}

// CreateAlias registers a forwarding alias.
func (s *Store) CreateAlias(ctx context.Context, a store.Alias) (store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return store.Alias{}, err
	}
	if a.Source == "" || len(a.Destinations) == 0 {
		return store.Alias{}, fmt.Errorf("%w: alias needs source and destinations", store.ErrInvalidData)
	}
	a.Source = strings.ToLower(a.Source)
	for i, d := range a.Destinations {
		a.Destinations[i] = strings.ToLower(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.aliases {
		if existing.Source == a.Source {
			return store.Alias{}, fmt.Errorf("%w: alias %q", store.ErrAlreadyExists, a.Source)
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	s.aliases[a.ID] = a
	return a, nil
}

// GetAliasBySource looks up an alias by source address.
func (s *Store) GetAliasBySource(ctx context.Context, source string) (store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return store.Alias{}, err
	}
	source = strings.ToLower(source)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.aliases {
		if a.Source == source {
			return a, nil
		}
	}
	return store.Alias{}, store.ErrNotFound
}

// ListAliases returns aliases in a domain sorted by source.
func (s *Store) ListAliases(ctx context.Context, domainID string) ([]store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Alias
	for _, a := range s.aliases {
		if a.DomainID == domainID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// DeleteAlias removes an alias.
func (s *Store) DeleteAlias(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aliases[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.aliases, id)
	return nil
}
