package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/virtmail/mailstore/store"
)

type domainDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"created_at"`
}

type userDoc struct {
	ID           string    `bson:"_id"`
	DomainID     string    `bson:"domain_id"`
	LocalPart    string    `bson:"local_part"`
	Address      string    `bson:"address"`
	PasswordHash string    `bson:"password_hash"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"created_at"`
}

type aliasDoc struct {
	ID           string    `bson:"_id"`
	DomainID     string    `bson:"domain_id"`
	Source       string    `bson:"source"`
	Destinations []string  `bson:"destinations"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"created_at"`
}

// CreateDomain records a hosted domain.
func (s *Store) CreateDomain(ctx context.Context, d store.Domain) (store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return store.Domain{}, err
	}
	if d.ID == "" || d.Name == "" {
		return store.Domain{}, fmt.Errorf("%w: domain id and name required", store.ErrInvalidData)
	}
	d.Name = strings.ToLower(d.Name)
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.domains().InsertOne(ctx, domainDoc(d)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.Domain{}, fmt.Errorf("domain %s: %w", d.Name, store.ErrAlreadyExists)
		}
		return store.Domain{}, fmt.Errorf("create domain: %w", err)
	}
	return d, nil
}

// GetDomainByName looks up a domain by its lowercase name.
func (s *Store) GetDomainByName(ctx context.Context, name string) (store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return store.Domain{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var d domainDoc
	err := s.domains().FindOne(ctx, bson.M{"name": strings.ToLower(name)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Domain{}, store.ErrNotFound
	}
	if err != nil {
		return store.Domain{}, fmt.Errorf("get domain: %w", err)
	}
	return store.Domain(d), nil
}

// ListDomains returns all hosted domains.
func (s *Store) ListDomains(ctx context.Context) ([]store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.domains().Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer cur.Close(ctx)

	var out []store.Domain
	for cur.Next(ctx) {
		var d domainDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode domain: %w", err)
		}
		out = append(out, store.Domain(d))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return out, nil
}

// SetDomainActive toggles a domain.
func (s *Store) SetDomainActive(ctx context.Context, id string, active bool) error {
	return s.setActive(ctx, s.domains(), id, active)
}

func (s *Store) setActive(ctx context.Context, c *mongo.Collection, id string, active bool) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"active": active}})
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateUser records a mailbox owner.
func (s *Store) CreateUser(ctx context.Context, u store.MailUser) (store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailUser{}, err
	}
	if u.ID == "" || u.Address == "" || u.DomainID == "" {
		return store.MailUser{}, fmt.Errorf("%w: user id, address and domain required", store.ErrInvalidData)
	}
	u.Address = strings.ToLower(u.Address)
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.users().InsertOne(ctx, userDoc(u)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.MailUser{}, fmt.Errorf("user %s: %w", u.Address, store.ErrAlreadyExists)
		}
		return store.MailUser{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (store.MailUser, error) {
	return s.getUserBy(ctx, "_id", id)
}

// GetUserByAddress returns a user by lowercase address.
func (s *Store) GetUserByAddress(ctx context.Context, address string) (store.MailUser, error) {
	return s.getUserBy(ctx, "address", strings.ToLower(address))
}

func (s *Store) getUserBy(ctx context.Context, field, value string) (store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailUser{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var u userDoc
	err := s.users().FindOne(ctx, bson.M{field: value}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.MailUser{}, store.ErrNotFound
	}
	if err != nil {
		return store.MailUser{}, fmt.Errorf("get user: %w", err)
	}
	return store.MailUser(u), nil
}

// ListUsers returns the users of a domain.
func (s *Store) ListUsers(ctx context.Context, domainID string) ([]store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.users().Find(ctx, bson.M{"domain_id": domainID})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)

	var out []store.MailUser
	for cur.Next(ctx) {
		var u userDoc
		if err := cur.Decode(&u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out = append(out, store.MailUser(u))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// SetUserActive toggles a user.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	return s.setActive(ctx, s.users(), id, active)
}

// CreateAlias records a forwarding alias.
func (s *Store) CreateAlias(ctx context.Context, a store.Alias) (store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return store.Alias{}, err
	}
	if a.ID == "" || a.Source == "" || len(a.Destinations) == 0 {
		return store.Alias{}, fmt.Errorf("%w: alias id, source and destinations required", store.ErrInvalidData)
	}
	a.Source = strings.ToLower(a.Source)
	for i, dst := range a.Destinations {
		a.Destinations[i] = strings.ToLower(dst)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.aliases().InsertOne(ctx, aliasDoc(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.Alias{}, fmt.Errorf("alias %s: %w", a.Source, store.ErrAlreadyExists)
		}
		return store.Alias{}, fmt.Errorf("create alias: %w", err)
	}
	return a, nil
}

// GetAliasBySource returns an alias by its lowercase source address.
func (s *Store) GetAliasBySource(ctx context.Context, source string) (store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return store.Alias{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var a aliasDoc
	err := s.aliases().FindOne(ctx, bson.M{"source": strings.ToLower(source)}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Alias{}, store.ErrNotFound
	}
	if err != nil {
		return store.Alias{}, fmt.Errorf("get alias: %w", err)
	}
	return store.Alias(a), nil
}

// ListAliases returns the aliases of a domain.
func (s *Store) ListAliases(ctx context.Context, domainID string) ([]store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.aliases().Find(ctx, bson.M{"domain_id": domainID})
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer cur.Close(ctx)

	var out []store.Alias
	for cur.Next(ctx) {
		var a aliasDoc
		if err := cur.Decode(&a); err != nil {
			return nil, fmt.Errorf("decode alias: %w", err)
		}
		out = append(out, store.Alias(a))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	return out, nil
}

// DeleteAlias removes an alias by id.
func (s *Store) DeleteAlias(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.aliases().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete alias: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
