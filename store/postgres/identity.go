package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/virtmail/mailstore/store"
)

type domainRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type userRow struct {
	ID           string    `db:"id"`
	DomainID     string    `db:"domain_id"`
	LocalPart    string    `db:"local_part"`
	Address      string    `db:"address"`
	PasswordHash string    `db:"password_hash"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

type aliasRow struct {
	ID           string         `db:"id"`
	DomainID     string         `db:"domain_id"`
	Source       string         `db:"source"`
	Destinations pq.StringArray `db:"destinations"`
	Active       bool           `db:"active"`
	CreatedAt    time.Time      `db:"created_at"`
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

// CreateDomain registers a hosted domain.
func (s *Store) CreateDomain(ctx context.Context, d store.Domain) (store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return store.Domain{}, err
	}
	if d.ID == "" || d.Name == "" {
		return store.Domain{}, store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, name, active, created_at) VALUES ($1, $2, $3, $4)`, s.domains())
	if _, err := s.db.ExecContext(ctx, query, d.ID, strings.ToLower(d.Name), d.Active, d.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return store.Domain{}, store.ErrAlreadyExists
		}
		return store.Domain{}, fmt.Errorf("create domain: %w", err)
	}
	return d, nil
}

// GetDomainByName looks up a hosted domain.
func (s *Store) GetDomainByName(ctx context.Context, name string) (store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return store.Domain{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT id, name, active, created_at FROM %s WHERE name = $1`, s.domains())
	var row domainRow
	if err := s.db.GetContext(ctx, &row, query, strings.ToLower(name)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Domain{}, store.ErrNotFound
		}
		return store.Domain{}, fmt.Errorf("get domain: %w", err)
	}
	return store.Domain(row), nil
}

// ListDomains lists all hosted domains.
func (s *Store) ListDomains(ctx context.Context) ([]store.Domain, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT id, name, active, created_at FROM %s ORDER BY name`, s.domains())
	var rows []domainRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	out := make([]store.Domain, len(rows))
	for i, row := range rows {
		out[i] = store.Domain(row)
	}
	return out, nil
}

// SetDomainActive enables or disables a domain.
func (s *Store) SetDomainActive(ctx context.Context, id string, active bool) error {
	return s.setActive(ctx, s.domains(), id, active)
}

func (s *Store) setActive(ctx context.Context, table, id string, active bool) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET active = $1 WHERE id = $2`, table)
	res, err := s.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateUser provisions a user record.
func (s *Store) CreateUser(ctx context.Context, u store.MailUser) (store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailUser{}, err
	}
	if u.ID == "" || u.Address == "" {
		return store.MailUser{}, store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Address = strings.ToLower(u.Address)
	query := fmt.Sprintf(`
		INSERT INTO %s (id, domain_id, local_part, address, password_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.users())
	_, err := s.db.ExecContext(ctx, query, u.ID, u.DomainID, u.LocalPart, u.Address, u.PasswordHash, u.Active, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.MailUser{}, store.ErrAlreadyExists
		}
		return store.MailUser{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (store.MailUser, error) {
	return s.getUserBy(ctx, "id", id)
}

// GetUserByAddress returns a user by address.
func (s *Store) GetUserByAddress(ctx context.Context, address string) (store.MailUser, error) {
	return s.getUserBy(ctx, "address", strings.ToLower(address))
}

func (s *Store) getUserBy(ctx context.Context, col, val string) (store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailUser{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, domain_id, local_part, address, password_hash, active, created_at
		FROM %s WHERE %s = $1
	`, s.users(), col)
	var row userRow
	if err := s.db.GetContext(ctx, &row, query, val); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.MailUser{}, store.ErrNotFound
		}
		return store.MailUser{}, fmt.Errorf("get user: %w", err)
	}
	return store.MailUser(row), nil
}

// ListUsers lists the users of one domain.
func (s *Store) ListUsers(ctx context.Context, domainID string) ([]store.MailUser, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, domain_id, local_part, address, password_hash, active, created_at
		FROM %s WHERE domain_id = $1 ORDER BY address
	`, s.users())
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, query, domainID); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]store.MailUser, len(rows))
	for i, row := range rows {
		out[i] = store.MailUser(row)
	}
	return out, nil
}

// SetUserActive enables or disables a user.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	return s.setActive(ctx, s.users(), id, active)
}

// CreateAlias registers an alias redirection.
func (s *Store) CreateAlias(ctx context.Context, a store.Alias) (store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return store.Alias{}, err
	}
	if a.ID == "" || a.Source == "" {
		return store.Alias{}, store.ErrInvalidID
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Source = strings.ToLower(a.Source)
	query := fmt.Sprintf(`
		INSERT INTO %s (id, domain_id, source, destinations, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.aliases())
	_, err := s.db.ExecContext(ctx, query, a.ID, a.DomainID, a.Source, pq.Array(a.Destinations), a.Active, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Alias{}, store.ErrAlreadyExists
		}
		return store.Alias{}, fmt.Errorf("create alias: %w", err)
	}
	return a, nil
}

// GetAliasBySource returns the alias registered for source.
func (s *Store) GetAliasBySource(ctx context.Context, source string) (store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return store.Alias{}, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, domain_id, source, destinations, active, created_at
		FROM %s WHERE source = $1
	`, s.aliases())
	var row aliasRow
	if err := s.db.GetContext(ctx, &row, query, strings.ToLower(source)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Alias{}, store.ErrNotFound
		}
		return store.Alias{}, fmt.Errorf("get alias: %w", err)
	}
	return row.toAlias(), nil
}

func (r aliasRow) toAlias() store.Alias {
	return store.Alias{
		ID:           r.ID,
		DomainID:     r.DomainID,
		Source:       r.Source,
		Destinations: r.Destinations,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
	}
}

// ListAliases lists the aliases of one domain.
func (s *Store) ListAliases(ctx context.Context, domainID string) ([]store.Alias, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, domain_id, source, destinations, active, created_at
		FROM %s WHERE domain_id = $1 ORDER BY source
	`, s.aliases())
	var rows []aliasRow
	if err := s.db.SelectContext(ctx, &rows, query, domainID); err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	out := make([]store.Alias, len(rows))
	for i, row := range rows {
		out[i] = row.toAlias()
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

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.aliases())
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete alias: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
