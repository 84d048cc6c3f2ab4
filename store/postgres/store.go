// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"github.com/virtmail/mailstore/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected atomic.Bool
	logger    *slog.Logger
}

// New creates a PostgreSQL store on the provided connection. Call Connect
// to create the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB wraps a standard sql.DB connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect pings the database and creates missing tables and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.connected.Store(true)
	s.logger.Info("connected to PostgreSQL", "table_prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected. The caller owns the database
// connection and closes it separately.
func (s *Store) Close(ctx context.Context) error {
	s.connected.Store(false)
	return nil
}

func (s *Store) checkConnected() error {
	if !s.connected.Load() {
		return store.ErrNotConnected
	}
	return nil
}

// opCtx bounds one operation with the configured timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.timeout)
}

// Table name helpers.
func (s *Store) messages() string     { return s.opts.prefix + "_messages" }
func (s *Store) deliveryKeys() string { return s.opts.prefix + "_delivery_keys" }
func (s *Store) folders() string      { return s.opts.prefix + "_folders" }
func (s *Store) domains() string      { return s.opts.prefix + "_domains" }
func (s *Store) users() string        { return s.opts.prefix + "_users" }
func (s *Store) aliases() string      { return s.opts.prefix + "_aliases" }
func (s *Store) activity() string     { return s.opts.prefix + "_activity" }
func (s *Store) attachments() string  { return s.opts.prefix + "_attachments" }

// ensureSchema creates the tables and indexes this store relies on.
func (s *Store) ensureSchema(ctx context.Context) error {
	tables := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				from_addr VARCHAR(512) NOT NULL DEFAULT '',
				to_addrs TEXT[] NOT NULL DEFAULT '{}',
				cc_addrs TEXT[] NOT NULL DEFAULT '{}',
				bcc_addrs TEXT[] NOT NULL DEFAULT '{}',
				subject TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL DEFAULT '',
				folder_id VARCHAR(255) NOT NULL,
				prior_folder_id VARCHAR(255) NOT NULL DEFAULT '',
				state VARCHAR(32) NOT NULL,
				direction VARCHAR(16) NOT NULL,
				is_read BOOLEAN NOT NULL DEFAULT FALSE,
				is_starred BOOLEAN NOT NULL DEFAULT FALSE,
				version BIGINT NOT NULL DEFAULT 1,
				attachment_ids TEXT[] NOT NULL DEFAULT '{}',
				failure_reason TEXT NOT NULL DEFAULT '',
				delivery_key VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				sent_at TIMESTAMPTZ,
				received_at TIMESTAMPTZ
			)
		`, s.messages()),
		// Delivery keys live in their own table and outlive message
		// deletion, keeping redelivery of purged messages a no-op.
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				owner_id VARCHAR(255) NOT NULL,
				delivery_key VARCHAR(255) NOT NULL,
				message_id UUID NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (owner_id, delivery_key)
			)
		`, s.deliveryKeys()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				owner_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_system BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (owner_id, id)
			)
		`, s.folders()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, s.domains()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				domain_id UUID NOT NULL,
				local_part VARCHAR(255) NOT NULL,
				address VARCHAR(512) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, s.users()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				domain_id UUID NOT NULL,
				source VARCHAR(512) NOT NULL UNIQUE,
				destinations TEXT[] NOT NULL DEFAULT '{}',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, s.aliases()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				actor VARCHAR(512) NOT NULL DEFAULT '',
				action VARCHAR(64) NOT NULL,
				target_id VARCHAR(255) NOT NULL DEFAULT '',
				outcome VARCHAR(32) NOT NULL,
				detail TEXT NOT NULL DEFAULT '',
				at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, s.activity()),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				filename VARCHAR(512) NOT NULL,
				content_type VARCHAR(255) NOT NULL DEFAULT '',
				content_hash VARCHAR(128) NOT NULL,
				size BIGINT NOT NULL DEFAULT 0,
				ref_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, s.attachments()),
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	m := s.messages()
	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner_folder ON %s(owner_id, folder_id, created_at DESC)`, m, m),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner_state ON %s(owner_id, state)`, m, m),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_folder_updated ON %s(folder_id, updated_at)`, m, m),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner_unread ON %s(owner_id, folder_id) WHERE NOT is_read`, m, m),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(owner_id, at DESC)`, s.activity(), s.activity()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner_hash ON %s(owner_id, content_hash)`, s.attachments(), s.attachments()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_hash ON %s(content_hash)`, s.attachments(), s.attachments()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_domain ON %s(domain_id)`, s.users(), s.users()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_domain ON %s(domain_id)`, s.aliases(), s.aliases()),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}
	return nil
}
