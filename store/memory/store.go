// Package memory implements store.Store entirely in process memory. It is
// the reference backend used by tests and by embedders that do not need
// durability.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/virtmail/mailstore/store"
)

// Store is an in-memory store.Store implementation. The zero value is not
// usable; call New.
type Store struct {
	connected atomic.Bool

	// messages maps message id to *message.
	messages sync.Map
	// deliveryKeys maps ownerID+"\x00"+deliveryKey to message id for
	// idempotent inbound filing.
	deliveryKeys sync.Map

	mu          sync.RWMutex
	folders     map[string]store.Folder // key: ownerID + "/" + folderID
	domains     map[string]store.Domain
	users       map[string]store.MailUser
	aliases     map[string]store.Alias
	activity    map[string][]store.ActivityEntry
	attachments map[string]store.AttachmentMeta
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		folders:     make(map[string]store.Folder),
		domains:     make(map[string]store.Domain),
		users:       make(map[string]store.MailUser),
		aliases:     make(map[string]store.Alias),
		activity:    make(map[string][]store.ActivityEntry),
		attachments: make(map[string]store.AttachmentMeta),
	}
}

// Connect marks the store ready.
func (s *Store) Connect(ctx context.Context) error {
	s.connected.Store(true)
	return nil
}

// Close marks the store closed. Data is retained so a reconnect sees the
// same state.
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

func folderKey(ownerID, folderID string) string {
	return ownerID + "/" + folderID
}

func deliveryKeyIndex(ownerID, key string) string {
	return ownerID + "\x00" + key
}
