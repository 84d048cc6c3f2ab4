package index

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrClosed is returned by Apply after Close.
var ErrClosed = errors.New("index: closed")

const defaultQueueSize = 1024

type queued struct {
	update Update
	// flushed is non-nil for flush markers and closed once every earlier
	// update is applied.
	flushed chan struct{}
}

// Memory is an in-process Index. A single worker goroutine applies queued
// updates, which keeps Apply cheap on the write path and makes the index
// eventually consistent by construction.
type Memory struct {
	queue chan queued

	mu         sync.RWMutex
	entries    map[string]Entry
	tombstones map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

var _ Index = (*Memory)(nil)

// NewMemory returns a running in-memory index.
func NewMemory() *Memory {
	m := &Memory{
		queue:      make(chan queued, defaultQueueSize),
		entries:    make(map[string]Entry),
		tombstones: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Memory) run() {
	defer close(m.done)
	for q := range m.queue {
		if q.flushed != nil {
			close(q.flushed)
			continue
		}
		m.apply(q.update)
	}
}

func (m *Memory) apply(u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch u.Op {
	case OpUpsert:
		// A tombstoned id stays gone; a late upsert racing a purge must
		// not resurrect the message.
		if _, dead := m.tombstones[u.Entry.MessageID]; dead {
			return
		}
		m.entries[u.Entry.MessageID] = u.Entry
	case OpRemove:
		delete(m.entries, u.Entry.MessageID)
		m.tombstones[u.Entry.MessageID] = struct{}{}
	}
}

// Apply enqueues the update.
func (m *Memory) Apply(ctx context.Context, u Update) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.queue <- queued{update: u}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// Flush waits for all previously queued updates to be applied.
func (m *Memory) Flush(ctx context.Context) error {
	marker := queued{flushed: make(chan struct{})}
	select {
	case m.queue <- marker:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// Close drains the queue and stops the worker.
func (m *Memory) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.queue)
	})
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Search scans entries for matches, newest first. The returned total counts
// every match regardless of pagination.
func (m *Memory) Search(ctx context.Context, q Query) ([]Entry, int64, error) {
	m.mu.RLock()
	var out []Entry
	for _, e := range m.entries {
		if matches(e, q) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].MessageID > out[j].MessageID
		}
		return out[i].At.After(out[j].At)
	})

	total := int64(len(out))
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, total, nil
}

func matches(e Entry, q Query) bool {
	if q.OwnerID != "" && e.OwnerID != q.OwnerID {
		return false
	}
	if q.From != "" && !strings.EqualFold(e.From, q.From) {
		return false
	}
	if q.FolderID != "" && e.FolderID != q.FolderID {
		return false
	}
	if q.Read != nil && e.IsRead != *q.Read {
		return false
	}
	if q.Starred != nil && e.IsStarred != *q.Starred {
		return false
	}
	if !q.Since.IsZero() && e.At.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.At.After(q.Until) {
		return false
	}
	if q.Contains != "" {
		needle := strings.ToLower(q.Contains)
		if !strings.Contains(strings.ToLower(e.Subject), needle) &&
			!strings.Contains(strings.ToLower(e.Body), needle) {
			return false
		}
	}
	return true
}
