package mailstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"

	"github.com/virtmail/mailstore/index"
	"github.com/virtmail/mailstore/mta"
	"github.com/virtmail/mailstore/resolver"
	"github.com/virtmail/mailstore/store"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service is the engine root. It owns the storage connections, the inbound
// worker pool and the outbound router, and hands out per-user mailbox
// clients.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends and starts the
	// background workers.
	Connect(ctx context.Context) error
	// Close drains in-flight work and closes all connections.
	Close(ctx context.Context) error
	// Client returns a mailbox client for the given user. The returned
	// client shares the service's connections.
	Client(userID string) Mailbox
	// Admin returns the identity provisioning surface.
	Admin() Admin
	// AcceptInbound files an inbound message into every resolved local
	// mailbox. It returns after all copies are durably stored; the
	// search index catches up asynchronously. Redelivery with the same
	// DeliveryID is a no-op.
	AcceptInbound(ctx context.Context, msg InboundMessage) error
	// HandleBounce applies an asynchronous bounce notification: the sent
	// message drops back to send_failed with the bounce reason.
	HandleBounce(ctx context.Context, ownerID, messageID, reason string) error
	// CleanupTrash permanently deletes messages that have been in trash
	// longer than the configured retention period. Call this
	// periodically from your application's scheduler.
	CleanupTrash(ctx context.Context) (*CleanupTrashResult, error)
	// Flush blocks until in-flight sends have resolved and the search
	// index has caught up. Intended for tests and orderly handoffs.
	Flush(ctx context.Context) error
	// Events returns per-service event instances for subscribing.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store     store.Store
	files     store.FileStore
	resolver  resolver.Resolver
	submitter mta.Submitter
	idx       index.Index
	ownsIdx   bool

	logger  *slog.Logger
	opts    *options
	plugins *pluginRegistry
	otel    *otelInstrumentation

	state int32

	sendSem *semaphore.Weighted
	sendWG  sync.WaitGroup

	inboundCh chan *inboundTask
	inboundWG sync.WaitGroup
	// closeMu guards inboundCh against Close: dispatchers hold the read
	// side while sending, Close takes the write side before closing it.
	closeMu sync.RWMutex

	eventBus *event.Bus
	events   *ServiceEvents

	// statsCache maps ownerID to *statsEntry.
	statsCache sync.Map
}

// NewService creates a new mail store service. Call Connect to establish
// connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:     o.store,
		files:     o.files,
		resolver:  o.resolver,
		submitter: o.submitter,
		idx:       o.index,
		logger:    o.logger,
		opts:      o,
		plugins:   plugins,
		otel:      otelInstr,
		sendSem:   semaphore.NewWeighted(int64(o.maxConcurrentSends)),
	}, nil
}

// Events returns per-service event instances for subscribing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// checkAccess gates every operation on the connection state.
func (s *service) checkAccess() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes connections and starts background workers.
func (s *service) Connect(ctx context.Context) error {
	// Three-state transition keeps Client() from observing a partially
	// initialized service.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if s.resolver == nil {
		s.resolver = resolver.NewDirectory(s.store, s.logger)
	}
	if s.idx == nil {
		s.idx = index.NewMemory()
		s.ownsIdx = true
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	s.inboundCh = make(chan *inboundTask)
	for i := 0; i < s.opts.inboundWorkers; i++ {
		s.inboundWG.Add(1)
		go s.inboundWorker()
	}

	success = true
	s.logger.Info("mail store service connected",
		"inbound_workers", s.opts.inboundWorkers,
		"max_concurrent_sends", s.opts.maxConcurrentSends,
	)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "mailstore"
	}
	// Each bus needs a unique name, so append a counter suffix.
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	return nil
}

// Close drains in-flight work and closes connections.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Once the state flips no new work is accepted, so draining the send
	// semaphore waits out every in-flight send.
	s.logger.Info("waiting for in-flight operations", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer cancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		s.logger.Warn("timeout waiting for in-flight sends", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
	}

	// The workers keep consuming while dispatchers drain, so taking the
	// write lock cannot deadlock against a blocked channel send.
	s.closeMu.Lock()
	close(s.inboundCh)
	s.closeMu.Unlock()
	s.inboundWG.Wait()

	if s.ownsIdx {
		if err := s.idx.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.logger.Info("mail store service closed")
	return errors.Join(errs...)
}

// Flush waits for in-flight sends and the index queue.
func (s *service) Flush(ctx context.Context) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.idx.Flush(ctx)
}
