package mailstore

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/virtmail/mailstore/index"
	"github.com/virtmail/mailstore/mta"
	"github.com/virtmail/mailstore/resolver"
	"github.com/virtmail/mailstore/retry"
	"github.com/virtmail/mailstore/store"
)

// Default configuration values.
const (
	DefaultTrashRetention  = 30 * 24 * time.Hour
	MinTrashRetention      = 24 * time.Hour
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second

	// Message limits
	DefaultMaxSubjectLength   = 998 // RFC 5322 max line length
	DefaultMaxBodySize        = 10 * 1024 * 1024
	DefaultMaxAttachmentSize  = 25 * 1024 * 1024
	DefaultMaxAttachmentCount = 20
	DefaultMaxRecipientCount  = 100

	// Query limits
	DefaultMaxQueryLimit = 100
	DefaultQueryLimit    = 20

	// Concurrency limits
	DefaultMaxConcurrentSends = 10
	DefaultInboundWorkers     = 4

	// How long one remote submission attempt may take before it is
	// abandoned and retried as a transient failure.
	DefaultSubmitTimeout = 30 * time.Second

	// Optimistic concurrency: how many times an update is retried after
	// losing a version race before giving up with ErrConflict.
	DefaultMaxUpdateAttempts = 5

	// Stats cache
	DefaultStatsRefreshInterval = 30 * time.Second
)

// DefaultSendRetry is the retry policy applied to remote submission.
var DefaultSendRetry = retry.Config{
	MaxRetries:     4,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
	Multiplier:     2,
	Jitter:         0.2,
}

// options holds service configuration.
type options struct {
	store     store.Store
	files     store.FileStore
	resolver  resolver.Resolver
	submitter mta.Submitter
	index     index.Index
	logger    *slog.Logger

	plugins []Plugin

	trashRetention time.Duration

	// Message limits
	maxSubjectLength   int
	maxBodySize        int
	maxAttachmentSize  int64
	maxAttachmentCount int
	maxRecipientCount  int

	// Query limits
	maxQueryLimit     int
	defaultQueryLimit int

	// Concurrency
	maxConcurrentSends int
	inboundWorkers     int
	maxUpdateAttempts  int
	sendRetry          retry.Config
	submitTimeout      time.Duration

	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	statsRefreshInterval time.Duration

	// Event handling
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc
}

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the failure callback with panic recovery so
// a broken handler cannot take the operation down with it.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:               slog.Default(),
		trashRetention:       DefaultTrashRetention,
		maxSubjectLength:     DefaultMaxSubjectLength,
		maxBodySize:          DefaultMaxBodySize,
		maxAttachmentSize:    DefaultMaxAttachmentSize,
		maxAttachmentCount:   DefaultMaxAttachmentCount,
		maxRecipientCount:    DefaultMaxRecipientCount,
		maxQueryLimit:        DefaultMaxQueryLimit,
		defaultQueryLimit:    DefaultQueryLimit,
		maxConcurrentSends:   DefaultMaxConcurrentSends,
		inboundWorkers:       DefaultInboundWorkers,
		maxUpdateAttempts:    DefaultMaxUpdateAttempts,
		sendRetry:            DefaultSendRetry,
		submitTimeout:        DefaultSubmitTimeout,
		shutdownTimeout:      DefaultShutdownTimeout,
		statsRefreshInterval: DefaultStatsRefreshInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.defaultQueryLimit > o.maxQueryLimit {
		o.defaultQueryLimit = o.maxQueryLimit
	}
	return o
}

// Option configures the service.
type Option func(*options)

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithFileStore sets the attachment blob backend. Attachment operations
// fail with ErrFileStoreRequired when unset.
func WithFileStore(fs store.FileStore) Option {
	return func(o *options) { o.files = fs }
}

// WithResolver sets the recipient resolver. Defaults to a directory
// resolver backed by the configured store.
func WithResolver(r resolver.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithSubmitter sets the outbound relay for remote recipients. Without one,
// sends addressed to remote recipients fail with ErrNoSubmitter.
func WithSubmitter(s mta.Submitter) Option {
	return func(o *options) { o.submitter = s }
}

// WithIndex sets the search index. Defaults to an in-memory index.
func WithIndex(idx index.Index) Option {
	return func(o *options) { o.index = idx }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// WithTrashRetention sets how long trashed messages are kept before
// CleanupTrash purges them. Values below MinTrashRetention are ignored.
func WithTrashRetention(d time.Duration) Option {
	return func(o *options) {
		if d >= MinTrashRetention {
			o.trashRetention = d
		}
	}
}

// WithTracing enables or disables OpenTelemetry tracing.
func WithTracing(enabled bool) Option {
	return func(o *options) { o.tracingEnabled = enabled }
}

// WithMetrics enables or disables OpenTelemetry metrics.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metricsEnabled = enabled }
}

// WithOTel enables or disables both tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the name used for event bus and telemetry scoping.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

// WithTracerProvider sets an explicit tracer provider. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets an explicit meter provider. Defaults to the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithMaxBodySize limits message body size in bytes.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithMaxSubjectLength limits subject length in bytes.
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSubjectLength = n
		}
	}
}

// WithMaxAttachmentSize limits individual attachment size in bytes.
func WithMaxAttachmentSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttachmentSize = n
		}
	}
}

// WithMaxAttachmentCount limits attachments per message.
func WithMaxAttachmentCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttachmentCount = n
		}
	}
}

// WithMaxRecipients limits recipients per message.
func WithMaxRecipients(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRecipientCount = n
		}
	}
}

// WithMaxQueryLimit caps the page size of list and search queries.
func WithMaxQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQueryLimit = n
		}
	}
}

// WithDefaultQueryLimit sets the page size used when a query does not
// specify one.
func WithDefaultQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultQueryLimit = n
		}
	}
}

// WithMaxConcurrentSends limits concurrent outbound sends.
func WithMaxConcurrentSends(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSends = n
		}
	}
}

// WithInboundWorkers sets the size of the inbound filing worker pool.
func WithInboundWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboundWorkers = n
		}
	}
}

// WithMaxUpdateAttempts sets how many times an update retries after a
// version conflict.
func WithMaxUpdateAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxUpdateAttempts = n
		}
	}
}

// WithSendRetry sets the retry policy for remote submission.
func WithSendRetry(cfg retry.Config) Option {
	return func(o *options) { o.sendRetry = cfg }
}

// WithSubmitTimeout bounds one remote submission attempt. A timed out
// attempt counts as a transient failure and is retried per the send retry
// policy.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.submitTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Close waits for in-flight sends.
// Values below MinShutdownTimeout are ignored.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithStatsRefreshInterval sets the TTL for cached mailbox stats.
func WithStatsRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.statsRefreshInterval = d
		}
	}
}

// WithEventTransport sets a custom event bus transport.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) { o.eventTransport = t }
}

// WithRedisClient routes events over a Redis transport.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = client }
}

// WithEventPublishFailureHandler sets a callback invoked when an event
// fails to publish. Publish failures never fail the operation itself.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) { o.onEventPublishFailure = fn }
}
