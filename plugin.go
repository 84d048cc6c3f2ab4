package mailstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/virtmail/mailstore/store"
)

// Plugin defines the interface for engine extensions. Plugins hook into
// outbound sends and inbound filing; for observing other operations, use
// the event system instead.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when the service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when the service closes.
	Close(ctx context.Context) error
}

// SendHook is called around outbound sends. Use BeforeSend for rate
// limiting or content validation.
type SendHook interface {
	Plugin
	// BeforeSend is called before a draft is submitted. Return an error
	// to abort the send.
	BeforeSend(ctx context.Context, ownerID string, draft store.Message) error
	// AfterSend is called after a message reaches the sent state. The
	// message cannot be rolled back at this point.
	AfterSend(ctx context.Context, ownerID string, msg store.Message) error
}

// FileHook is called before an inbound message is filed into a mailbox.
// Use it for spam scoring or rerouting: mutate the proposed data to change
// the target folder or flags, or return an error to reject the delivery.
type FileHook interface {
	Plugin
	BeforeFile(ctx context.Context, ownerID string, data *store.MessageData) error
}

// pluginRegistry holds registered plugins by hook type.
type pluginRegistry struct {
	all    []Plugin
	send   []SendHook
	file   []FileHook
	logger *slog.Logger
}

func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)
	if h, ok := p.(SendHook); ok {
		r.send = append(r.send, h)
	}
	if h, ok := p.(FileHook); ok {
		r.file = append(r.file, h)
	}
}

// initAll initializes all plugins. On failure, already initialized plugins
// are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (r *pluginRegistry) beforeSend(ctx context.Context, ownerID string, draft store.Message) error {
	for _, h := range r.send {
		if err := h.BeforeSend(ctx, ownerID, draft); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeSend", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterSend(ctx context.Context, ownerID string, msg store.Message) error {
	for _, h := range r.send {
		if err := h.AfterSend(ctx, ownerID, msg); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterSend", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) beforeFile(ctx context.Context, ownerID string, data *store.MessageData) error {
	for _, h := range r.file {
		if err := h.BeforeFile(ctx, ownerID, data); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeFile", Err: err}
		}
	}
	return nil
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
