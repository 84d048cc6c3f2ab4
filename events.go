package mailstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for mail store events.
const (
	EventNameMessageFiled      = "mailstore.message.filed"
	EventNameMessageSent       = "mailstore.message.sent"
	EventNameMessageSendFailed = "mailstore.message.send_failed"
	EventNameMessageMoved      = "mailstore.message.moved"
	EventNameMessageFlagged    = "mailstore.message.flagged"
	EventNameMessagePurged     = "mailstore.message.purged"
)

// MessageFiledEvent is published when an inbound message lands in a
// mailbox. Published once per local recipient, not per delivery attempt.
type MessageFiledEvent struct {
	MessageID string    `json:"message_id"`
	OwnerID   string    `json:"owner_id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	FiledAt   time.Time `json:"filed_at"`
}

// MessageSentEvent is published when an outbound message completes
// submission.
type MessageSentEvent struct {
	MessageID  string    `json:"message_id"`
	OwnerID    string    `json:"owner_id"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
}

// MessageSendFailedEvent is published when submission is abandoned.
type MessageSendFailedEvent struct {
	MessageID string    `json:"message_id"`
	OwnerID   string    `json:"owner_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// MessageMovedEvent is published on folder moves, including trash and
// restore.
type MessageMovedEvent struct {
	MessageID  string    `json:"message_id"`
	OwnerID    string    `json:"owner_id"`
	FromFolder string    `json:"from_folder"`
	ToFolder   string    `json:"to_folder"`
	MovedAt    time.Time `json:"moved_at"`
}

// MessageFlaggedEvent is published when read or starred flags change.
type MessageFlaggedEvent struct {
	MessageID string    `json:"message_id"`
	OwnerID   string    `json:"owner_id"`
	IsRead    bool      `json:"is_read"`
	IsStarred bool      `json:"is_starred"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// MessagePurgedEvent is published on permanent deletion only, never for
// moves to trash.
type MessagePurgedEvent struct {
	MessageID string    `json:"message_id"`
	OwnerID   string    `json:"owner_id"`
	PurgedAt  time.Time `json:"purged_at"`
}

// ServiceEvents provides access to per-service event instances. Each
// service binds its own events to its own bus, enabling independent event
// routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageFiled.Subscribe(ctx, handler)
//	svc.Events().MessageSent.Subscribe(ctx, handler)
type ServiceEvents struct {
	MessageFiled      event.Event[MessageFiledEvent]
	MessageSent       event.Event[MessageSentEvent]
	MessageSendFailed event.Event[MessageSendFailedEvent]
	MessageMoved      event.Event[MessageMovedEvent]
	MessageFlagged    event.Event[MessageFlaggedEvent]
	MessagePurged     event.Event[MessagePurgedEvent]
}

// newServiceEvents creates per-service event instances with a unique name
// prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageFiled:      event.New[MessageFiledEvent](namePrefix + "." + EventNameMessageFiled),
		MessageSent:       event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		MessageSendFailed: event.New[MessageSendFailedEvent](namePrefix + "." + EventNameMessageSendFailed),
		MessageMoved:      event.New[MessageMovedEvent](namePrefix + "." + EventNameMessageMoved),
		MessageFlagged:    event.New[MessageFlaggedEvent](namePrefix + "." + EventNameMessageFlagged),
		MessagePurged:     event.New[MessagePurgedEvent](namePrefix + "." + EventNameMessagePurged),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageFiled); err != nil {
		return fmt.Errorf("register MessageFiled: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageSendFailed); err != nil {
		return fmt.Errorf("register MessageSendFailed: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageMoved); err != nil {
		return fmt.Errorf("register MessageMoved: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageFlagged); err != nil {
		return fmt.Errorf("register MessageFlagged: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessagePurged); err != nil {
		return fmt.Errorf("register MessagePurged: %w", err)
	}
	return nil
}

// publishEvent publishes with the shared failure policy: a publish error is
// logged and handed to the configured failure callback, never returned to
// the caller.
func publishEvent[T any](ctx context.Context, s *service, name string, ev event.Event[T], payload T) {
	if err := ev.Publish(ctx, payload); err != nil {
		s.logger.Warn("event publish failed", "event", name, "error", err)
		s.opts.safeEventPublishFailure(name, err)
	}
}
