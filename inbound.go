package mailstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/virtmail/mailstore/mta"
	"github.com/virtmail/mailstore/resolver"
	"github.com/virtmail/mailstore/store"
)

// InboundMessage is a message arriving from an external transport, such
// as an SMTP frontend.
type InboundMessage struct {
	// From is the envelope sender address.
	From string
	// To lists the envelope recipient addresses.
	To []string
	// Subject and Body carry the parsed message content.
	Subject string
	Body    string
	// AttachmentIDs references attachment metadata already uploaded by
	// the transport. Optional.
	AttachmentIDs []string
	// DeliveryID identifies this delivery attempt. Redelivering with the
	// same DeliveryID files nothing new. Required.
	DeliveryID string
	// ReceivedAt is when the transport accepted the message. Zero means
	// now.
	ReceivedAt time.Time
}

// inboundTask is one mailbox filing handed to the worker pool.
type inboundTask struct {
	ctx     context.Context
	mailbox resolver.Mailbox
	data    store.MessageData
	key     string
	done    chan error
}

// AcceptInbound resolves the recipients of an inbound message and files a
// copy into every local mailbox. It blocks until every copy is durably
// stored; the search index catches up asynchronously. Recipients that
// resolve to remote addresses are relayed through the submitter when one
// is configured.
//
// Filing is idempotent on msg.DeliveryID, so a transport may safely retry
// after a timeout.
func (s *service) AcceptInbound(ctx context.Context, msg InboundMessage) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.AcceptInbound",
		attribute.String("delivery.id", msg.DeliveryID))
	err := s.acceptInbound(ctx, msg)
	end(err)
	s.otel.record(ctx, opFile, start, err)
	return err
}

func (s *service) acceptInbound(ctx context.Context, msg InboundMessage) error {
	if msg.DeliveryID == "" {
		return &ValidationError{Field: "delivery_id", Message: "must not be empty"}
	}
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := s.validateContent(msg.Subject, msg.Body); err != nil {
		return err
	}
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	failures := make(map[string]error)
	var local []resolver.Mailbox
	var remote []string
	seen := make(map[string]struct{})
	for _, addr := range msg.To {
		res, err := s.resolver.Resolve(ctx, addr)
		if err != nil {
			failures[addr] = err
			continue
		}
		for _, mb := range res.Local {
			if _, dup := seen[mb.UserID]; !dup {
				seen[mb.UserID] = struct{}{}
				local = append(local, mb)
			}
		}
		remote = append(remote, res.Remote...)
	}

	tasks := make([]*inboundTask, 0, len(local))
	// Dispatch under the close guard: once Close flips the state the
	// re-check below rejects the batch, and a dispatch already past it
	// finishes before the channel closes.
	s.closeMu.RLock()
	if !s.IsConnected() {
		s.closeMu.RUnlock()
		return ErrNotConnected
	}
	for _, mb := range local {
		task := &inboundTask{
			ctx:     ctx,
			mailbox: mb,
			data: store.MessageData{
				OwnerID:       mb.UserID,
				From:          msg.From,
				To:            msg.To,
				Subject:       msg.Subject,
				Body:          msg.Body,
				FolderID:      store.FolderInbox,
				State:         store.StateReceived,
				Direction:     store.DirectionInbound,
				AttachmentIDs: msg.AttachmentIDs,
				ReceivedAt:    receivedAt,
			},
			key:  msg.DeliveryID,
			done: make(chan error, 1),
		}
		select {
		case s.inboundCh <- task:
			tasks = append(tasks, task)
		case <-ctx.Done():
			failures[mb.Address] = ctx.Err()
		}
	}
	s.closeMu.RUnlock()
	for _, task := range tasks {
		select {
		case err := <-task.done:
			if err != nil {
				failures[task.mailbox.Address] = err
			}
		case <-ctx.Done():
			failures[task.mailbox.Address] = ctx.Err()
		}
	}

	// Alias destinations may point outside the hosted domains.
	if len(remote) > 0 {
		if err := s.relayInbound(ctx, msg, remote); err != nil {
			for _, addr := range remote {
				failures[addr] = err
			}
		}
	}

	if len(failures) > 0 {
		s.logger.Warn("inbound delivery partially failed",
			"delivery_id", msg.DeliveryID, "failed", len(failures))
		return &PartialDeliveryError{Failed: failures}
	}
	return nil
}

// relayInbound forwards an inbound message to remote alias destinations.
func (s *service) relayInbound(ctx context.Context, msg InboundMessage, remote []string) error {
	if s.submitter == nil {
		return ErrNoSubmitter
	}
	env := mta.Envelope{
		From:    msg.From,
		To:      remote,
		Subject: msg.Subject,
		Body:    msg.Body,
	}
	if err := s.submitter.Submit(ctx, env); err != nil {
		return fmt.Errorf("relay to %s: %w", strings.Join(remote, ","), err)
	}
	return nil
}

// inboundWorker consumes filing tasks until the channel closes on
// shutdown.
func (s *service) inboundWorker() {
	defer s.inboundWG.Done()
	for task := range s.inboundCh {
		err := s.fileInbound(task)
		task.done <- err
	}
}

// fileInbound stores one mailbox copy. The store scopes delivery keys per
// owner, so one attempt id yields one copy per recipient and retries file
// nothing new.
func (s *service) fileInbound(task *inboundTask) error {
	ctx := task.ctx
	key := task.key
	if err := s.fileMessage(ctx, task.mailbox.UserID, task.data, key); err != nil {
		if errors.Is(err, store.ErrInvalidFolder) {
			// First delivery for a freshly provisioned user.
			if ferr := s.store.EnsureSystemFolders(ctx, task.mailbox.UserID); ferr != nil {
				return err
			}
			return s.fileMessage(ctx, task.mailbox.UserID, task.data, key)
		}
		return err
	}
	return nil
}
