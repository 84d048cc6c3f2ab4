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
	"github.com/virtmail/mailstore/retry"
	"github.com/virtmail/mailstore/store"
)

// Send submits a draft. The message enters the sending state before Send
// returns; resolution, local filing and remote relay then run in the
// background and settle the message into sent or send_failed. A failed
// send may be submitted again.
func (m *mailboxClient) Send(ctx context.Context, messageID string) (Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.Send",
		attribute.String("message.id", messageID))

	sending, err := s.beginSend(ctx, m.userID, messageID)
	if err != nil {
		end(err)
		s.otel.record(ctx, opSend, start, err)
		return nil, err
	}

	// Delivery outlives the caller's context; only service shutdown
	// stops it.
	if err := s.sendSem.Acquire(ctx, 1); err != nil {
		end(err)
		s.otel.record(ctx, opSend, start, err)
		return nil, fmt.Errorf("acquire send slot: %w", err)
	}
	s.sendWG.Add(1)
	go func() {
		defer s.sendWG.Done()
		defer s.sendSem.Release(1)
		s.deliver(context.WithoutCancel(ctx), m.userID, sending)
	}()

	end(nil)
	s.otel.record(ctx, opSend, start, nil)
	return sending, nil
}

// beginSend validates the draft and transitions it to sending.
func (s *service) beginSend(ctx context.Context, ownerID, messageID string) (store.Message, error) {
	return s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if store.IsTrashed(cur) {
			return nil, fmt.Errorf("%w: %s is in trash", ErrImmutableMessage, messageID)
		}
		if err := checkTransition(messageID, cur.GetState(), store.StateSending); err != nil {
			return nil, err
		}
		if len(allRecipients(cur)) == 0 {
			return nil, ErrNoRecipients
		}
		if err := s.plugins.beforeSend(ctx, ownerID, cur); err != nil {
			return nil, err
		}
		return s.store.SetState(ctx, messageID, cur.GetVersion(), store.StateSending, "")
	})
}

// deliver resolves recipients, files local copies, relays remote ones and
// settles the final state.
func (s *service) deliver(ctx context.Context, ownerID string, msg store.Message) {
	messageID := msg.GetID()
	recipients := allRecipients(msg)
	failures := make(map[string]error)

	var local []resolver.Mailbox
	var remote []string
	seenLocal := make(map[string]struct{})
	for _, addr := range recipients {
		res, err := s.resolver.Resolve(ctx, addr)
		if err != nil {
			failures[addr] = err
			continue
		}
		for _, mb := range res.Local {
			if _, dup := seenLocal[mb.UserID]; !dup {
				seenLocal[mb.UserID] = struct{}{}
				local = append(local, mb)
			}
		}
		remote = append(remote, res.Remote...)
	}

	for _, mb := range local {
		if err := s.fileLocalCopy(ctx, mb, msg); err != nil {
			failures[mb.Address] = err
		}
	}

	if len(remote) > 0 {
		if err := s.relayRemote(ctx, msg, remote); err != nil {
			for _, addr := range remote {
				failures[addr] = err
			}
		}
	}

	if len(failures) > 0 && len(failures) >= len(recipients) {
		s.settleSendFailed(ctx, ownerID, messageID, failures)
		return
	}
	s.settleSent(ctx, ownerID, messageID, recipients, failures)
}

// relayRemote pushes the message to the configured submitter with the
// configured backoff. Each attempt runs under the submission timeout, so a
// stalled smarthost counts as a transient failure; permanent rejections
// stop the retry loop.
func (s *service) relayRemote(ctx context.Context, msg store.Message, remote []string) error {
	if s.submitter == nil {
		return ErrNoSubmitter
	}
	cfg := s.opts.sendRetry
	cfg.IsRetryable = func(err error) bool {
		return !mta.IsPermanent(err)
	}
	env := mta.Envelope{
		From:    msg.GetFrom(),
		To:      remote,
		Subject: msg.GetSubject(),
		Body:    msg.GetBody(),
	}
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.submitTimeout)
		defer cancel()
		return s.submitter.Submit(attemptCtx, env)
	})
}

// fileLocalCopy files the outbound message into one local recipient's
// inbox. The delivery key derives from the message id so resubmitting a
// failed send never duplicates local copies.
func (s *service) fileLocalCopy(ctx context.Context, mb resolver.Mailbox, msg store.Message) error {
	data := store.MessageData{
		OwnerID:       mb.UserID,
		From:          msg.GetFrom(),
		To:            msg.GetTo(),
		Cc:            msg.GetCc(),
		Subject:       msg.GetSubject(),
		Body:          msg.GetBody(),
		FolderID:      store.FolderInbox,
		State:         store.StateReceived,
		Direction:     store.DirectionInbound,
		AttachmentIDs: msg.GetAttachmentIDs(),
		ReceivedAt:    time.Now().UTC(),
	}
	return s.fileMessage(ctx, mb.UserID, data, "send:"+msg.GetID())
}

// fileMessage stores one inbound copy idempotently on the delivery key and
// runs the shared filing side effects. Attachment references are rewritten
// onto records the recipient owns before the copy is stored.
func (s *service) fileMessage(ctx context.Context, ownerID string, data store.MessageData, deliveryKey string) error {
	if err := s.plugins.beforeFile(ctx, ownerID, &data); err != nil {
		return err
	}
	data.AttachmentIDs = s.adoptAttachments(ctx, ownerID, data.AttachmentIDs)
	filed, created, err := s.store.CreateIdempotent(ctx, data, deliveryKey)
	if errors.Is(err, store.ErrNotFound) {
		// The key exists but the message was purged: this delivery
		// already happened and must stay final.
		return nil
	}
	if err != nil {
		return fmt.Errorf("file message for %s: %w", ownerID, err)
	}
	if !created {
		return nil
	}

	for _, id := range filed.GetAttachmentIDs() {
		if err := s.store.AddAttachmentRef(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to reference attachment on delivery",
				"attachment_id", id, "error", err)
		}
	}

	s.recordActivity(ctx, ownerID, data.From, store.ActionReceive, filed.GetID(), store.OutcomeOK, "")
	s.indexUpsert(ctx, filed)
	publishEvent(ctx, s, "MessageFiled", s.events.MessageFiled, MessageFiledEvent{
		MessageID: filed.GetID(),
		OwnerID:   ownerID,
		From:      data.From,
		Subject:   data.Subject,
		FiledAt:   time.Now().UTC(),
	})
	return nil
}

// settleSent finalizes a successful send: sent state, sent folder, events.
func (s *service) settleSent(ctx context.Context, ownerID, messageID string, recipients []string, failures map[string]error) {
	sent, err := s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if cur.GetState() != store.StateSending {
			return cur, nil
		}
		return s.store.SetState(ctx, messageID, cur.GetVersion(), store.StateSent, "")
	})
	if err != nil {
		s.logger.Error("failed to mark message sent", "message_id", messageID, "error", err)
		return
	}
	sent, err = s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if cur.GetFolderID() != store.FolderDrafts {
			return cur, nil
		}
		return s.store.MoveToFolder(ctx, messageID, cur.GetVersion(), store.FolderSent)
	})
	if err != nil {
		s.logger.Error("failed to move message to sent folder", "message_id", messageID, "error", err)
	}

	detail := ""
	if len(failures) > 0 {
		detail = fmt.Sprintf("partial: %d of %d recipients failed", len(failures), len(recipients))
		s.logger.Warn("send completed with partial failures",
			"message_id", messageID, "failed", len(failures), "total", len(recipients))
	}
	s.recordActivity(ctx, ownerID, ownerID, store.ActionSend, messageID, store.OutcomeOK, detail)
	s.indexUpsert(ctx, sent)
	if err := s.plugins.afterSend(ctx, ownerID, sent); err != nil {
		s.logger.Warn("after-send hook failed", "message_id", messageID, "error", err)
	}
	publishEvent(ctx, s, "MessageSent", s.events.MessageSent, MessageSentEvent{
		MessageID:  messageID,
		OwnerID:    ownerID,
		Recipients: recipients,
		Subject:    sent.GetSubject(),
		SentAt:     time.Now().UTC(),
	})
}

// settleSendFailed finalizes an abandoned send.
func (s *service) settleSendFailed(ctx context.Context, ownerID, messageID string, failures map[string]error) {
	reason := failureReason(failures)
	failed, err := s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if cur.GetState() != store.StateSending {
			return cur, nil
		}
		return s.store.SetState(ctx, messageID, cur.GetVersion(), store.StateSendFailed, reason)
	})
	if err != nil {
		s.logger.Error("failed to mark message send_failed", "message_id", messageID, "error", err)
		return
	}

	s.logger.Warn("send failed", "message_id", messageID, "reason", reason)
	s.recordActivity(ctx, ownerID, ownerID, store.ActionSend, messageID, store.OutcomeFailed, reason)
	s.indexUpsert(ctx, failed)
	publishEvent(ctx, s, "MessageSendFailed", s.events.MessageSendFailed, MessageSendFailedEvent{
		MessageID: messageID,
		OwnerID:   ownerID,
		Reason:    reason,
		FailedAt:  time.Now().UTC(),
	})
}

// failureReason flattens per-recipient failures into a stored reason.
func failureReason(failures map[string]error) string {
	parts := make([]string, 0, len(failures))
	for addr, err := range failures {
		parts = append(parts, addr+": "+err.Error())
	}
	const maxReason = 512
	reason := strings.Join(parts, "; ")
	if len(reason) > maxReason {
		reason = reason[:maxReason]
	}
	return reason
}

// HandleBounce applies an asynchronous bounce for a previously sent
// message: the message drops back to send_failed with the bounce reason
// and stays in its current folder. Bouncing an already failed message is a
// no-op so bounce notifications may be redelivered.
func (s *service) HandleBounce(ctx context.Context, ownerID, messageID, reason string) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	var alreadyFailed bool
	failed, err := s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if cur.GetState() == store.StateSendFailed {
			alreadyFailed = true
			return cur, nil
		}
		if err := checkTransition(messageID, cur.GetState(), store.StateSendFailed); err != nil {
			return nil, err
		}
		return s.store.SetState(ctx, messageID, cur.GetVersion(), store.StateSendFailed, reason)
	})
	if err != nil {
		return err
	}
	if alreadyFailed {
		return nil
	}

	s.indexUpsert(ctx, failed)
	s.recordActivity(ctx, ownerID, "bounce", store.ActionSend, messageID, store.OutcomeFailed, reason)
	publishEvent(ctx, s, "MessageSendFailed", s.events.MessageSendFailed, MessageSendFailedEvent{
		MessageID: messageID,
		OwnerID:   ownerID,
		Reason:    reason,
		FailedAt:  time.Now().UTC(),
	})
	return nil
}
