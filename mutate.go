package mailstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/virtmail/mailstore/store"
)

// updateWithRetry runs a read-modify-write loop around the store's
// versioned mutators. apply receives the current message and performs a
// mutation with its version; a version conflict triggers a re-read and a
// fresh attempt, every other outcome is final.
func (s *service) updateWithRetry(ctx context.Context, ownerID, messageID string, apply func(cur store.Message) (store.Message, error)) (store.Message, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.maxUpdateAttempts; attempt++ {
		cur, err := s.getOwned(ctx, ownerID, messageID)
		if err != nil {
			return nil, err
		}
		updated, err := apply(cur)
		if errors.Is(err, store.ErrConflict) {
			lastErr = err
			s.logger.Debug("version conflict, retrying",
				"message_id", messageID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: message %s after %d attempts: %v",
		ErrConflict, messageID, s.opts.maxUpdateAttempts, lastErr)
}

// UpdateFlags sets the read and starred flags.
func (m *mailboxClient) UpdateFlags(ctx context.Context, messageID string, flags Flags) (Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.UpdateFlags",
		attribute.String("message.id", messageID))

	updated, err := s.updateFlags(ctx, m.userID, messageID, flags)

	end(err)
	s.otel.record(ctx, opUpdate, start, err)
	return updated, err
}

func (s *service) updateFlags(ctx context.Context, ownerID, messageID string, flags Flags) (store.Message, error) {
	if flags.Empty() {
		return s.getOwned(ctx, ownerID, messageID)
	}
	updated, err := s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		return s.store.SetFlags(ctx, messageID, cur.GetVersion(), flags.Read, flags.Starred)
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ownerID, ownerID, store.ActionFlag, messageID, store.OutcomeOK, "")
	s.indexUpsert(ctx, updated)
	publishEvent(ctx, s, "MessageFlagged", s.events.MessageFlagged, MessageFlaggedEvent{
		MessageID: messageID,
		OwnerID:   ownerID,
		IsRead:    updated.GetIsRead(),
		IsStarred: updated.GetIsStarred(),
		FlaggedAt: time.Now().UTC(),
	})
	return updated, nil
}

// Move relocates a message to another folder. Trash has its own lifecycle;
// use Trash and Restore to enter and leave it.
func (m *mailboxClient) Move(ctx context.Context, messageID string, folderID string) (Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.Move",
		attribute.String("message.id", messageID),
		attribute.String("folder.id", folderID))

	updated, err := s.move(ctx, m.userID, messageID, folderID)

	end(err)
	s.otel.record(ctx, opMove, start, err)
	return updated, err
}

func (s *service) move(ctx context.Context, ownerID, messageID, folderID string) (store.Message, error) {
	if folderID == store.FolderTrash {
		return nil, fmt.Errorf("%w: use Trash to move messages into trash", ErrInvalidFolder)
	}
	if err := s.checkFolderExists(ctx, ownerID, folderID); err != nil {
		return nil, err
	}

	var fromFolder string
	updated, err := s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if store.IsTrashed(cur) {
			return nil, fmt.Errorf("%w: restore %s from trash first", ErrImmutableMessage, messageID)
		}
		if cur.GetFolderID() == folderID {
			return cur, nil
		}
		fromFolder = cur.GetFolderID()
		return s.store.MoveToFolder(ctx, messageID, cur.GetVersion(), folderID)
	})
	if err != nil || fromFolder == "" {
		return updated, err
	}

	s.recordActivity(ctx, ownerID, ownerID, store.ActionMove, messageID, store.OutcomeOK,
		fmt.Sprintf("%s -> %s", fromFolder, folderID))
	s.indexUpsert(ctx, updated)
	publishEvent(ctx, s, "MessageMoved", s.events.MessageMoved, MessageMovedEvent{
		MessageID:  messageID,
		OwnerID:    ownerID,
		FromFolder: fromFolder,
		ToFolder:   folderID,
		MovedAt:    time.Now().UTC(),
	})
	return updated, nil
}

// checkFolderExists verifies the move target. System folders always exist;
// user folders must have been created.
func (s *service) checkFolderExists(ctx context.Context, ownerID, folderID string) error {
	if !store.IsValidFolderID(folderID) {
		return fmt.Errorf("%w: %q", ErrInvalidFolder, folderID)
	}
	if store.IsSystemFolderID(folderID) {
		return nil
	}
	_, err := s.store.GetFolder(ctx, ownerID, folderID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
	if err != nil {
		return fmt.Errorf("check folder %s: %w", folderID, err)
	}
	return nil
}

// Trash moves a message to the trash folder, remembering where it came
// from. Trashing a trashed message is a no-op.
func (m *mailboxClient) Trash(ctx context.Context, messageID string) (Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.Trash",
		attribute.String("message.id", messageID))

	updated, err := s.trash(ctx, m.userID, messageID)

	end(err)
	s.otel.record(ctx, opMove, start, err)
	return updated, err
}

func (s *service) trash(ctx context.Context, ownerID, messageID string) (store.Message, error) {
	var fromFolder string
	updated, err := s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if store.IsTrashed(cur) {
			return cur, nil
		}
		if !stateAllowsTrash(cur.GetState()) {
			return nil, fmt.Errorf("%w: message %s is being sent", ErrImmutableMessage, messageID)
		}
		fromFolder = cur.GetFolderID()
		return s.store.MoveToFolder(ctx, messageID, cur.GetVersion(), store.FolderTrash)
	})
	if err != nil || fromFolder == "" {
		return updated, err
	}

	s.recordActivity(ctx, ownerID, ownerID, store.ActionTrash, messageID, store.OutcomeOK, "")
	s.indexUpsert(ctx, updated)
	publishEvent(ctx, s, "MessageMoved", s.events.MessageMoved, MessageMovedEvent{
		MessageID:  messageID,
		OwnerID:    ownerID,
		FromFolder: fromFolder,
		ToFolder:   store.FolderTrash,
		MovedAt:    time.Now().UTC(),
	})
	return updated, nil
}

// Restore moves a trashed message back to its prior folder. When the prior
// folder is unknown or gone, the message falls back to drafts or the inbox
// by direction.
func (m *mailboxClient) Restore(ctx context.Context, messageID string) (Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.Restore",
		attribute.String("message.id", messageID))

	updated, err := s.restore(ctx, m.userID, messageID)

	end(err)
	s.otel.record(ctx, opMove, start, err)
	return updated, err
}

func (s *service) restore(ctx context.Context, ownerID, messageID string) (store.Message, error) {
	var target string
	updated, err := s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if !store.IsTrashed(cur) {
			return nil, fmt.Errorf("%w: %s", ErrNotInTrash, messageID)
		}
		target = s.restoreTarget(ctx, ownerID, cur)
		return s.store.MoveToFolder(ctx, messageID, cur.GetVersion(), target)
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ownerID, ownerID, store.ActionRestore, messageID, store.OutcomeOK, target)
	s.indexUpsert(ctx, updated)
	publishEvent(ctx, s, "MessageMoved", s.events.MessageMoved, MessageMovedEvent{
		MessageID:  messageID,
		OwnerID:    ownerID,
		FromFolder: store.FolderTrash,
		ToFolder:   target,
		MovedAt:    time.Now().UTC(),
	})
	return updated, nil
}

// restoreTarget picks the folder a restore lands in. An unknown or deleted
// prior folder falls back by direction: outbound messages return to drafts,
// inbound ones to the inbox.
func (s *service) restoreTarget(ctx context.Context, ownerID string, cur store.Message) string {
	prior := cur.GetPriorFolderID()
	if prior != "" && prior != store.FolderTrash {
		if err := s.checkFolderExists(ctx, ownerID, prior); err == nil {
			return prior
		}
	}
	if cur.GetDirection() == store.DirectionOutbound {
		return store.FolderDrafts
	}
	return store.FolderInbox
}

// Purge permanently deletes a trashed message, releasing its attachment
// references. Purging an already purged id is a no-op.
func (m *mailboxClient) Purge(ctx context.Context, messageID string) error {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.Purge",
		attribute.String("message.id", messageID))

	err := s.purge(ctx, m.userID, messageID)

	end(err)
	s.otel.record(ctx, opPurge, start, err)
	return err
}

func (s *service) purge(ctx context.Context, ownerID, messageID string) error {
	cur, err := s.getOwned(ctx, ownerID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !store.IsTrashed(cur) {
		return fmt.Errorf("%w: %s", ErrNotInTrash, messageID)
	}

	// The row goes first: a failed delete leaves the message fully intact
	// in trash, references and all. Only the purge that wins the delete
	// releases the references.
	if err := s.store.HardDelete(ctx, messageID); err != nil {
		// A concurrent purge finishing first is still a success.
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("purge message %s: %w", messageID, err)
	}

	s.releaseAttachments(ctx, cur)

	s.recordActivity(ctx, ownerID, ownerID, store.ActionPurge, messageID, store.OutcomeOK, "")
	s.indexRemove(ctx, ownerID, messageID)
	publishEvent(ctx, s, "MessagePurged", s.events.MessagePurged, MessagePurgedEvent{
		MessageID: messageID,
		OwnerID:   ownerID,
		PurgedAt:  time.Now().UTC(),
	})
	return nil
}

// MarkAllRead marks every unread message in the folder as read and returns
// how many were updated.
func (m *mailboxClient) MarkAllRead(ctx context.Context, folderID string) (int64, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return 0, err
	}
	if err := s.checkFolderExists(ctx, m.userID, folderID); err != nil {
		return 0, err
	}
	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore.MarkAllRead",
		attribute.String("folder.id", folderID))

	var updated int64
	msgs, err := s.store.Find(ctx, &store.Query{
		Filters: []*store.Filter{
			store.OwnerIs(m.userID),
			store.InFolder(folderID),
			store.IsUnread(),
		},
	})
	if err == nil {
		read := MarkRead()
		for _, msg := range msgs {
			if _, ferr := s.updateFlags(ctx, m.userID, msg.GetID(), read); ferr == nil {
				updated++
			} else if !errors.Is(ferr, store.ErrNotFound) {
				err = ferr
				break
			}
		}
	}

	end(err)
	s.otel.record(ctx, opUpdate, start, err)
	return updated, err
}
