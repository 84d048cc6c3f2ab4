package mailstore

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/virtmail/mailstore/store"
)

// DraftData carries the content of a new draft.
type DraftData struct {
	To            []string
	Cc            []string
	Bcc           []string
	Subject       string
	Body          string
	AttachmentIDs []string
}

// DraftUpdate carries a partial draft edit. Nil fields are left unchanged.
type DraftUpdate = store.DraftUpdate

// CreateDraft stores a new draft in the drafts folder.
func (m *mailboxClient) CreateDraft(ctx context.Context, data DraftData) (Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	ctx, end := s.otel.startSpan(ctx, "mailstore.CreateDraft")

	msg, err := s.createDraft(ctx, m.userID, data)
	end(err)
	return msg, err
}

func (s *service) createDraft(ctx context.Context, ownerID string, data DraftData) (store.Message, error) {
	if err := s.validateDraftData(data); err != nil {
		return nil, err
	}
	if err := s.claimAttachments(ctx, ownerID, data.AttachmentIDs, nil); err != nil {
		return nil, err
	}

	// Drafts carry the owner's canonical address as sender once the owner
	// is provisioned; unprovisioned owners compose with an empty sender.
	from := ""
	if user, err := s.store.GetUser(ctx, ownerID); err == nil {
		from = user.Address
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup sender: %w", err)
	}

	msg, err := s.store.Create(ctx, store.MessageData{
		OwnerID:       ownerID,
		From:          from,
		To:            data.To,
		Cc:            data.Cc,
		Bcc:           data.Bcc,
		Subject:       data.Subject,
		Body:          data.Body,
		FolderID:      store.FolderDrafts,
		State:         store.StateDraft,
		Direction:     store.DirectionOutbound,
		IsRead:        true,
		AttachmentIDs: data.AttachmentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}

	s.recordActivity(ctx, ownerID, ownerID, store.ActionCreate, msg.GetID(), store.OutcomeOK, "draft")
	s.indexUpsert(ctx, msg)
	return msg, nil
}

// UpdateDraft edits draft content. Attachment references are adjusted to
// the new list.
func (m *mailboxClient) UpdateDraft(ctx context.Context, messageID string, upd DraftUpdate) (Message, error) {
	s := m.service
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	ctx, end := s.otel.startSpan(ctx, "mailstore.UpdateDraft",
		attribute.String("message.id", messageID))

	msg, err := s.updateDraft(ctx, m.userID, messageID, upd)
	end(err)
	return msg, err
}

func (s *service) updateDraft(ctx context.Context, ownerID, messageID string, upd DraftUpdate) (store.Message, error) {
	if upd.Subject != nil || upd.Body != nil {
		subject, body := "", ""
		if upd.Subject != nil {
			subject = *upd.Subject
		}
		if upd.Body != nil {
			body = *upd.Body
		}
		if err := s.validateContent(subject, body); err != nil {
			return nil, err
		}
	}
	for field, addrs := range map[string][]string{"To": upd.To, "Cc": upd.Cc, "Bcc": upd.Bcc} {
		if addrs != nil {
			if err := s.validateRecipients(field, addrs); err != nil {
				return nil, err
			}
		}
	}
	if upd.AttachmentIDs != nil {
		if err := s.validateAttachmentIDs(upd.AttachmentIDs); err != nil {
			return nil, err
		}
	}

	var prevAttachments []string
	updated, err := s.updateWithRetry(ctx, ownerID, messageID, func(cur store.Message) (store.Message, error) {
		if cur.GetState() != store.StateDraft {
			return nil, fmt.Errorf("%w: %s", ErrNotDraft, messageID)
		}
		if upd.AttachmentIDs != nil {
			prevAttachments = cur.GetAttachmentIDs()
			if err := s.claimAttachments(ctx, ownerID, upd.AttachmentIDs, prevAttachments); err != nil {
				return nil, err
			}
		}
		return s.store.UpdateDraft(ctx, messageID, cur.GetVersion(), upd)
	})
	if err != nil {
		return nil, err
	}

	if upd.AttachmentIDs != nil {
		s.releaseRemovedAttachments(ctx, prevAttachments, updated.GetAttachmentIDs())
	}
	s.recordActivity(ctx, ownerID, ownerID, store.ActionUpdate, messageID, store.OutcomeOK, "draft")
	s.indexUpsert(ctx, updated)
	return updated, nil
}

// claimAttachments verifies ownership and adds a reference for every id in
// next that is not already referenced in prev.
func (s *service) claimAttachments(ctx context.Context, ownerID string, next, prev []string) error {
	held := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		held[id] = struct{}{}
	}
	var claimed []string
	for _, id := range next {
		if _, ok := held[id]; ok {
			continue
		}
		meta, err := s.store.GetAttachment(ctx, id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && meta.OwnerID != ownerID) {
			s.unclaimAttachments(ctx, claimed)
			return fmt.Errorf("%w: %s", ErrAttachmentNotFound, id)
		}
		if err != nil {
			s.unclaimAttachments(ctx, claimed)
			return fmt.Errorf("get attachment %s: %w", id, err)
		}
		if err := s.store.AddAttachmentRef(ctx, id); err != nil {
			s.unclaimAttachments(ctx, claimed)
			return fmt.Errorf("reference attachment %s: %w", id, err)
		}
		claimed = append(claimed, id)
	}
	return nil
}

// unclaimAttachments rolls back references taken by a failed claim.
func (s *service) unclaimAttachments(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, err := s.store.ReleaseAttachmentRef(ctx, id); err != nil {
			s.logger.Warn("failed to roll back attachment reference",
				"attachment_id", id, "error", err)
		}
	}
}

// releaseRemovedAttachments drops references for ids present in prev but
// absent from next, deleting orphaned blobs.
func (s *service) releaseRemovedAttachments(ctx context.Context, prev, next []string) {
	keep := make(map[string]struct{}, len(next))
	for _, id := range next {
		keep[id] = struct{}{}
	}
	for _, id := range prev {
		if _, ok := keep[id]; ok {
			continue
		}
		s.releaseAttachmentRef(ctx, id)
	}
}

// releaseAttachmentRef releases one reference and deletes the blob once it
// is unreferenced.
func (s *service) releaseAttachmentRef(ctx context.Context, id string) {
	meta, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load attachment for release", "attachment_id", id, "error", err)
		}
		return
	}
	blobUnused, err := s.store.ReleaseAttachmentRef(ctx, id)
	if err != nil {
		s.logger.Warn("failed to release attachment reference", "attachment_id", id, "error", err)
		return
	}
	if blobUnused && s.files != nil {
		if err := s.files.Delete(ctx, meta.ContentHash); err != nil {
			s.logger.Warn("failed to delete attachment blob",
				"attachment_id", id, "hash", meta.ContentHash, "error", err)
		}
	}
}

// releaseAttachments releases every reference a message holds. Called once
// a purge has removed the row; failures are logged since the row is gone
// either way.
func (s *service) releaseAttachments(ctx context.Context, msg store.Message) {
	for _, id := range msg.GetAttachmentIDs() {
		s.releaseAttachmentRef(ctx, id)
	}
}
