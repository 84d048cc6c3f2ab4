package mailstore

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/virtmail/mailstore/store"
)

// validateAddress checks one RFC 5322 address.
func validateAddress(field, address string) error {
	if strings.TrimSpace(address) == "" {
		return &ValidationError{Field: field, Message: "empty address"}
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid address %q", address)}
	}
	return nil
}

// validateRecipients checks a recipient list against the configured limit.
func (s *service) validateRecipients(field string, addrs []string) error {
	if len(addrs) > s.opts.maxRecipientCount {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("too many recipients: %d, max %d", len(addrs), s.opts.maxRecipientCount),
		}
	}
	seen := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if err := validateAddress(field, a); err != nil {
			return err
		}
		key := strings.ToLower(strings.TrimSpace(a))
		if _, dup := seen[key]; dup {
			return &ValidationError{Field: field, Message: fmt.Sprintf("duplicate address %q", a)}
		}
		seen[key] = struct{}{}
	}
	return nil
}

// validateContent checks subject and body limits.
func (s *service) validateContent(subject, body string) error {
	if len(subject) > s.opts.maxSubjectLength {
		return &ValidationError{
			Field:   "Subject",
			Message: fmt.Sprintf("subject too long: %d bytes, max %d", len(subject), s.opts.maxSubjectLength),
		}
	}
	if len(body) > s.opts.maxBodySize {
		return &ValidationError{
			Field:   "Body",
			Message: fmt.Sprintf("body too large: %d bytes, max %d", len(body), s.opts.maxBodySize),
		}
	}
	return nil
}

// validateAttachmentIDs checks the attachment count limit.
func (s *service) validateAttachmentIDs(ids []string) error {
	if len(ids) > s.opts.maxAttachmentCount {
		return &ValidationError{
			Field:   "AttachmentIDs",
			Message: fmt.Sprintf("too many attachments: %d, max %d", len(ids), s.opts.maxAttachmentCount),
		}
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return &ValidationError{Field: "AttachmentIDs", Message: "empty attachment id"}
		}
	}
	return nil
}

// validateDraftData checks everything a draft create or update carries.
func (s *service) validateDraftData(data DraftData) error {
	for field, addrs := range map[string][]string{"To": data.To, "Cc": data.Cc, "Bcc": data.Bcc} {
		if err := s.validateRecipients(field, addrs); err != nil {
			return err
		}
	}
	if err := s.validateContent(data.Subject, data.Body); err != nil {
		return err
	}
	return s.validateAttachmentIDs(data.AttachmentIDs)
}

// allRecipients flattens To, Cc and Bcc into one deduplicated list.
func allRecipients(m store.Message) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, group := range [][]string{m.GetTo(), m.GetCc(), m.GetBcc()} {
		for _, a := range group {
			key := strings.ToLower(strings.TrimSpace(a))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}
