package mailstore

import (
	"errors"
	"fmt"

	"github.com/virtmail/mailstore/store"
)

// Service state errors.
var (
	// ErrStoreRequired is returned by NewService when no store is configured.
	ErrStoreRequired = errors.New("mailstore: store is required")

	// ErrNotConnected is returned when an operation is attempted before
	// Connect or after Close.
	ErrNotConnected = errors.New("mailstore: service not connected")

	// ErrAlreadyConnected is returned by Connect on a connected service.
	ErrAlreadyConnected = errors.New("mailstore: service already connected")
)

// Operation errors. Store sentinels are wrapped so callers can match either
// the mailstore error or the underlying store error with errors.Is.
var (
	// ErrMessageNotFound is returned when a message does not exist or
	// belongs to another mailbox.
	ErrMessageNotFound = fmt.Errorf("mailstore: message: %w", store.ErrNotFound)

	// ErrFolderNotFound is returned for an unknown folder.
	ErrFolderNotFound = fmt.Errorf("mailstore: folder: %w", store.ErrNotFound)

	// ErrAttachmentNotFound is returned for an unknown attachment.
	ErrAttachmentNotFound = fmt.Errorf("mailstore: attachment: %w", store.ErrNotFound)

	// ErrConflict is returned when an update loses too many optimistic
	// concurrency races in a row.
	ErrConflict = fmt.Errorf("mailstore: %w", store.ErrConflict)

	// ErrSystemFolder is returned for rename or delete of a system folder.
	ErrSystemFolder = fmt.Errorf("mailstore: %w", store.ErrSystemFolder)

	// ErrFolderNotEmpty is returned for delete of a non-empty folder.
	ErrFolderNotEmpty = fmt.Errorf("mailstore: %w", store.ErrFolderNotEmpty)

	// ErrInvalidFolder is returned for a malformed or reserved folder id.
	ErrInvalidFolder = fmt.Errorf("mailstore: %w", store.ErrInvalidFolder)

	// ErrNotDraft is returned when a draft operation targets a message
	// that is not in the draft state.
	ErrNotDraft = errors.New("mailstore: message is not a draft")

	// ErrNotInTrash is returned by Restore and Purge when the message is
	// not in the trash folder.
	ErrNotInTrash = errors.New("mailstore: message is not in trash")

	// ErrImmutableMessage is returned when a mutation targets a message
	// whose state forbids it, such as trashing a message mid-send.
	ErrImmutableMessage = errors.New("mailstore: message state forbids this operation")

	// ErrNoRecipients is returned by Send for a draft with an empty
	// recipient list.
	ErrNoRecipients = errors.New("mailstore: no recipients")

	// ErrNoSubmitter is returned when a send needs remote relay but no
	// submitter is configured.
	ErrNoSubmitter = errors.New("mailstore: no submitter configured")

	// ErrFileStoreRequired is returned by attachment operations when no
	// file store is configured.
	ErrFileStoreRequired = errors.New("mailstore: file store is required")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mailstore: validation failed on %s: %s", e.Field, e.Message)
}

// IsValidationError checks if the error is a validation error and returns details.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// InvalidTransitionError is returned when a lifecycle transition is not
// allowed, such as sending an already sent message.
type InvalidTransitionError struct {
	MessageID string
	From      store.MessageState
	To        store.MessageState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("mailstore: message %s cannot go from %s to %s", e.MessageID, e.From, e.To)
}

// BulkOperationError is returned by BulkResult.Err when at least one id in
// a bulk operation failed.
type BulkOperationError struct {
	Failed int
	Total  int
}

func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("mailstore: bulk operation failed for %d of %d messages", e.Failed, e.Total)
}

// PartialDeliveryError reports per-recipient failures from a send or an
// inbound filing. The operation may still have succeeded for the other
// recipients.
type PartialDeliveryError struct {
	Failed map[string]error
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("mailstore: delivery failed for %d recipients", len(e.Failed))
}

// IsPartialDelivery checks if the error is a partial delivery error and
// returns details.
func IsPartialDelivery(err error) (*PartialDeliveryError, bool) {
	var pde *PartialDeliveryError
	ok := errors.As(err, &pde)
	return pde, ok
}
