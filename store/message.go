package store

import (
	"strings"
	"time"
)

// MessageState is the lifecycle state of a message.
type MessageState string

const (
	// StateDraft is a mutable, unsent message.
	StateDraft MessageState = "draft"
	// StateSending is a message handed to the outbound router.
	StateSending MessageState = "sending"
	// StateSent is a successfully submitted outbound message.
	StateSent MessageState = "sent"
	// StateSendFailed is an outbound message whose submission was abandoned.
	StateSendFailed MessageState = "send_failed"
	// StateReceived is an inbound message filed into a mailbox.
	StateReceived MessageState = "received"
)

// Valid reports whether s is a known lifecycle state.
func (s MessageState) Valid() bool {
	switch s {
	case StateDraft, StateSending, StateSent, StateSendFailed, StateReceived:
		return true
	}
	return false
}

// Direction records which side of delivery produced the message.
type Direction string

const (
	// DirectionInbound marks a message accepted from a remote sender.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound marks a message authored by the mailbox owner.
	DirectionOutbound Direction = "outbound"
)

// System folder identifiers. The double underscore prefix reserves the
// namespace so user folders can never collide with them.
const (
	FolderInbox  = "__inbox"
	FolderSent   = "__sent"
	FolderDrafts = "__drafts"
	FolderTrash  = "__trash"
)

// SystemFolderIDs lists every system folder in display order.
var SystemFolderIDs = []string{FolderInbox, FolderSent, FolderDrafts, FolderTrash}

// IsSystemFolderID reports whether id names a system folder.
func IsSystemFolderID(id string) bool {
	switch id {
	case FolderInbox, FolderSent, FolderDrafts, FolderTrash:
		return true
	}
	return false
}

// IsValidFolderID reports whether id is usable as a folder identifier.
// User folder ids must not enter the reserved system namespace.
func IsValidFolderID(id string) bool {
	if id == "" {
		return false
	}
	if strings.HasPrefix(id, "__") {
		return IsSystemFolderID(id)
	}
	return true
}

// Message is the read-only view of a stored message. Backends return their
// own implementation so they can lazily decode driver rows.
type Message interface {
	GetID() string
	GetOwnerID() string
	GetFrom() string
	GetTo() []string
	GetCc() []string
	GetBcc() []string
	GetSubject() string
	GetBody() string
	GetFolderID() string
	// GetPriorFolderID is the folder the message occupied before it was
	// trashed. Empty unless the message is in the trash folder.
	GetPriorFolderID() string
	GetState() MessageState
	GetDirection() Direction
	GetIsRead() bool
	GetIsStarred() bool
	// GetVersion is the optimistic concurrency token. It starts at 1 and
	// increments on every successful mutation.
	GetVersion() int64
	GetAttachmentIDs() []string
	// GetFailureReason is set when the state is StateSendFailed.
	GetFailureReason() string
	// GetDeliveryKey is the inbound delivery attempt id used for
	// idempotent filing. Empty for outbound messages.
	GetDeliveryKey() string
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
	GetSentAt() time.Time
	GetReceivedAt() time.Time
}

// MessageData carries the fields needed to create a message.
type MessageData struct {
	OwnerID       string
	From          string
	To            []string
	Cc            []string
	Bcc           []string
	Subject       string
	Body          string
	FolderID      string
	State         MessageState
	Direction     Direction
	IsRead        bool
	IsStarred     bool
	AttachmentIDs []string
	ReceivedAt    time.Time
}

// DraftUpdate carries the mutable fields of a draft. Nil fields are left
// unchanged.
type DraftUpdate struct {
	To            []string
	Cc            []string
	Bcc           []string
	Subject       *string
	Body          *string
	AttachmentIDs []string
}

// IsTrashed reports whether the message currently sits in the trash folder.
func IsTrashed(m Message) bool {
	return m.GetFolderID() == FolderTrash
}
