package mongo

import (
	"time"

	"github.com/virtmail/mailstore/store"
)

var _ store.Message = (*message)(nil)

// message is one document of the messages collection.
type message struct {
	ID            string             `bson:"_id"`
	OwnerID       string             `bson:"owner_id"`
	FromAddr      string             `bson:"from_addr"`
	ToAddrs       []string           `bson:"to_addrs"`
	CcAddrs       []string           `bson:"cc_addrs,omitempty"`
	BccAddrs      []string           `bson:"bcc_addrs,omitempty"`
	Subject       string             `bson:"subject"`
	Body          string             `bson:"body"`
	FolderID      string             `bson:"folder_id"`
	PriorFolderID string             `bson:"prior_folder_id,omitempty"`
	State         store.MessageState `bson:"state"`
	Direction     store.Direction    `bson:"direction"`
	IsRead        bool               `bson:"is_read"`
	IsStarred     bool               `bson:"is_starred"`
	Version       int64              `bson:"version"`
	AttachmentIDs []string           `bson:"attachment_ids,omitempty"`
	FailureReason string             `bson:"failure_reason,omitempty"`
	DeliveryKey   string             `bson:"delivery_key,omitempty"`
	CreatedAt     time.Time          `bson:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at"`
	SentAt        time.Time          `bson:"sent_at,omitempty"`
	ReceivedAt    time.Time          `bson:"received_at,omitempty"`
}

func (m *message) GetID() string                 { return m.ID }
func (m *message) GetOwnerID() string            { return m.OwnerID }
func (m *message) GetFrom() string               { return m.FromAddr }
func (m *message) GetTo() []string               { return m.ToAddrs }
func (m *message) GetCc() []string               { return m.CcAddrs }
func (m *message) GetBcc() []string              { return m.BccAddrs }
func (m *message) GetSubject() string            { return m.Subject }
func (m *message) GetBody() string               { return m.Body }
func (m *message) GetFolderID() string           { return m.FolderID }
func (m *message) GetPriorFolderID() string      { return m.PriorFolderID }
func (m *message) GetState() store.MessageState  { return m.State }
func (m *message) GetDirection() store.Direction { return m.Direction }
func (m *message) GetIsRead() bool               { return m.IsRead }
func (m *message) GetIsStarred() bool            { return m.IsStarred }
func (m *message) GetVersion() int64             { return m.Version }
func (m *message) GetAttachmentIDs() []string    { return m.AttachmentIDs }
func (m *message) GetFailureReason() string      { return m.FailureReason }
func (m *message) GetDeliveryKey() string        { return m.DeliveryKey }
func (m *message) GetCreatedAt() time.Time       { return m.CreatedAt }
func (m *message) GetUpdatedAt() time.Time       { return m.UpdatedAt }
func (m *message) GetSentAt() time.Time          { return m.SentAt }
func (m *message) GetReceivedAt() time.Time      { return m.ReceivedAt }
