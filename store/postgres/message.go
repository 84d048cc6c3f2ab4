package postgres

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/virtmail/mailstore/store"
)

var _ store.Message = (*message)(nil)

// message is one row of the messages table. Array columns scan through
// pq.StringArray; nullable timestamps through sql.NullTime.
type message struct {
	ID            string             `db:"id"`
	OwnerID       string             `db:"owner_id"`
	FromAddr      string             `db:"from_addr"`
	ToAddrs       pq.StringArray     `db:"to_addrs"`
	CcAddrs       pq.StringArray     `db:"cc_addrs"`
	BccAddrs      pq.StringArray     `db:"bcc_addrs"`
	Subject       string             `db:"subject"`
	Body          string             `db:"body"`
	FolderID      string             `db:"folder_id"`
	PriorFolderID string             `db:"prior_folder_id"`
	State         store.MessageState `db:"state"`
	Direction     store.Direction    `db:"direction"`
	IsRead        bool               `db:"is_read"`
	IsStarred     bool               `db:"is_starred"`
	Version       int64              `db:"version"`
	AttachmentIDs pq.StringArray     `db:"attachment_ids"`
	FailureReason string             `db:"failure_reason"`
	DeliveryKey   string             `db:"delivery_key"`
	CreatedAt     time.Time          `db:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at"`
	SentAt        sql.NullTime       `db:"sent_at"`
	ReceivedAt    sql.NullTime       `db:"received_at"`
}

func (m *message) GetID() string                  { return m.ID }
func (m *message) GetOwnerID() string             { return m.OwnerID }
func (m *message) GetFrom() string                { return m.FromAddr }
func (m *message) GetTo() []string                { return m.ToAddrs }
func (m *message) GetCc() []string                { return m.CcAddrs }
func (m *message) GetBcc() []string               { return m.BccAddrs }
func (m *message) GetSubject() string             { return m.Subject }
func (m *message) GetBody() string                { return m.Body }
func (m *message) GetFolderID() string            { return m.FolderID }
func (m *message) GetPriorFolderID() string       { return m.PriorFolderID }
func (m *message) GetState() store.MessageState   { return m.State }
func (m *message) GetDirection() store.Direction  { return m.Direction }
func (m *message) GetIsRead() bool                { return m.IsRead }
func (m *message) GetIsStarred() bool             { return m.IsStarred }
func (m *message) GetVersion() int64              { return m.Version }
func (m *message) GetAttachmentIDs() []string     { return m.AttachmentIDs }
func (m *message) GetFailureReason() string       { return m.FailureReason }
func (m *message) GetDeliveryKey() string         { return m.DeliveryKey }
func (m *message) GetCreatedAt() time.Time        { return m.CreatedAt }
func (m *message) GetUpdatedAt() time.Time        { return m.UpdatedAt }

func (m *message) GetSentAt() time.Time {
	if m.SentAt.Valid {
		return m.SentAt.Time
	}
	return time.Time{}
}

func (m *message) GetReceivedAt() time.Time {
	if m.ReceivedAt.Valid {
		return m.ReceivedAt.Time
	}
	return time.Time{}
}

// messageColumns is the canonical SELECT list matching the message struct.
const messageColumns = `id, owner_id, from_addr, to_addrs, cc_addrs, bcc_addrs, subject, body,
	folder_id, prior_folder_id, state, direction, is_read, is_starred, version,
	attachment_ids, failure_reason, delivery_key, created_at, updated_at, sent_at, received_at`
