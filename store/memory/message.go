package memory

import (
	"sync"
	"time"

	"github.com/virtmail/mailstore/store"
)

// message is the backing record. Mutations hold mu; readers receive clones
// so callers never observe a half-applied update.
type message struct {
	mu sync.Mutex

	id            string
	ownerID       string
	from          string
	to            []string
	cc            []string
	bcc           []string
	subject       string
	body          string
	folderID      string
	priorFolderID string
	state         store.MessageState
	direction     store.Direction
	isRead        bool
	isStarred     bool
	version       int64
	attachmentIDs []string
	failureReason string
	deliveryKey   string
	createdAt     time.Time
	updatedAt     time.Time
	sentAt        time.Time
	receivedAt    time.Time
}

var _ store.Message = (*message)(nil)

func (m *message) GetID() string                  { return m.id }
func (m *message) GetOwnerID() string             { return m.ownerID }
func (m *message) GetFrom() string                { return m.from }
func (m *message) GetTo() []string                { return m.to }
func (m *message) GetCc() []string                { return m.cc }
func (m *message) GetBcc() []string               { return m.bcc }
func (m *message) GetSubject() string             { return m.subject }
func (m *message) GetBody() string                { return m.body }
func (m *message) GetFolderID() string            { return m.folderID }
func (m *message) GetPriorFolderID() string       { return m.priorFolderID }
func (m *message) GetState() store.MessageState   { return m.state }
func (m *message) GetDirection() store.Direction  { return m.direction }
func (m *message) GetIsRead() bool                { return m.isRead }
func (m *message) GetIsStarred() bool             { return m.isStarred }
func (m *message) GetVersion() int64              { return m.version }
func (m *message) GetAttachmentIDs() []string     { return m.attachmentIDs }
func (m *message) GetFailureReason() string       { return m.failureReason }
func (m *message) GetDeliveryKey() string         { return m.deliveryKey }
func (m *message) GetCreatedAt() time.Time        { return m.createdAt }
func (m *message) GetUpdatedAt() time.Time        { return m.updatedAt }
func (m *message) GetSentAt() time.Time           { return m.sentAt }
func (m *message) GetReceivedAt() time.Time       { return m.receivedAt }

// clone returns an independent copy safe to hand out. Caller holds mu.
func (m *message) clone() *message {
	c := &message{
		id:            m.id,
		ownerID:       m.ownerID,
		from:          m.from,
		subject:       m.subject,
		body:          m.body,
		folderID:      m.folderID,
		priorFolderID: m.priorFolderID,
		state:         m.state,
		direction:     m.direction,
		isRead:        m.isRead,
		isStarred:     m.isStarred,
		version:       m.version,
		failureReason: m.failureReason,
		deliveryKey:   m.deliveryKey,
		createdAt:     m.createdAt,
		updatedAt:     m.updatedAt,
		sentAt:        m.sentAt,
		receivedAt:    m.receivedAt,
	}
	c.to = append([]string(nil), m.to...)
	c.cc = append([]string(nil), m.cc...)
	c.bcc = append([]string(nil), m.bcc...)
	c.attachmentIDs = append([]string(nil), m.attachmentIDs...)
	return c
}

// snapshot locks m and returns a clone.
func (m *message) snapshot() *message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clone()
}
