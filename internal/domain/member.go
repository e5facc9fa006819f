package domain

import (
	"context"
	"sync"
	"time"

	"github.com/cheggaaa/mb/v3"
	"github.com/google/uuid"
)

// Member is one relay connection. PeerID and Room are assigned once, by the
// join, before the member is published to the registry.
type Member struct {
	ConnID   uuid.UUID
	PeerID   string
	Room     string
	JoinedAt time.Time

	outbox *mb.MB[SignalMessage]
	once   sync.Once
}

func NewMember(queueSize int) *Member {
	return &Member{
		ConnID: uuid.New(),
		outbox: mb.New[SignalMessage](queueSize),
	}
}

func (m *Member) Joined() bool {
	return m.PeerID != ""
}

// Enqueue schedules msg for delivery. It never blocks: a full or closed
// outbox drops the message and reports false.
func (m *Member) Enqueue(msg SignalMessage) bool {
	return m.outbox.TryAdd(msg) == nil
}

// Next blocks until an outbound message is available or the outbox closes.
func (m *Member) Next(ctx context.Context) (SignalMessage, error) {
	return m.outbox.WaitOne(ctx)
}

func (m *Member) Close() {
	m.once.Do(func() {
		_ = m.outbox.Close()
	})
}
