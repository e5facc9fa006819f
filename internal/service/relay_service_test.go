package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/internal/metrics"
	"github.com/immxrtalbeast/axenix_mesh/internal/repository"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/slogdiscard"
)

func newTestService(t *testing.T) (*RelayService, *repository.InMemoryRoomRegistry) {
	t.Helper()
	reg := repository.NewInMemoryRoomRegistry()
	return NewRelayService(reg, metrics.NewRelay(reg.Len), slogdiscard.NewDiscardLogger(), 16), reg
}

func frame(t *testing.T, msg any) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func join(t *testing.T, s *RelayService, room, peerID string) *domain.Member {
	t.Helper()
	m := domain.NewMember(16)
	require.NoError(t, s.Handle(context.Background(), m, frame(t, domain.NewJoinMessage(room, peerID))))
	return m
}

func next(t *testing.T, m *domain.Member) domain.SignalMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := m.Next(ctx)
	require.NoError(t, err)
	return msg
}

func assertEmpty(t *testing.T, m *domain.Member) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Next(ctx)
	assert.Error(t, err)
}

func TestRelay_JoinNotifiesExistingMembers(t *testing.T) {
	s, _ := newTestService(t)

	alice := join(t, s, "R1", "alice")
	bob := join(t, s, "R1", "bob")

	got := next(t, alice)
	assert.Equal(t, domain.TypePeerJoined, got.Type)
	assert.Equal(t, "bob", got.From)
	assert.Equal(t, "R1", got.Room)

	// The newcomer is not told about itself.
	assertEmpty(t, bob)
}

func TestRelay_ForwardsNegotiationVerbatimWithFrom(t *testing.T) {
	s, _ := newTestService(t)
	alice := join(t, s, "R1", "alice")
	bob := join(t, s, "R1", "bob")
	next(t, alice) // peer-joined(bob)

	raw := `{"type":"offer","to":"bob","room":"R1","offer":{"type":"offer","sdp":"v=0 opaque","extra":[1,2,3]}}`
	require.NoError(t, s.Handle(context.Background(), alice, []byte(raw)))

	got := next(t, bob)
	assert.Equal(t, domain.TypeOffer, got.Type)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, "R1", got.Room)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0 opaque","extra":[1,2,3]}`, string(got.Offer))
}

func TestRelay_FromCannotBeSpoofed(t *testing.T) {
	s, _ := newTestService(t)
	alice := join(t, s, "R1", "alice")
	bob := join(t, s, "R1", "bob")
	next(t, alice)

	raw := `{"type":"ice-candidate","to":"bob","from":"mallory","candidate":{"candidate":"c"}}`
	require.NoError(t, s.Handle(context.Background(), alice, []byte(raw)))
	assert.Equal(t, "alice", next(t, bob).From)
}

func TestRelay_UnknownRecipientIsDropped(t *testing.T) {
	s, _ := newTestService(t)
	alice := join(t, s, "R1", "alice")
	carol := join(t, s, "R2", "carol")

	for _, typ := range []string{domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate} {
		err := s.Handle(context.Background(), alice, frame(t, domain.SignalMessage{Type: typ, To: "carol"}))
		assert.ErrorIs(t, err, ErrPeerNotFound)
	}

	assertEmpty(t, alice)
	assertEmpty(t, carol)

	// The sender is still a member and can keep signaling.
	_, err := s.rooms.Lookup(context.Background(), "R1", "alice")
	assert.NoError(t, err)
}

func TestRelay_MalformedFramesAreProtocolErrors(t *testing.T) {
	s, _ := newTestService(t)
	m := domain.NewMember(4)

	cases := map[string][]byte{
		"garbage":       []byte("{not json"),
		"unknown type":  []byte(`{"type":"dance"}`),
		"before join":   []byte(`{"type":"offer","to":"x"}`),
		"empty room":    []byte(`{"type":"join","peerId":"a"}`),
		"empty peer id": []byte(`{"type":"join","room":"R1"}`),
		"too long":      []byte(`{"type":"join","room":"R1","peerId":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			err := s.Handle(context.Background(), m, data)
			assert.ErrorIs(t, err, ErrProtocol)
			var perr *ProtocolError
			assert.True(t, errors.As(err, &perr))
		})
	}

	assert.False(t, m.Joined())
}

func TestRelay_MissingRecipientAndDoubleJoin(t *testing.T) {
	s, _ := newTestService(t)
	alice := join(t, s, "R1", "alice")

	err := s.Handle(context.Background(), alice, []byte(`{"type":"answer"}`))
	assert.ErrorIs(t, err, ErrProtocol)

	err = s.Handle(context.Background(), alice, frame(t, domain.NewJoinMessage("R2", "alice")))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "R1", alice.Room)
}

func TestRelay_LeaveNotifiesAndRemovesEmptyRoom(t *testing.T) {
	s, reg := newTestService(t)
	alice := join(t, s, "R1", "alice")
	bob := join(t, s, "R1", "bob")
	next(t, alice)

	s.Leave(context.Background(), bob)
	got := next(t, alice)
	assert.Equal(t, domain.TypePeerLeft, got.Type)
	assert.Equal(t, "bob", got.From)

	s.Leave(context.Background(), alice)
	assert.Equal(t, 0, reg.Len())

	_, err := s.GetRoom(context.Background(), "R1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// Same id again: a fresh room with no memory of earlier members.
	carol := join(t, s, "R1", "carol")
	assertEmpty(t, carol)
	room, err := s.GetRoom(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, room.PeerIDs)
}

func TestRelay_DuplicateNameReplacesOlderConnection(t *testing.T) {
	s, _ := newTestService(t)
	alice := join(t, s, "R1", "alice")
	oldBob := join(t, s, "R1", "bob")
	next(t, alice)

	newBob := join(t, s, "R1", "bob")
	got := next(t, alice)
	assert.Equal(t, domain.TypePeerJoined, got.Type)
	assert.Equal(t, "bob", got.From)

	// The replaced connection is closed and its departure is silent.
	assert.False(t, oldBob.Enqueue(domain.SignalMessage{Type: "x"}))
	s.Leave(context.Background(), oldBob)
	assertEmpty(t, alice)

	require.NoError(t, s.Handle(context.Background(), alice, []byte(`{"type":"offer","to":"bob","offer":{}}`)))
	assert.Equal(t, "alice", next(t, newBob).From)
}

func TestRelay_LeaveBeforeJoinIsNoop(t *testing.T) {
	s, reg := newTestService(t)
	s.Leave(context.Background(), domain.NewMember(1))
	assert.Equal(t, 0, reg.Len())
}
