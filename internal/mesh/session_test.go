package mesh

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/slogdiscard"
)

type signalLog struct {
	mu   sync.Mutex
	msgs []domain.SignalMessage
}

func (l *signalLog) send(msg domain.SignalMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
	return nil
}

func (l *signalLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.msgs))
	for _, m := range l.msgs {
		out = append(out, m.Type)
	}
	return out
}

func newTestSession(t *testing.T, role Role, cfg sessionConfig) (*Session, *fakeLink, *signalLog) {
	t.Helper()
	sig := &signalLog{}
	cfg.peerID = "B"
	cfg.room = "R1"
	cfg.role = role
	cfg.signal = sig.send
	cfg.log = slogdiscard.NewDiscardLogger()

	s := newSession(cfg)
	link, err := newFakeNet().factory("A")("B", LinkEvents{})
	require.NoError(t, err)
	s.link = link
	return s, link.(*fakeLink), sig
}

var testAnswer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}

func TestSession_OffererBuffersEarlyCandidates(t *testing.T) {
	s, link, sig := newTestSession(t, RoleOfferer, sessionConfig{})

	require.NoError(t, s.startOffer(nil))
	assert.Equal(t, StateNegotiatingLocalOffer, s.State())
	assert.Equal(t, []string{domain.TypeOffer}, sig.types())
	require.NotNil(t, s.channel)
	assert.Equal(t, dataChannelLabel, s.channel.Label())

	require.NoError(t, s.addCandidate(webrtc.ICECandidateInit{Candidate: "c1"}))
	require.NoError(t, s.addCandidate(webrtc.ICECandidateInit{Candidate: "c2"}))
	assert.Zero(t, link.appliedCandidates())

	require.NoError(t, s.acceptAnswer(testAnswer))
	assert.Equal(t, 2, link.appliedCandidates())

	require.NoError(t, s.addCandidate(webrtc.ICECandidateInit{Candidate: "c3"}))
	assert.Equal(t, 3, link.appliedCandidates())
}

func TestSession_AnswererFlushesOnOffer(t *testing.T) {
	s, link, sig := newTestSession(t, RoleAnswerer, sessionConfig{})

	require.NoError(t, s.addCandidate(webrtc.ICECandidateInit{Candidate: "early"}))
	require.NoError(t, s.acceptOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil))

	assert.Equal(t, StateNegotiatingRemoteOffer, s.State())
	assert.Equal(t, 1, link.appliedCandidates())
	assert.Equal(t, []string{domain.TypeAnswer}, sig.types())
}

func TestSession_RejectsUnexpectedAnswers(t *testing.T) {
	answerer, _, _ := newTestSession(t, RoleAnswerer, sessionConfig{})
	assert.ErrorIs(t, answerer.acceptAnswer(testAnswer), ErrProtocol)

	offerer, _, _ := newTestSession(t, RoleOfferer, sessionConfig{})
	assert.ErrorIs(t, offerer.acceptAnswer(testAnswer), ErrProtocol, "answer before offer")

	require.NoError(t, offerer.startOffer(nil))
	require.NoError(t, offerer.acceptAnswer(testAnswer))
	assert.ErrorIs(t, offerer.acceptAnswer(testAnswer), ErrProtocol, "duplicate answer")

	assert.ErrorIs(t, offerer.startOffer(nil), ErrProtocol)
}

func TestSession_StateIsMonotonic(t *testing.T) {
	s, _, _ := newTestSession(t, RoleOfferer, sessionConfig{})
	require.NoError(t, s.startOffer(nil))

	connected, err := s.linkStateChanged(webrtc.PeerConnectionStateConnected)
	require.NoError(t, err)
	assert.True(t, connected)
	assert.Equal(t, StateConnected, s.State())

	assert.False(t, s.setState(StateNegotiatingRemoteOffer))
	assert.False(t, s.setState(StateIdle))
	assert.Equal(t, StateConnected, s.State())

	connected, err = s.linkStateChanged(webrtc.PeerConnectionStateConnected)
	assert.NoError(t, err)
	assert.False(t, connected)

	_, err = s.linkStateChanged(webrtc.PeerConnectionStateFailed)
	var connErr *ConnectivityError
	assert.ErrorAs(t, err, &connErr)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, link, _ := newTestSession(t, RoleOfferer, sessionConfig{})
	require.NoError(t, s.startOffer(nil))

	assert.True(t, s.close(ErrRemoteLeft))
	assert.False(t, s.close(ErrClosed))
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Info().Err, ErrRemoteLeft)

	link.mu.Lock()
	assert.True(t, link.closed)
	link.mu.Unlock()

	assert.False(t, s.setState(StateConnected))
	assert.NoError(t, s.addCandidate(webrtc.ICECandidateInit{Candidate: "late"}))
	assert.ErrorIs(t, s.send([]byte("x"), false), errChannelNotReady)
}

func TestSession_NegotiationTimer(t *testing.T) {
	fired := make(chan *Session, 1)
	s, _, _ := newTestSession(t, RoleOfferer, sessionConfig{
		timeout:   20 * time.Millisecond,
		onTimeout: func(s *Session) { fired <- s },
	})
	require.NoError(t, s.startOffer(nil))

	select {
	case got := <-fired:
		assert.Same(t, s, got)
	case <-time.After(time.Second):
		t.Fatal("negotiation timer did not fire")
	}
}

func TestSession_ConnectStopsTimer(t *testing.T) {
	fired := make(chan struct{}, 1)
	s, _, _ := newTestSession(t, RoleOfferer, sessionConfig{
		timeout:   50 * time.Millisecond,
		onTimeout: func(*Session) { fired <- struct{}{} },
	})
	require.NoError(t, s.startOffer(nil))
	_, err := s.linkStateChanged(webrtc.PeerConnectionStateConnected)
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("timer fired after connect")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStateRanks(t *testing.T) {
	assert.Less(t, StateIdle.rank(), StateNegotiatingLocalOffer.rank())
	assert.Equal(t, StateNegotiatingLocalOffer.rank(), StateNegotiatingRemoteOffer.rank())
	assert.Less(t, StateNegotiatingRemoteOffer.rank(), StateConnected.rank())
	assert.Less(t, StateConnected.rank(), StateClosed.rank())
	assert.True(t, errors.Is(protocolErr("x"), ErrProtocol))
}
