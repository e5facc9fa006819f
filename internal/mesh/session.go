package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/sl"
)

const dataChannelLabel = "data"

var errChannelNotReady = errors.New("message channel not ready")

// PeerInfo is a snapshot of one Session.
type PeerInfo struct {
	PeerID      string
	State       State
	Role        Role
	ChannelOpen bool
	Err         error
}

// Session is the connection to one remote peer. Every method must be called
// from the Coordinator's event loop.
type Session struct {
	PeerID string

	room   string
	role   Role
	state  State
	err    error
	link   Link
	signal func(domain.SignalMessage) error
	bind   func(*Session, Channel)
	log    *slog.Logger

	channel     Channel
	channelOpen bool

	remoteSet bool
	pending   []webrtc.ICECandidateInit

	timeout   time.Duration
	timer     *time.Timer
	onTimeout func(*Session)
}

type sessionConfig struct {
	peerID    string
	room      string
	role      Role
	signal    func(domain.SignalMessage) error
	bind      func(*Session, Channel)
	timeout   time.Duration
	onTimeout func(*Session)
	log       *slog.Logger
}

func newSession(cfg sessionConfig) *Session {
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	return &Session{
		PeerID:    cfg.peerID,
		room:      cfg.room,
		role:      cfg.role,
		state:     StateIdle,
		signal:    cfg.signal,
		bind:      cfg.bind,
		timeout:   cfg.timeout,
		onTimeout: cfg.onTimeout,
		log: cfg.log.With(
			slog.String("peer_id", cfg.peerID),
			slog.String("role", cfg.role.String()),
		),
	}
}

func (s *Session) State() State { return s.state }
func (s *Session) Role() Role   { return s.role }

func (s *Session) Info() PeerInfo {
	return PeerInfo{
		PeerID:      s.PeerID,
		State:       s.state,
		Role:        s.role,
		ChannelOpen: s.channelOpen,
		Err:         s.err,
	}
}

// setState applies next only if it ranks above the current state.
func (s *Session) setState(next State) bool {
	if next.rank() <= s.state.rank() {
		return false
	}
	s.log.Debug("session state", slog.String("from", s.state.String()), slog.String("to", next.String()))
	s.state = next
	return true
}

// startOffer attaches tracks, opens the message channel and sends the offer.
func (s *Session) startOffer(tracks []webrtc.TrackLocal) error {
	const op = "mesh.Session.startOffer"

	if s.role != RoleOfferer || s.state != StateIdle {
		return protocolErr("%s: offer from %s session in state %s", op, s.role, s.state)
	}
	if err := s.attach(tracks); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ch, err := s.link.CreateChannel(dataChannelLabel)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.bind != nil {
		s.bind(s, ch)
	}
	s.setChannel(ch)

	offer, err := s.link.CreateOffer()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg, err := domain.NewOfferMessage(s.room, s.PeerID, offer)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.signal(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.setState(StateNegotiatingLocalOffer)
	s.armTimer()
	return nil
}

// acceptOffer answers a remote offer. The channel arrives later through the
// link's OnChannel event.
func (s *Session) acceptOffer(offer webrtc.SessionDescription, tracks []webrtc.TrackLocal) error {
	const op = "mesh.Session.acceptOffer"

	if s.role != RoleAnswerer || s.state != StateIdle {
		return protocolErr("%s: offer for %s session in state %s", op, s.role, s.state)
	}
	if err := s.attach(tracks); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	answer, err := s.link.AcceptOffer(offer)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.remoteSet = true
	s.flushCandidates()

	msg, err := domain.NewAnswerMessage(s.room, s.PeerID, answer)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.signal(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.setState(StateNegotiatingRemoteOffer)
	s.armTimer()
	return nil
}

func (s *Session) acceptAnswer(answer webrtc.SessionDescription) error {
	const op = "mesh.Session.acceptAnswer"

	if s.role != RoleOfferer || s.state != StateNegotiatingLocalOffer || s.remoteSet {
		return protocolErr("%s: unexpected answer in state %s", op, s.state)
	}
	if err := s.link.AcceptAnswer(answer); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.remoteSet = true
	s.flushCandidates()
	return nil
}

// addCandidate applies a remote candidate, or holds it until the remote
// description is known.
func (s *Session) addCandidate(c webrtc.ICECandidateInit) error {
	if s.state == StateClosed {
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		return nil
	}
	return s.link.AddCandidate(c)
}

func (s *Session) flushCandidates() {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.link.AddCandidate(c); err != nil {
			s.log.Warn("failed to apply buffered candidate", sl.Err(err))
		}
	}
}

// localCandidate forwards one of our candidates to the peer.
func (s *Session) localCandidate(c webrtc.ICECandidateInit) error {
	if s.state == StateClosed {
		return nil
	}
	msg, err := domain.NewCandidateMessage(s.room, s.PeerID, c)
	if err != nil {
		return err
	}
	return s.signal(msg)
}

// linkStateChanged reports whether the session became connected, or the
// error it must be closed with.
func (s *Session) linkStateChanged(ps webrtc.PeerConnectionState) (bool, error) {
	switch ps {
	case webrtc.PeerConnectionStateConnected:
		if s.setState(StateConnected) {
			s.stopTimer()
			return true, nil
		}
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		if s.state != StateClosed {
			return false, &ConnectivityError{Op: "peer link " + s.PeerID, Err: fmt.Errorf("link %s", ps)}
		}
	}
	return false, nil
}

func (s *Session) setChannel(ch Channel) {
	if s.channel != nil && s.channel != ch {
		_ = s.channel.Close()
	}
	s.channel = ch
	s.channelOpen = ch.Open()
}

func (s *Session) canSend() bool {
	return s.state == StateConnected && s.channel != nil && s.channelOpen
}

func (s *Session) send(frame []byte, binary bool) error {
	if !s.canSend() {
		return errChannelNotReady
	}
	if binary {
		return s.channel.Send(frame)
	}
	return s.channel.SendText(string(frame))
}

// close is idempotent. It reports whether this call closed the session.
func (s *Session) close(reason error) bool {
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.err = reason
	s.stopTimer()
	s.pending = nil
	s.channelOpen = false

	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.log.Debug("channel close failed", sl.Err(err))
		}
	}
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			s.log.Debug("link close failed", sl.Err(err))
		}
	}
	s.log.Info("session closed", sl.Err(reason))
	return true
}

func (s *Session) attach(tracks []webrtc.TrackLocal) error {
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := s.link.AddTrack(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) armTimer() {
	if s.timeout <= 0 || s.onTimeout == nil {
		return
	}
	s.stopTimer()
	s.timer = time.AfterFunc(s.timeout, func() { s.onTimeout(s) })
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
