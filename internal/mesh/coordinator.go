package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/mb/v3"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/immxrtalbeast/axenix_mesh/internal/channelproto"
	"github.com/immxrtalbeast/axenix_mesh/internal/domain"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/sl"
)

const (
	defaultNegotiationTimeout = 30 * time.Second
	defaultChunkDelay         = 100 * time.Millisecond
)

// Listener observes the mesh. Callbacks run on the event loop and must not
// call back into the Coordinator synchronously.
type Listener interface {
	PeerJoined(peerID string)
	// PeerLeft reports a closed session. reason is ErrRemoteLeft when the
	// relay announced the departure.
	PeerLeft(peerID string, reason error)
	RemoteTrack(peerID string, track RemoteTrack)
}

type NopListener struct{}

func (NopListener) PeerJoined(string)               {}
func (NopListener) PeerLeft(string, error)          {}
func (NopListener) RemoteTrack(string, RemoteTrack) {}

type Options struct {
	RelayURL string
	Dialer   *websocket.Dialer

	Identity domain.IdentityProvider
	NewLink  LinkFactory
	Media    MediaCapture
	Sealer   channelproto.Sealer
	Codec    channelproto.Codec
	Handlers channelproto.Handlers
	Listener Listener

	NegotiationTimeout time.Duration
	ChunkDelay         time.Duration
	MaxFileBytes       int64

	Log *slog.Logger
}

// Coordinator keeps one Session per remote peer in a room. All of its state
// is owned by a single event loop; relay messages, link callbacks and public
// operations are queued into the loop's inbox.
type Coordinator struct {
	opts       Options
	log        *slog.Logger
	listener   Listener
	dispatcher *channelproto.Dispatcher

	inbox     *mb.MB[func()]
	stopped   chan struct{}
	leaveOnce sync.Once

	self       string
	room       string
	relay      *RelayClient
	joining    bool
	joined     bool
	closed     bool
	sessions   map[string]*Session
	media      *LocalMedia
	video      webrtc.TrackLocal
	screenStop func()
	audioOff   bool
	videoOff   bool
}

func New(opts Options) (*Coordinator, error) {
	if opts.Identity == nil {
		return nil, errors.New("mesh: identity provider is required")
	}
	if opts.NewLink == nil {
		return nil, errors.New("mesh: link factory is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Codec == nil {
		opts.Codec = channelproto.JSONCodec{}
	}
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.NegotiationTimeout == 0 {
		opts.NegotiationTimeout = defaultNegotiationTimeout
	}
	if opts.ChunkDelay == 0 {
		opts.ChunkDelay = defaultChunkDelay
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = channelproto.MaxFileBytes
	}

	c := &Coordinator{
		opts:       opts,
		log:        opts.Log,
		listener:   opts.Listener,
		dispatcher: channelproto.NewDispatcher(opts.Codec, opts.Sealer, opts.Handlers, opts.MaxFileBytes, opts.Log),
		inbox:      mb.New[func()](0),
		stopped:    make(chan struct{}),
		sessions:   make(map[string]*Session),
	}
	go c.run()

	return c, nil
}

func (c *Coordinator) run() {
	defer close(c.stopped)
	for {
		fn, err := c.inbox.WaitOne(context.Background())
		if err != nil {
			return
		}
		fn()
	}
}

// post queues fn on the loop. It never blocks; after Leave it is a no-op.
func (c *Coordinator) post(fn func()) {
	_ = c.inbox.TryAdd(fn)
}

// do runs fn on the loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := c.inbox.TryAdd(func() { done <- fn() }); err != nil {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join connects to the relay and announces this participant in room.
// Existing members will offer to us; we only ever answer them.
func (c *Coordinator) Join(ctx context.Context, room string) error {
	const op = "mesh.Coordinator.Join"

	room = strings.TrimSpace(room)
	if room == "" {
		return fmt.Errorf("%s: room is required", op)
	}
	id, err := c.opts.Identity.Identity(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = c.do(ctx, func() error {
		if c.closed {
			return ErrClosed
		}
		if c.joined || c.joining {
			return ErrAlreadyJoined
		}
		c.joining = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	relay, err := DialRelay(ctx, c.opts.Dialer, c.opts.RelayURL, c.onSignal, c.onRelayLost, c.log)
	if err != nil {
		c.post(func() { c.joining = false })
		return fmt.Errorf("%s: %w", op, err)
	}

	err = c.do(ctx, func() error {
		c.joining = false
		if c.closed {
			_ = relay.Close()
			return ErrClosed
		}
		c.relay = relay
		c.room = room
		c.self = id.Username
		c.joined = true

		if err := relay.Send(domain.NewJoinMessage(room, id.Username)); err != nil {
			return &ConnectivityError{Op: "send join", Err: err}
		}
		c.log.Info("joined room",
			slog.String("op", op),
			slog.String("room", room),
			slog.String("peer_id", id.Username),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Coordinator) onSignal(msg domain.SignalMessage) {
	c.post(func() { c.handleSignal(msg) })
}

func (c *Coordinator) onRelayLost(err error) {
	c.post(func() {
		c.log.Warn("relay connection lost", sl.Err(err))
		c.relay = nil
	})
}

func (c *Coordinator) handleSignal(msg domain.SignalMessage) {
	const op = "mesh.Coordinator.handleSignal"
	log := c.log.With(
		slog.String("op", op),
		slog.String("type", msg.Type),
		slog.String("from", msg.From),
	)

	if !c.joined || c.closed {
		return
	}
	if msg.From == "" || msg.From == c.self {
		log.Debug("ignoring signal without a usable sender")
		return
	}

	switch msg.Type {
	case domain.TypePeerJoined:
		c.peerJoined(msg.From)

	case domain.TypePeerLeft:
		if s, ok := c.sessions[msg.From]; ok {
			c.closeSession(s, ErrRemoteLeft)
		}

	case domain.TypeOffer:
		c.remoteOffer(msg, log)

	case domain.TypeAnswer:
		s, ok := c.sessions[msg.From]
		if !ok {
			log.Debug("dropping answer for unknown session")
			return
		}
		desc, err := msg.Description()
		if err != nil {
			log.Warn("dropping answer", sl.Err(err))
			return
		}
		if err := s.acceptAnswer(desc); err != nil {
			if errors.Is(err, ErrProtocol) {
				log.Warn("dropping answer", sl.Err(err))
				return
			}
			c.closeSession(s, err)
		}

	case domain.TypeICECandidate:
		s, ok := c.sessions[msg.From]
		if !ok {
			log.Debug("dropping candidate for unknown session")
			return
		}
		candidate, err := msg.ICECandidate()
		if err != nil {
			log.Warn("dropping candidate", sl.Err(err))
			return
		}
		if err := s.addCandidate(candidate); err != nil {
			log.Warn("failed to add candidate", sl.Err(err))
		}

	default:
		log.Warn("dropping unsupported signal")
	}
}

// peerJoined starts an offer to a newcomer. A second announcement for a
// known id means the peer reconnected, so the stale session goes first.
func (c *Coordinator) peerJoined(peerID string) {
	if old, ok := c.sessions[peerID]; ok {
		c.closeSession(old, ErrReplaced)
	}

	s, err := c.newSession(peerID, RoleOfferer)
	if err != nil {
		c.log.Error("failed to create session", slog.String("peer_id", peerID), sl.Err(err))
		return
	}
	c.listener.PeerJoined(peerID)

	if err := s.startOffer(c.localTracks()); err != nil {
		c.closeSession(s, err)
		return
	}
	c.applyMute(s)
}

func (c *Coordinator) remoteOffer(msg domain.SignalMessage, log *slog.Logger) {
	if s, ok := c.sessions[msg.From]; ok {
		log.Warn("dropping offer", sl.Err(protocolErr("offer for existing session in state %s", s.State())))
		return
	}
	desc, err := msg.Description()
	if err != nil {
		log.Warn("dropping offer", sl.Err(err))
		return
	}

	s, err := c.newSession(msg.From, RoleAnswerer)
	if err != nil {
		log.Error("failed to create session", sl.Err(err))
		return
	}
	c.listener.PeerJoined(msg.From)

	if err := s.acceptOffer(desc, c.localTracks()); err != nil {
		c.closeSession(s, err)
		return
	}
	c.applyMute(s)
}

func (c *Coordinator) newSession(peerID string, role Role) (*Session, error) {
	s := newSession(sessionConfig{
		peerID:    peerID,
		room:      c.room,
		role:      role,
		signal:    c.sendSignal,
		bind:      c.bindChannel,
		timeout:   c.opts.NegotiationTimeout,
		onTimeout: c.negotiationExpired,
		log:       c.log,
	})

	link, err := c.opts.NewLink(peerID, LinkEvents{
		OnCandidate: func(candidate webrtc.ICECandidateInit) {
			c.post(func() {
				if !c.current(s) {
					return
				}
				if err := s.localCandidate(candidate); err != nil {
					s.log.Warn("failed to send candidate", sl.Err(err))
				}
			})
		},
		OnState: func(ps webrtc.PeerConnectionState) {
			c.post(func() { c.linkState(s, ps) })
		},
		OnChannel: func(ch Channel) {
			// Handlers go on before the transport starts delivering.
			c.bindChannel(s, ch)
			c.post(func() {
				if !c.current(s) {
					_ = ch.Close()
					return
				}
				s.setChannel(ch)
			})
		},
		OnTrack: func(track RemoteTrack) {
			c.post(func() {
				if c.current(s) {
					c.listener.RemoteTrack(peerID, track)
				}
			})
		},
	})
	if err != nil {
		return nil, err
	}

	s.link = link
	c.sessions[peerID] = s
	return s, nil
}

// bindChannel wires channel callbacks to the loop. It is safe to call from
// any goroutine.
func (c *Coordinator) bindChannel(s *Session, ch Channel) {
	ch.OnOpen(func() {
		c.post(func() {
			if c.current(s) && s.channel == ch {
				s.channelOpen = true
				s.log.Debug("message channel open")
			}
		})
	})
	ch.OnClose(func() {
		c.post(func() {
			if s.channel == ch {
				s.channelOpen = false
			}
		})
	})
	ch.OnMessage(func(data []byte) {
		frame := append([]byte(nil), data...)
		c.post(func() {
			if c.current(s) {
				_ = c.dispatcher.Handle(s.PeerID, frame)
			}
		})
	})
}

func (c *Coordinator) current(s *Session) bool {
	return c.sessions[s.PeerID] == s
}

func (c *Coordinator) linkState(s *Session, ps webrtc.PeerConnectionState) {
	if !c.current(s) {
		return
	}
	connected, err := s.linkStateChanged(ps)
	if connected {
		s.log.Info("peer connected")
	}
	if err != nil {
		c.closeSession(s, err)
	}
}

func (c *Coordinator) negotiationExpired(s *Session) {
	c.post(func() {
		if c.current(s) && s.State().Negotiating() {
			c.closeSession(s, ErrNegotiationTimeout)
		}
	})
}

func (c *Coordinator) closeSession(s *Session, reason error) {
	if !s.close(reason) {
		return
	}
	if c.current(s) {
		delete(c.sessions, s.PeerID)
	}
	c.dispatcher.Forget(s.PeerID)
	c.listener.PeerLeft(s.PeerID, reason)
}

func (c *Coordinator) sendSignal(msg domain.SignalMessage) error {
	if c.relay == nil {
		return &ConnectivityError{Op: "signal " + msg.Type, Err: ErrRelayClosed}
	}
	return c.relay.Send(msg)
}

func (c *Coordinator) localTracks() []webrtc.TrackLocal {
	if c.media == nil {
		return nil
	}
	return []webrtc.TrackLocal{c.media.Audio, c.video}
}

// AttachLocalMedia captures camera and microphone. The tracks are offered
// to every session negotiated afterwards, so attach before Join. Sessions
// that are already negotiated only pick up the new tracks if they were
// negotiated with media before; there is no renegotiation.
func (c *Coordinator) AttachLocalMedia(ctx context.Context) error {
	if c.opts.Media == nil {
		return &MediaUnavailableError{Err: ErrNoMedia}
	}
	media, err := c.opts.Media.Capture(ctx)
	if err != nil {
		return &MediaUnavailableError{Err: err}
	}

	return c.do(ctx, func() error {
		if c.closed {
			media.Stop()
			return ErrClosed
		}
		if c.media != nil {
			c.media.Stop()
		}
		c.media = media
		if c.screenStop == nil {
			c.video = media.Video
		}

		for _, s := range c.sessions {
			c.sendTrack(s, webrtc.RTPCodecTypeAudio, c.outboundAudio())
			c.sendTrack(s, webrtc.RTPCodecTypeVideo, c.outboundVideo())
		}
		return nil
	})
}

// Broadcast encodes msg once and writes it to every connected session with
// an open channel. A failing peer does not stop delivery to the others.
func (c *Coordinator) Broadcast(ctx context.Context, msg channelproto.Message) error {
	const op = "mesh.Coordinator.Broadcast"

	codec := c.dispatcher.Codec()
	frame, err := codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return c.do(ctx, func() error {
		if c.closed {
			return ErrClosed
		}
		for _, s := range c.sessions {
			if !s.canSend() {
				continue
			}
			if err := s.send(frame, codec.Binary()); err != nil {
				s.log.Warn("broadcast failed",
					slog.String("op", op),
					slog.String("type", msg.MessageType()),
					sl.Err(err),
				)
			}
		}
		return nil
	})
}

// ReplaceOutboundVideo swaps the outgoing video on every session without
// renegotiating. A nil track falls back to the camera.
func (c *Coordinator) ReplaceOutboundVideo(ctx context.Context, track webrtc.TrackLocal) error {
	return c.do(ctx, func() error {
		if c.closed {
			return ErrClosed
		}
		c.replaceVideo(track)
		return nil
	})
}

func (c *Coordinator) replaceVideo(track webrtc.TrackLocal) {
	if track == nil && c.media != nil {
		track = c.media.Video
	}
	c.video = track

	for _, s := range c.sessions {
		c.sendTrack(s, webrtc.RTPCodecTypeVideo, c.outboundVideo())
	}
}

// outboundAudio is the microphone unless it is muted.
func (c *Coordinator) outboundAudio() webrtc.TrackLocal {
	if c.audioOff || c.media == nil {
		return nil
	}
	return c.media.Audio
}

// outboundVideo is the camera or the screen unless video is muted.
func (c *Coordinator) outboundVideo() webrtc.TrackLocal {
	if c.videoOff {
		return nil
	}
	return c.video
}

// sendTrack points the kind's sender at track. Sessions negotiated without
// that kind are skipped.
func (c *Coordinator) sendTrack(s *Session, kind webrtc.RTPCodecType, track webrtc.TrackLocal) {
	if err := s.link.ReplaceTrack(kind, track); err != nil && !errors.Is(err, ErrNoSender) {
		s.log.Warn("failed to replace track", slog.String("kind", kind.String()), sl.Err(err))
	}
}

// applyMute silences a freshly negotiated session. Its tracks were still
// added so that unmuting needs no renegotiation.
func (c *Coordinator) applyMute(s *Session) {
	if c.media == nil {
		return
	}
	if c.audioOff {
		c.sendTrack(s, webrtc.RTPCodecTypeAudio, nil)
	}
	if c.videoOff {
		c.sendTrack(s, webrtc.RTPCodecTypeVideo, nil)
	}
}

// SetAudioEnabled mutes or unmutes the microphone on every session.
func (c *Coordinator) SetAudioEnabled(ctx context.Context, enabled bool) error {
	return c.do(ctx, func() error {
		if c.closed {
			return ErrClosed
		}
		if c.media == nil {
			return &MediaUnavailableError{Err: ErrNoMedia}
		}
		c.audioOff = !enabled
		for _, s := range c.sessions {
			c.sendTrack(s, webrtc.RTPCodecTypeAudio, c.outboundAudio())
		}
		return nil
	})
}

// SetVideoEnabled turns outgoing video off or back on. Enabling restores
// the screen while a screen share is running, the camera otherwise.
func (c *Coordinator) SetVideoEnabled(ctx context.Context, enabled bool) error {
	return c.do(ctx, func() error {
		if c.closed {
			return ErrClosed
		}
		if c.media == nil {
			return &MediaUnavailableError{Err: ErrNoMedia}
		}
		c.videoOff = !enabled
		for _, s := range c.sessions {
			c.sendTrack(s, webrtc.RTPCodecTypeVideo, c.outboundVideo())
		}
		return nil
	})
}

// MediaEnabled reports whether audio and video are currently sent.
func (c *Coordinator) MediaEnabled() (audio, video bool) {
	_ = c.do(context.Background(), func() error {
		audio = c.media != nil && !c.audioOff
		video = c.media != nil && !c.videoOff
		return nil
	})
	return audio, video
}

func (c *Coordinator) StartScreenShare(ctx context.Context) error {
	if c.opts.Media == nil {
		return &MediaUnavailableError{Err: ErrNoMedia}
	}
	track, stop, err := c.opts.Media.CaptureScreen(ctx)
	if err != nil {
		return &MediaUnavailableError{Err: err}
	}

	return c.do(ctx, func() error {
		if c.closed {
			stop()
			return ErrClosed
		}
		if c.screenStop != nil {
			c.screenStop()
		}
		c.screenStop = stop
		c.replaceVideo(track)
		return nil
	})
}

func (c *Coordinator) StopScreenShare(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.screenStop == nil {
			return nil
		}
		c.screenStop()
		c.screenStop = nil
		c.replaceVideo(nil)
		return nil
	})
}

// SendChat seals text from the local identity and broadcasts it. The
// returned message is what peers will see.
func (c *Coordinator) SendChat(ctx context.Context, text string) (channelproto.ChatMessage, error) {
	const op = "mesh.Coordinator.SendChat"

	if c.opts.Sealer == nil {
		return channelproto.ChatMessage{}, fmt.Errorf("%s: %w", op, channelproto.ErrNoSealer)
	}
	id, err := c.opts.Identity.Identity(ctx)
	if err != nil {
		return channelproto.ChatMessage{}, fmt.Errorf("%s: %w", op, err)
	}
	msg, err := channelproto.NewChatMessage(id.Username, text)
	if err != nil {
		return channelproto.ChatMessage{}, fmt.Errorf("%s: %w", op, err)
	}
	chat, err := channelproto.SealChat(c.opts.Sealer, msg)
	if err != nil {
		return channelproto.ChatMessage{}, fmt.Errorf("%s: %w", op, err)
	}
	return msg, c.Broadcast(ctx, chat)
}

func (c *Coordinator) SendDrawing(ctx context.Context, action any) error {
	wb, err := channelproto.NewWhiteboard(action)
	if err != nil {
		return fmt.Errorf("mesh.Coordinator.SendDrawing: %w", err)
	}
	return c.Broadcast(ctx, wb)
}

// ShareFile seals f and broadcasts it as a file-start followed by paced
// chunks. It blocks for the duration of the transfer and returns the
// transfer id.
func (c *Coordinator) ShareFile(ctx context.Context, f channelproto.File) (string, error) {
	const op = "mesh.Coordinator.ShareFile"

	if c.opts.Sealer == nil {
		return "", fmt.Errorf("%s: %w", op, channelproto.ErrNoSealer)
	}
	out, err := channelproto.SealFile(c.opts.Sealer, f, c.opts.MaxFileBytes)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	id := out.Start.FileID

	if err := c.Broadcast(ctx, out.Start); err != nil {
		return id, err
	}
	for i, chunk := range out.Chunks {
		if i > 0 && c.opts.ChunkDelay > 0 {
			t := time.NewTimer(c.opts.ChunkDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return id, ctx.Err()
			case <-t.C:
			}
		}
		if err := c.Broadcast(ctx, chunk); err != nil {
			return id, err
		}
	}

	c.log.Info("file shared",
		slog.String("op", op),
		slog.String("file_id", id),
		slog.String("name", f.Name),
		slog.Int("chunks", len(out.Chunks)),
	)
	return id, nil
}

// Peers returns a snapshot of the sessions ordered by peer id.
func (c *Coordinator) Peers() []PeerInfo {
	var peers []PeerInfo
	_ = c.do(context.Background(), func() error {
		peers = make([]PeerInfo, 0, len(c.sessions))
		for _, s := range c.sessions {
			peers = append(peers, s.Info())
		}
		sort.Slice(peers, func(i, j int) bool { return peers[i].PeerID < peers[j].PeerID })
		return nil
	})
	return peers
}

// Leave closes every session, stops local media and disconnects from the
// relay. It is idempotent and must not be called from a Listener callback.
func (c *Coordinator) Leave() error {
	c.leaveOnce.Do(func() {
		_ = c.do(context.Background(), func() error {
			c.closed = true
			for _, s := range c.sessions {
				c.closeSession(s, ErrClosed)
			}
			if c.screenStop != nil {
				c.screenStop()
				c.screenStop = nil
			}
			if c.media != nil {
				c.media.Stop()
			}
			if c.relay != nil {
				_ = c.relay.Close()
				c.relay = nil
			}
			c.joined = false
			return nil
		})
		_ = c.inbox.Close()
		<-c.stopped
	})
	return nil
}
