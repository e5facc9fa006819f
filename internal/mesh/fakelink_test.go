package mesh

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

var errRemoteNotSet = errors.New("remote description not set")

type pairKey struct {
	owner, peer string
}

// fakeNet pairs in-memory links: once an offerer applies the answer, its
// link and the answerer's newest link to it connect and open a channel.
type fakeNet struct {
	mu      sync.Mutex
	links   map[pairKey]*fakeLink
	offers  map[pairKey]int
	noRoute bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		links:  make(map[pairKey]*fakeLink),
		offers: make(map[pairKey]int),
	}
}

func (n *fakeNet) factory(owner string) LinkFactory {
	return func(peerID string, events LinkEvents) (Link, error) {
		l := &fakeLink{
			net:    n,
			owner:  owner,
			peer:   peerID,
			events: events,
			tracks: make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		}
		n.mu.Lock()
		n.links[pairKey{owner, peerID}] = l
		n.mu.Unlock()
		return l, nil
	}
}

func (n *fakeNet) link(owner, peer string) *fakeLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[pairKey{owner, peer}]
}

func (n *fakeNet) offerCount(owner, peer string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offers[pairKey{owner, peer}]
}

func (n *fakeNet) connect(offerer *fakeLink) {
	n.mu.Lock()
	answerer := n.links[pairKey{offerer.peer, offerer.owner}]
	blocked := n.noRoute
	n.mu.Unlock()

	if blocked || answerer == nil {
		return
	}

	answerer.mu.Lock()
	ready := answerer.remoteSet && !answerer.closed
	answerer.mu.Unlock()
	if !ready {
		return
	}

	offerer.mu.Lock()
	oc := offerer.channel
	offerer.remote = answerer
	offerer.mu.Unlock()

	ac := &fakeChannel{label: dataChannelLabel}
	if oc != nil {
		oc.mu.Lock()
		oc.peer = ac
		oc.mu.Unlock()
		ac.peer = oc
	}

	answerer.mu.Lock()
	answerer.remote = offerer
	answerer.channel = ac
	answerer.mu.Unlock()

	offerer.emitState(webrtc.PeerConnectionStateConnected)
	answerer.emitState(webrtc.PeerConnectionStateConnected)
	if oc != nil {
		if answerer.events.OnChannel != nil {
			answerer.events.OnChannel(ac)
		}
		oc.setOpen()
		ac.setOpen()
	}
}

type fakeLink struct {
	net    *fakeNet
	owner  string
	peer   string
	events LinkEvents

	mu         sync.Mutex
	localSet   bool
	remoteSet  bool
	closed     bool
	remote     *fakeLink
	channel    *fakeChannel
	tracks     map[webrtc.RTPCodecType]webrtc.TrackLocal
	candidates []webrtc.ICECandidateInit
}

func (l *fakeLink) AddTrack(track webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks[track.Kind()] = track
	return nil
}

func (l *fakeLink) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tracks[kind]; !ok {
		return ErrNoSender
	}
	l.tracks[kind] = track
	return nil
}

func (l *fakeLink) track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracks[kind]
}

func (l *fakeLink) CreateChannel(label string) (Channel, error) {
	ch := &fakeChannel{label: label}
	l.mu.Lock()
	l.channel = ch
	l.mu.Unlock()
	return ch, nil
}

func (l *fakeLink) CreateOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	l.localSet = true
	l.mu.Unlock()

	l.net.mu.Lock()
	l.net.offers[pairKey{l.owner, l.peer}]++
	l.net.mu.Unlock()

	l.emitCandidate()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer from " + l.owner}, nil
}

func (l *fakeLink) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	l.remoteSet = true
	l.localSet = true
	l.mu.Unlock()

	l.emitCandidate()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer from " + l.owner}, nil
}

func (l *fakeLink) AcceptAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	l.remoteSet = true
	l.mu.Unlock()

	l.net.connect(l)
	return nil
}

func (l *fakeLink) AddCandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		return errRemoteNotSet
	}
	l.candidates = append(l.candidates, candidate)
	return nil
}

func (l *fakeLink) appliedCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.candidates)
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	remote := l.remote
	ch := l.channel
	l.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	l.emitState(webrtc.PeerConnectionStateClosed)

	if remote != nil {
		remote.mu.Lock()
		paired := remote.remote == l && !remote.closed
		remote.mu.Unlock()
		if paired {
			remote.emitState(webrtc.PeerConnectionStateDisconnected)
		}
	}
	return nil
}

func (l *fakeLink) emitState(s webrtc.PeerConnectionState) {
	if l.events.OnState != nil {
		l.events.OnState(s)
	}
}

func (l *fakeLink) emitCandidate() {
	if l.events.OnCandidate != nil {
		l.events.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:" + l.owner})
	}
}

type fakeChannel struct {
	label string

	mu        sync.Mutex
	open      bool
	closed    bool
	peer      *fakeChannel
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	open, peer := c.open, c.peer
	c.mu.Unlock()
	if !open || peer == nil {
		return errChannelNotReady
	}
	peer.deliver(append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) SendText(text string) error {
	return c.Send([]byte(text))
}

func (c *fakeChannel) deliver(data []byte) {
	c.mu.Lock()
	f := c.onMessage
	c.mu.Unlock()
	if f != nil {
		f(data)
	}
}

func (c *fakeChannel) OnOpen(f func()) {
	c.mu.Lock()
	c.onOpen = f
	open := c.open
	c.mu.Unlock()
	if open {
		f()
	}
}

func (c *fakeChannel) OnMessage(f func([]byte)) {
	c.mu.Lock()
	c.onMessage = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(f func()) {
	c.mu.Lock()
	c.onClose = f
	c.mu.Unlock()
}

func (c *fakeChannel) setOpen() {
	c.mu.Lock()
	if c.closed || c.open {
		c.mu.Unlock()
		return
	}
	c.open = true
	f := c.onOpen
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	f, peer := c.onClose, c.peer
	c.mu.Unlock()

	if f != nil {
		f()
	}
	if peer != nil {
		_ = peer.Close()
	}
	return nil
}
