package mesh

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// NewPionLinkFactory builds Links on pion PeerConnections sharing one API
// instance.
func NewPionLinkFactory(cfg webrtc.Configuration) LinkFactory {
	api := webrtc.NewAPI()
	return func(peerID string, events LinkEvents) (Link, error) {
		return newPionLink(api, cfg, events)
	}
}

type pionLink struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
}

func newPionLink(api *webrtc.API, cfg webrtc.Configuration, events LinkEvents) (*pionLink, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, &ConnectivityError{Op: "create peer connection", Err: err}
	}

	l := &pionLink{
		pc:      pc,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || events.OnCandidate == nil {
			return
		}
		events.OnCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if events.OnState != nil {
			events.OnState(s)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if events.OnChannel != nil {
			events.OnChannel(&pionChannel{dc: dc})
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if events.OnTrack != nil {
			events.OnTrack(track)
		}
	})

	return l, nil
}

func (l *pionLink) AddTrack(track webrtc.TrackLocal) error {
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.senders[track.Kind()] = sender
	l.mu.Unlock()

	// RTCP has to be drained for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (l *pionLink) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	l.mu.Lock()
	sender, ok := l.senders[kind]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, kind)
	}
	return sender.ReplaceTrack(track)
}

func (l *pionLink) CreateChannel(label string) (Channel, error) {
	ordered := true
	dc, err := l.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (l *pionLink) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (l *pionLink) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (l *pionLink) AcceptAnswer(answer webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(answer)
}

func (l *pionLink) AddCandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string { return c.dc.Label() }

func (c *pionChannel) Open() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *pionChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *pionChannel) SendText(text string) error {
	return c.dc.SendText(text)
}

func (c *pionChannel) OnOpen(f func()) {
	c.dc.OnOpen(f)
}

func (c *pionChannel) OnMessage(f func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data)
	})
}

func (c *pionChannel) OnClose(f func()) {
	c.dc.OnClose(f)
}

func (c *pionChannel) Close() error {
	err := c.dc.Close()
	if errors.Is(err, webrtc.ErrConnectionClosed) {
		return nil
	}
	return err
}
