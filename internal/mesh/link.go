package mesh

import (
	"github.com/pion/webrtc/v3"
)

// Link is the peer-to-peer transport behind a Session. The pion
// implementation lives in link_pion.go; tests substitute an in-memory one.
type Link interface {
	AddTrack(track webrtc.TrackLocal) error
	// ReplaceTrack swaps the track on the sender of the given kind without
	// renegotiating. A nil track stops sending.
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	CreateChannel(label string) (Channel, error)

	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// AcceptOffer applies offer as the remote description, then creates and
	// applies the answer.
	AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	AddCandidate(candidate webrtc.ICECandidateInit) error

	Close() error
}

// LinkEvents are invoked from transport goroutines.
type LinkEvents struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnState     func(webrtc.PeerConnectionState)
	OnChannel   func(Channel)
	OnTrack     func(RemoteTrack)
}

type LinkFactory func(peerID string, events LinkEvents) (Link, error)

// Channel is an ordered, reliable message channel carried by a Link.
type Channel interface {
	Label() string
	Open() bool
	Send(data []byte) error
	SendText(text string) error
	OnOpen(f func())
	OnMessage(f func(data []byte))
	OnClose(f func())
	Close() error
}

// RemoteTrack is a media track received from a peer. *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}
