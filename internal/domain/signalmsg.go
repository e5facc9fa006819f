package domain

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v3"
)

const (
	TypeJoin         = "join"
	TypePeerJoined   = "peer-joined"
	TypePeerLeft     = "peer-left"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

var (
	ErrNoDescription = errors.New("signal carries no session description")
	ErrNoCandidate   = errors.New("signal carries no ice candidate")
)

// SignalMessage is the relay wire format. Negotiation payloads stay raw so the
// relay forwards them without looking inside.
type SignalMessage struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	PeerID    string          `json:"peerId,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// IsNegotiation reports whether the message is routed peer to peer.
func (m *SignalMessage) IsNegotiation() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

func NewJoinMessage(room, peerID string) SignalMessage {
	return SignalMessage{Type: TypeJoin, Room: room, PeerID: peerID}
}

func NewOfferMessage(room, to string, offer webrtc.SessionDescription) (SignalMessage, error) {
	raw, err := json.Marshal(offer)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{Type: TypeOffer, Room: room, To: to, Offer: raw}, nil
}

func NewAnswerMessage(room, to string, answer webrtc.SessionDescription) (SignalMessage, error) {
	raw, err := json.Marshal(answer)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{Type: TypeAnswer, Room: room, To: to, Answer: raw}, nil
}

func NewCandidateMessage(room, to string, candidate webrtc.ICECandidateInit) (SignalMessage, error) {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{Type: TypeICECandidate, Room: room, To: to, Candidate: raw}, nil
}

// Description decodes the offer or answer carried by the message.
func (m *SignalMessage) Description() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription

	raw := m.Offer
	if m.Type == TypeAnswer {
		raw = m.Answer
	}
	if len(raw) == 0 {
		return desc, ErrNoDescription
	}
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, err
	}
	if desc.SDP == "" {
		return desc, ErrNoDescription
	}
	return desc, nil
}

func (m *SignalMessage) ICECandidate() (webrtc.ICECandidateInit, error) {
	var candidate webrtc.ICECandidateInit
	if len(m.Candidate) == 0 {
		return candidate, ErrNoCandidate
	}
	if err := json.Unmarshal(m.Candidate, &candidate); err != nil {
		return candidate, err
	}
	return candidate, nil
}
