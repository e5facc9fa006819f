package mesh

// State is the lifecycle of one Peer Session. States only move forward; see
// rank.
type State int

const (
	StateIdle State = iota
	StateNegotiatingLocalOffer
	StateNegotiatingRemoteOffer
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiatingLocalOffer:
		return "negotiating-local-offer"
	case StateNegotiatingRemoteOffer:
		return "negotiating-remote-offer"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) rank() int {
	switch s {
	case StateIdle:
		return 0
	case StateNegotiatingLocalOffer, StateNegotiatingRemoteOffer:
		return 1
	case StateConnected:
		return 2
	}
	return 3
}

func (s State) Negotiating() bool {
	return s == StateNegotiatingLocalOffer || s == StateNegotiatingRemoteOffer
}

// Role records which side of the pair sent the offer.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}
