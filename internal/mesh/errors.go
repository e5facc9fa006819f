package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("mesh coordinator closed")
	ErrNotJoined          = errors.New("not joined to a room")
	ErrAlreadyJoined      = errors.New("already joined to a room")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrProtocol           = errors.New("signaling protocol violation")
	ErrNoSender           = errors.New("no sender for track kind")
	ErrNoMedia            = errors.New("no media capture configured")
	ErrRemoteLeft         = errors.New("remote peer left")
	ErrReplaced           = errors.New("session replaced by a newer one")
)

// ConnectivityError reports a relay or peer link that could not be reached
// or was lost.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// MediaUnavailableError reports that local media could not be captured.
type MediaUnavailableError struct {
	Err error
}

func (e *MediaUnavailableError) Error() string {
	return fmt.Sprintf("media unavailable: %v", e.Err)
}

func (e *MediaUnavailableError) Unwrap() error {
	return e.Err
}

func protocolErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
