package service

import (
	"errors"
	"fmt"

	"github.com/immxrtalbeast/axenix_mesh/internal/repository"
)

var (
	ErrProtocol     = errors.New("protocol error")
	ErrPeerNotFound = errors.New("peer not found")
	ErrRoomNotFound = repository.ErrRoomNotFound
)

// ProtocolError describes a frame the relay refused to act on. It matches
// ErrProtocol under errors.Is.
type ProtocolError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Type != "" {
		msg += " (" + e.Type + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func protocolErr(msgType, reason string, err error) error {
	return &ProtocolError{Type: msgType, Reason: reason, Err: err}
}
