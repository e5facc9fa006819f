package channelproto

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType       = errors.New("unknown message type")
	ErrUnknownTransfer   = errors.New("unknown file transfer")
	ErrDuplicateTransfer = errors.New("file transfer already in progress")
	ErrChunkIndex        = errors.New("chunk index out of range")
	ErrChunkCount        = errors.New("invalid chunk count")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrEmptyMessage      = errors.New("chat message cannot be empty")
	ErrMessageTooLong    = errors.New("chat message is too long")
	ErrSenderTooLong     = errors.New("chat sender is too long")
	ErrEmptyAction       = errors.New("whiteboard action is required")
	ErrNoSealer          = errors.New("no sealer configured")
)

// ProtocolError marks a channel message that could not be decoded or does
// not fit the receiver's state. Such messages are logged and dropped.
type ProtocolError struct {
	Type   string
	PeerID string
	Err    error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Type != "" && e.PeerID != "":
		return fmt.Sprintf("channel protocol: %s from %s: %v", e.Type, e.PeerID, e.Err)
	case e.Type != "":
		return fmt.Sprintf("channel protocol: %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("channel protocol: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErr(peerID, typ string, err error) *ProtocolError {
	return &ProtocolError{Type: typ, PeerID: peerID, Err: err}
}
