package channelproto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Codec frames Messages for the peer channel. Binary codecs are sent as
// binary channel frames, the others as text.
type Codec interface {
	Name() string
	Binary() bool
	Encode(msg Message) ([]byte, error)
	Decode(data []byte) (Message, error)
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// JSONCodec is the default and the framing browser peers use.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(msg Message) ([]byte, error) {
	return json.Marshal(stamp(msg))
}

func (JSONCodec) Decode(data []byte) (Message, error) {
	return decode(data, json.Unmarshal)
}

// MsgpackCodec is a compact framing for meshes made only of Go peers.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(msg Message) ([]byte, error) {
	return msgpack.Marshal(stamp(msg))
}

func (MsgpackCodec) Decode(data []byte) (Message, error) {
	return decode(data, msgpack.Unmarshal)
}

type envelope struct {
	Type string `json:"type" msgpack:"type"`
}

func decode(data []byte, unmarshal func([]byte, any) error) (Message, error) {
	var env envelope
	if err := unmarshal(data, &env); err != nil {
		return nil, protocolErr("", "", err)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeChat:
		var m Chat
		err = unmarshal(data, &m)
		msg = m
	case TypeWhiteboard:
		var m Whiteboard
		err = unmarshal(data, &m)
		msg = m
	case TypeFileStart:
		var m FileStart
		err = unmarshal(data, &m)
		msg = m
	case TypeFileChunk:
		var m FileChunk
		err = unmarshal(data, &m)
		msg = m
	default:
		return nil, protocolErr("", env.Type, ErrUnknownType)
	}
	if err != nil {
		return nil, protocolErr("", env.Type, err)
	}
	return msg, nil
}

// stamp fills the type discriminator so callers may build messages as
// struct literals.
func stamp(msg Message) Message {
	switch m := msg.(type) {
	case Chat:
		m.Type = TypeChat
		return m
	case *Chat:
		c := *m
		c.Type = TypeChat
		return c
	case Whiteboard:
		m.Type = TypeWhiteboard
		return m
	case *Whiteboard:
		w := *m
		w.Type = TypeWhiteboard
		return w
	case FileStart:
		m.Type = TypeFileStart
		return m
	case *FileStart:
		f := *m
		f.Type = TypeFileStart
		return f
	case FileChunk:
		m.Type = TypeFileChunk
		return m
	case *FileChunk:
		f := *m
		f.Type = TypeFileChunk
		return f
	}
	return msg
}
