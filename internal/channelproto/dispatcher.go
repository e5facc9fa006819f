package channelproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/axenix_mesh/lib/logger/sl"
)

// Sealer encrypts application payloads. iv is the per-message nonce carried
// next to the sealed bytes.
type Sealer interface {
	Seal(plain []byte) (iv, sealed []byte, err error)
	Open(iv, sealed []byte) ([]byte, error)
}

// DrawingSurface renders remote drawing actions.
type DrawingSurface interface {
	Apply(peerID string, action json.RawMessage) error
}

type ChatHandler interface {
	Chat(peerID string, msg ChatMessage)
}

type FileHandler interface {
	File(peerID string, f File)
}

// Handlers receive the decoded traffic. Nil handlers drop their kind.
type Handlers struct {
	Chat    ChatHandler
	Drawing DrawingSurface
	Files   FileHandler
}

// Dispatcher decodes channel frames from every remote peer and routes them.
// File transfers are tracked per peer.
type Dispatcher struct {
	codec    Codec
	sealer   Sealer
	handlers Handlers
	log      *slog.Logger

	maxChunks int

	mu    sync.Mutex
	peers map[string]*Reassembler
}

// NewDispatcher accepts remote files of up to maxFileBytes; zero or less
// means MaxFileBytes.
func NewDispatcher(codec Codec, sealer Sealer, handlers Handlers, maxFileBytes int64, log *slog.Logger) *Dispatcher {
	if codec == nil {
		codec = JSONCodec{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		codec:    codec,
		sealer:   sealer,
		handlers:  handlers,
		log:       log,
		maxChunks: ChunkLimit(maxFileBytes),
		peers:     make(map[string]*Reassembler),
	}
}

func (d *Dispatcher) Codec() Codec {
	return d.codec
}

// Handle processes one frame received from peerID. The returned error is a
// *ProtocolError for frames that were dropped.
func (d *Dispatcher) Handle(peerID string, data []byte) error {
	const op = "channelproto.Dispatcher.Handle"
	log := d.log.With(slog.String("op", op), slog.String("peer_id", peerID))

	msg, err := d.codec.Decode(data)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			pe.PeerID = peerID
		}
		log.Warn("dropping malformed channel message", sl.Err(err))
		return err
	}

	switch m := msg.(type) {
	case Chat:
		err = d.chat(peerID, m)
	case Whiteboard:
		err = d.whiteboard(peerID, m)
	case FileStart:
		err = d.fileStart(peerID, m)
	case FileChunk:
		err = d.fileChunk(peerID, m)
	}
	if err != nil {
		err = protocolErr(peerID, msg.MessageType(), err)
		log.Warn("dropping channel message", sl.Err(err))
	}
	return err
}

// Forget abandons every pending transfer from peerID.
func (d *Dispatcher) Forget(peerID string) {
	d.mu.Lock()
	r, ok := d.peers[peerID]
	delete(d.peers, peerID)
	d.mu.Unlock()

	if ok && r.Len() > 0 {
		d.log.Debug("abandoned pending transfers",
			slog.String("peer_id", peerID),
			slog.Int("count", r.Len()),
		)
	}
}

// Pending reports how many transfers from peerID are incomplete.
func (d *Dispatcher) Pending(peerID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.peers[peerID]; ok {
		return r.Len()
	}
	return 0
}

func (d *Dispatcher) chat(peerID string, m Chat) error {
	if d.sealer == nil {
		return ErrNoSealer
	}
	msg, err := OpenChat(d.sealer, m)
	if err != nil {
		return err
	}
	if d.handlers.Chat != nil {
		d.handlers.Chat.Chat(peerID, msg)
	}
	return nil
}

func (d *Dispatcher) whiteboard(peerID string, m Whiteboard) error {
	if len(m.Action) == 0 {
		return ErrEmptyAction
	}
	if d.handlers.Drawing == nil {
		return nil
	}
	return d.handlers.Drawing.Apply(peerID, m.Action)
}

func (d *Dispatcher) fileStart(peerID string, m FileStart) error {
	d.mu.Lock()
	r, ok := d.peers[peerID]
	if !ok {
		r = NewReassembler(d.maxChunks)
		d.peers[peerID] = r
	}
	done, err := r.Start(m)
	d.mu.Unlock()

	if err != nil {
		return err
	}
	return d.deliver(peerID, done)
}

func (d *Dispatcher) fileChunk(peerID string, m FileChunk) error {
	d.mu.Lock()
	r, ok := d.peers[peerID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, m.FileID)
	}
	done, err := r.Put(m)
	d.mu.Unlock()

	if err != nil {
		return err
	}
	return d.deliver(peerID, done)
}

func (d *Dispatcher) deliver(peerID string, sf *SealedFile) error {
	if sf == nil {
		return nil
	}
	if d.sealer == nil {
		return ErrNoSealer
	}
	f, err := OpenFile(d.sealer, sf)
	if err != nil {
		return err
	}
	d.log.Debug("file received",
		slog.String("peer_id", peerID),
		slog.String("file_id", f.ID),
		slog.String("name", f.Name),
		slog.Int("bytes", len(f.Data)),
	)
	if d.handlers.Files != nil {
		d.handlers.Files.File(peerID, f)
	}
	return nil
}
