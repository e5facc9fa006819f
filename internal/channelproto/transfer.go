package channelproto

import (
	"fmt"
	"time"
)

// PendingTransfer collects the chunks of one incoming file. The slot array
// always has exactly TotalChunks entries.
type PendingTransfer struct {
	ID        string
	Name      string
	Type      string
	Size      int64
	IV        []byte
	StartedAt time.Time

	slots    [][]byte
	received int
}

func (p *PendingTransfer) Total() int    { return len(p.slots) }
func (p *PendingTransfer) Received() int { return p.received }
func (p *PendingTransfer) Complete() bool {
	return p.received == len(p.slots)
}

func (p *PendingTransfer) assemble() []byte {
	n := 0
	for _, s := range p.slots {
		n += len(s)
	}
	out := make([]byte, 0, n)
	for _, s := range p.slots {
		out = append(out, s...)
	}
	return out
}

// SealedFile is a fully reassembled transfer, still sealed.
type SealedFile struct {
	ID   string
	Name string
	Type string
	Size int64
	IV   []byte
	Data []byte
}

// Reassembler tracks the transfers announced by one remote peer. It is not
// synchronized.
type Reassembler struct {
	maxChunks int
	transfers map[string]*PendingTransfer
}

func NewReassembler(maxChunks int) *Reassembler {
	if maxChunks <= 0 {
		maxChunks = MaxChunks
	}
	return &Reassembler{
		maxChunks: maxChunks,
		transfers: make(map[string]*PendingTransfer),
	}
}

// Start registers an announced transfer. A zero-chunk transfer is complete
// immediately and is returned instead of being registered.
func (r *Reassembler) Start(m FileStart) (*SealedFile, error) {
	const op = "channelproto.Reassembler.Start"

	if m.FileID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownTransfer)
	}
	if m.TotalChunks < 0 || m.TotalChunks > r.maxChunks {
		return nil, fmt.Errorf("%s: %w: %d", op, ErrChunkCount, m.TotalChunks)
	}
	if _, ok := r.transfers[m.FileID]; ok {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrDuplicateTransfer, m.FileID)
	}

	t := &PendingTransfer{
		ID:        m.FileID,
		Name:      m.FileName,
		Type:      m.FileType,
		Size:      m.FileSize,
		IV:        m.IV,
		StartedAt: time.Now(),
		slots:     make([][]byte, m.TotalChunks),
	}
	if t.Complete() {
		return t.sealed(), nil
	}
	r.transfers[m.FileID] = t
	return nil, nil
}

// Put stores a chunk. Repeating an index is a no-op. When the last missing
// slot is filled the transfer is removed and returned.
func (r *Reassembler) Put(m FileChunk) (*SealedFile, error) {
	const op = "channelproto.Reassembler.Put"

	t, ok := r.transfers[m.FileID]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUnknownTransfer, m.FileID)
	}
	if m.ChunkIndex < 0 || m.ChunkIndex >= len(t.slots) {
		return nil, fmt.Errorf("%s: %w: %d of %d", op, ErrChunkIndex, m.ChunkIndex, len(t.slots))
	}
	if t.slots[m.ChunkIndex] != nil {
		return nil, nil
	}

	chunk := m.Chunk
	if chunk == nil {
		chunk = []byte{}
	}
	t.slots[m.ChunkIndex] = chunk
	t.received++

	if !t.Complete() {
		return nil, nil
	}
	delete(r.transfers, m.FileID)
	return t.sealed(), nil
}

func (r *Reassembler) Forget(id string) {
	delete(r.transfers, id)
}

func (r *Reassembler) Pending() []*PendingTransfer {
	out := make([]*PendingTransfer, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, t)
	}
	return out
}

func (r *Reassembler) Len() int {
	return len(r.transfers)
}

func (p *PendingTransfer) sealed() *SealedFile {
	return &SealedFile{
		ID:   p.ID,
		Name: p.Name,
		Type: p.Type,
		Size: p.Size,
		IV:   p.IV,
		Data: p.assemble(),
	}
}
