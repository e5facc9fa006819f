package channelproto

import (
	"fmt"

	"github.com/google/uuid"
)

// File is a shared file in plaintext.
type File struct {
	ID   string
	Name string
	Type string
	Data []byte
}

// OutgoingFile is a sealed file cut into channel messages. Start goes first;
// the chunks may follow in any order.
type OutgoingFile struct {
	Start  FileStart
	Chunks []FileChunk
}

// SealFile seals f and splits the result into chunks. Files over maxBytes
// are refused before sealing; maxBytes <= 0 means MaxFileBytes.
func SealFile(sealer Sealer, f File, maxBytes int64) (*OutgoingFile, error) {
	const op = "channelproto.SealFile"

	if maxBytes <= 0 {
		maxBytes = MaxFileBytes
	}
	if int64(len(f.Data)) > maxBytes {
		return nil, fmt.Errorf("%s: %w: %d > %d bytes", op, ErrFileTooLarge, len(f.Data), maxBytes)
	}

	iv, sealed, err := sealer.Seal(f.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}

	pieces := Split(sealed)
	out := &OutgoingFile{
		Start: FileStart{
			Type:        TypeFileStart,
			FileID:      id,
			FileName:    f.Name,
			FileType:    f.Type,
			FileSize:    int64(len(f.Data)),
			TotalChunks: len(pieces),
			IV:          iv,
		},
		Chunks: make([]FileChunk, len(pieces)),
	}
	for i, p := range pieces {
		out.Chunks[i] = NewFileChunk(id, i, p)
	}
	return out, nil
}

// OpenFile unseals a reassembled transfer.
func OpenFile(sealer Sealer, sf *SealedFile) (File, error) {
	const op = "channelproto.OpenFile"

	plain, err := sealer.Open(sf.IV, sf.Data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", op, err)
	}
	return File{ID: sf.ID, Name: sf.Name, Type: sf.Type, Data: plain}, nil
}
