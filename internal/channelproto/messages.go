package channelproto

import (
	"encoding/json"
)

const (
	TypeChat       = "chat"
	TypeWhiteboard = "whiteboard"
	TypeFileStart  = "file-start"
	TypeFileChunk  = "file-chunk"
)

const (
	// ChunkSize is the largest file chunk put on the channel.
	ChunkSize = 16 * 1024
	// MaxFileBytes caps a shared file before sealing.
	MaxFileBytes = 10 * 1024 * 1024
	// MaxChunks bounds totalChunks accepted from a remote peer. It leaves
	// room for sealing overhead on a MaxFileBytes file.
	MaxChunks = MaxFileBytes/ChunkSize + chunkSlack

	chunkSlack = 64
)

// ChunkLimit is the largest totalChunks a receiver accepts for files of up
// to maxBytes. maxBytes <= 0 means MaxFileBytes.
func ChunkLimit(maxBytes int64) int {
	if maxBytes <= 0 {
		return MaxChunks
	}
	return int((maxBytes+ChunkSize-1)/ChunkSize) + chunkSlack
}

// Message is one application message carried on the peer channel.
type Message interface {
	MessageType() string
}

// Chat carries a sealed ChatMessage.
type Chat struct {
	Type string `json:"type" msgpack:"type"`
	IV   Bytes  `json:"iv" msgpack:"iv"`
	Data Bytes  `json:"data" msgpack:"data"`
}

func (Chat) MessageType() string { return TypeChat }

// Whiteboard carries an opaque drawing action.
type Whiteboard struct {
	Type   string          `json:"type" msgpack:"type"`
	Action json.RawMessage `json:"action" msgpack:"action"`
}

func (Whiteboard) MessageType() string { return TypeWhiteboard }

// FileStart announces a sealed file that follows as TotalChunks chunks.
type FileStart struct {
	Type        string `json:"type" msgpack:"type"`
	FileID      string `json:"fileId" msgpack:"fileId"`
	FileName    string `json:"fileName" msgpack:"fileName"`
	FileType    string `json:"fileType" msgpack:"fileType"`
	FileSize    int64  `json:"fileSize" msgpack:"fileSize"`
	TotalChunks int    `json:"totalChunks" msgpack:"totalChunks"`
	IV          Bytes  `json:"iv" msgpack:"iv"`
}

func (FileStart) MessageType() string { return TypeFileStart }

type FileChunk struct {
	Type       string `json:"type" msgpack:"type"`
	FileID     string `json:"fileId" msgpack:"fileId"`
	ChunkIndex int    `json:"chunkIndex" msgpack:"chunkIndex"`
	Chunk      Bytes  `json:"chunk" msgpack:"chunk"`
}

func (FileChunk) MessageType() string { return TypeFileChunk }

func NewWhiteboard(action any) (Whiteboard, error) {
	raw, ok := action.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(action)
		if err != nil {
			return Whiteboard{}, err
		}
	}
	return Whiteboard{Type: TypeWhiteboard, Action: raw}, nil
}

func NewFileChunk(fileID string, index int, chunk []byte) FileChunk {
	return FileChunk{Type: TypeFileChunk, FileID: fileID, ChunkIndex: index, Chunk: chunk}
}

// DrawAction is the stroke format drawn by the whiteboard. The channel treats
// it as opaque; it is here so Go peers can produce and render strokes.
type DrawAction struct {
	Tool      string  `json:"tool"`
	Color     string  `json:"color,omitempty"`
	LineWidth float64 `json:"lineWidth,omitempty"`
	StartX    float64 `json:"startX"`
	StartY    float64 `json:"startY"`
	EndX      float64 `json:"endX"`
	EndY      float64 `json:"endY"`
}

const (
	ToolPen    = "pen"
	ToolEraser = "eraser"
	ToolClear  = "clear"
)
