package channelproto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Bytes is binary payload that travels as a JSON array of octets, the form
// browser peers produce with Array.from(Uint8Array). Decoding also accepts a
// base64 string. Binary codecs see a plain byte slice.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, 2+len(b)*4)
	buf = append(buf, '[')
	for i, v := range b {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(v), 10)
	}
	buf = append(buf, ']')
	return buf, nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*b = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("bytes: %w", err)
		}
		*b = decoded
		return nil
	}

	var octets []int
	if err := json.Unmarshal(data, &octets); err != nil {
		return fmt.Errorf("bytes: %w", err)
	}
	out := make([]byte, len(octets))
	for i, v := range octets {
		if v < 0 || v > 255 {
			return fmt.Errorf("bytes: octet %d out of range at %d", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
