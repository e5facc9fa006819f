package channelproto

// Split cuts data into ChunkSize pieces. Empty data yields no chunks. The
// pieces alias data.
func Split(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for off := 0; off < len(data); off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		chunks = append(chunks, data[off:end:end])
	}
	return chunks
}
