package engine

import (
	"encoding/json"
	"strconv"
	"time"
)

// Data channel wire protocol. A metadata envelope announces the file,
// then ordered chunk envelopes carry the bytes. JSON keeps browser
// peers on the other end of the channel happy.
const (
	// DataChannelLabel names the single reliable ordered channel.
	DataChannelLabel = "fileTransfer"

	// ChunkSize is the payload size of one chunk envelope.
	ChunkSize = 16 * 1024

	// YieldEvery and YieldPause throttle the send loop so the channel
	// buffer never saturates.
	YieldEvery = 10
	YieldPause = 10 * time.Millisecond

	envelopeMetadata = "metadata"
	envelopeChunk    = "chunk"
)

// Envelope is the discriminated union flowing over the data channel.
type Envelope struct {
	Type string `json:"type"`

	// metadata
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	FileType    string `json:"fileType,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`

	// chunk
	Index int    `json:"index"`
	Data  []byte `json:"data,omitempty"`
}

// MetadataEnvelope builds the leading announcement for a file.
func MetadataEnvelope(name string, size int64, fileType string, totalChunks int) Envelope {
	return Envelope{
		Type:        envelopeMetadata,
		FileName:    name,
		FileSize:    size,
		FileType:    fileType,
		TotalChunks: totalChunks,
	}
}

// ChunkEnvelope wraps one slice of the file.
func ChunkEnvelope(index int, data []byte) Envelope {
	return Envelope{Type: envelopeChunk, Index: index, Data: data}
}

// Encode serializes an envelope for the data channel.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a data channel frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, NewError("parse envelope", err)
	}
	return e, nil
}

// SplitChunks slices a payload into ordered ChunkSize pieces. The
// slices alias the input.
func SplitChunks(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for off := 0; off < len(data); off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// Reassemble concatenates received chunks in index order. A nil slot
// means a chunk never arrived and the transfer is unrecoverable.
func Reassemble(chunks [][]byte) ([]byte, error) {
	var total int
	for i, c := range chunks {
		if c == nil {
			return nil, WrapError("reassemble", ErrMissingChunk, "index "+strconv.Itoa(i))
		}
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

// ChunkProgress maps received-count to a 0-100 progress figure.
func ChunkProgress(received, total int) int {
	if total <= 0 {
		return 0
	}
	p := received * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}
