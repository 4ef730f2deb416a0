// Package payloadcodec implements the large-payload chunking codec for
// the wide-table substrate (§4.C): optional GZip compression followed by
// a split into fixed-size chunks small enough to fit a single table row,
// with the inverse reassemble-then-decompress operation on read.
package payloadcodec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"evtcore.dev/common"
	"evtcore.dev/errs"
)

// DefaultThresholdBytes is the UTF-8 byte length above which a payload is
// routed through chunking, per §4.C.
const DefaultThresholdBytes = 60 * 1024

// DefaultMaxChunkSizeBytes bounds a single chunk (primary or
// continuation row), per §4.C.
const DefaultMaxChunkSizeBytes = 60 * 1024

// Options configures Encode/Decode. Zero-value Options falls back to the
// spec's documented defaults: compression on, and the package's default
// threshold/chunk sizes. DisableCompress must be set explicitly to turn
// compression off, the same way a zero ThresholdBytes/MaxChunkBytes
// means "use the default" rather than "use zero".
type Options struct {
	DisableCompress bool
	ThresholdBytes  int
	MaxChunkBytes   int
}

// Compress reports whether Encode should GZip the payload before
// chunking, per §4.C's "compression on by default".
func (o Options) Compress() bool {
	return !o.DisableCompress
}

func (o Options) threshold() int {
	if o.ThresholdBytes > 0 {
		return o.ThresholdBytes
	}
	return DefaultThresholdBytes
}

func (o Options) maxChunk() int {
	if o.MaxChunkBytes > 0 {
		return o.MaxChunkBytes
	}
	return DefaultMaxChunkSizeBytes
}

// Encoded is the result of Encode: the bytes the table-row writer needs
// to lay out across a primary row and zero or more continuation rows.
type Encoded struct {
	// Chunked is true when the payload was large enough to be split
	// across sibling rows (§4.C step 3).
	Chunked bool
	// Compressed is true when GZip compression was applied.
	Compressed bool
	// Chunks holds the byte chunks in order; Chunks[0] belongs on the
	// primary row, Chunks[1:] on continuation rows payloadChunkIndex 1..N-1.
	Chunks [][]byte
}

// TotalChunks returns len(Chunks), i.e. PayloadTotalChunks for the wire
// format.
func (e Encoded) TotalChunks() int {
	return len(e.Chunks)
}

// ShouldChunk reports whether a payload of byteLen bytes triggers the
// chunking codec under opts, per §4.C's trigger condition.
func ShouldChunk(byteLen int, enabled bool, opts Options) bool {
	return enabled && byteLen > opts.threshold()
}

// Encode compresses (if enabled) and splits payload into chunks sized at
// most opts.maxChunk() bytes each. When the (possibly compressed) payload
// fits in a single chunk, Encoded.Chunked is false and there is exactly
// one chunk, matching §4.C step 2.
func Encode(payload []byte, opts Options) (Encoded, error) {
	data := payload
	compressed := false
	if opts.Compress() {
		c, err := Compress(payload)
		if err != nil {
			return Encoded{}, err
		}
		data = c
		compressed = true
	}

	maxChunk := opts.maxChunk()
	if len(data) <= maxChunk {
		return Encoded{Chunked: false, Compressed: compressed, Chunks: [][]byte{data}}, nil
	}

	total := (len(data) + maxChunk - 1) / maxChunk
	chunks := make([][]byte, 0, total)
	for i := 0; i < len(data); i += maxChunk {
		end := i + maxChunk
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}

	common.Logger.WithFields(map[string]interface{}{
		"originalBytes":   humanize.Bytes(uint64(len(payload))),
		"compressedBytes": humanize.Bytes(uint64(len(data))),
		"chunks":          len(chunks),
	}).Debug("payloadcodec: split payload across continuation rows")

	return Encoded{Chunked: true, Compressed: compressed, Chunks: chunks}, nil
}

// Decode reassembles chunks in index order and reverses compression if
// compressed is true. A nil or empty chunks slice, or a nil element
// (representing a missing continuation row), yields CorruptPayload.
func Decode(chunks [][]byte, compressed bool) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, errs.New(errs.CorruptPayload, "no payload chunks to reassemble")
	}
	var buf bytes.Buffer
	for i, c := range chunks {
		if c == nil {
			return nil, errs.Newf(errs.CorruptPayload, "missing continuation chunk at index %d", i)
		}
		buf.Write(c)
	}
	data := buf.Bytes()
	if !compressed {
		return data, nil
	}
	return Decompress(data)
}

// Compress GZips data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errs.Wrap(errs.CorruptPayload, err, "gzip compress")
	}
	if err := w.Close(); err != nil {
		return nil, errs.Wrap(errs.CorruptPayload, err, "gzip close")
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Any failure (truncated stream, bad
// header) surfaces as CorruptPayload per §7: decompression failure is
// fatal, not retriable.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.CorruptPayload, err, "gzip reader")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.CorruptPayload, err, "gzip read")
	}
	return out, nil
}

// ContinuationRowKey formats the sibling row key for continuation chunk
// i (1-based position is implicit in i itself) of primaryRowKey, per §4.C
// step 3 / §6's row key format `{primaryRow}_p{i}`.
func ContinuationRowKey(primaryRowKey string, index int) string {
	return fmt.Sprintf("%s_p%d", primaryRowKey, index)
}
