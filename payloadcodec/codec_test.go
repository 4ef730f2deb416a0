package payloadcodec_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evtcore.dev/errs"
	"evtcore.dev/payloadcodec"
)

func TestEncodeDecodeRoundTripSmallPayload(t *testing.T) {
	payload := []byte(`{"x":1}`)
	enc, err := payloadcodec.Encode(payload, payloadcodec.Options{})
	require.NoError(t, err)
	assert.False(t, enc.Chunked)
	assert.Equal(t, 1, enc.TotalChunks())

	out, err := payloadcodec.Decode(enc.Chunks, enc.Compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestEncodeDecodeRoundTripLargePayload(t *testing.T) {
	payload := make([]byte, 200*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	enc, err := payloadcodec.Encode(payload, payloadcodec.Options{DisableCompress: true, MaxChunkBytes: 60 * 1024})
	require.NoError(t, err)
	assert.True(t, enc.Chunked)
	assert.Equal(t, 4, enc.TotalChunks())

	out, err := payloadcodec.Decode(enc.Chunks, enc.Compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecodeMissingContinuationChunkIsCorrupt(t *testing.T) {
	chunks := [][]byte{[]byte("a"), nil, []byte("c")}
	_, err := payloadcodec.Decode(chunks, false)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CorruptPayload))
}

func TestCompressIdempotence(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")
	compressed, err := payloadcodec.Compress(payload)
	require.NoError(t, err)
	decompressed, err := payloadcodec.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestShouldChunkRespectsThresholdAndEnablement(t *testing.T) {
	opts := payloadcodec.Options{ThresholdBytes: 100}
	assert.False(t, payloadcodec.ShouldChunk(50, true, opts))
	assert.True(t, payloadcodec.ShouldChunk(150, true, opts))
	assert.False(t, payloadcodec.ShouldChunk(150, false, opts))
}

func TestContinuationRowKeyFormat(t *testing.T) {
	assert.Equal(t, "abc_p1", payloadcodec.ContinuationRowKey("abc", 1))
}
