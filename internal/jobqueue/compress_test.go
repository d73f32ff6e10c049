package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_DisabledReturnsPayloadUnchanged(t *testing.T) {
	payload := []byte("hello world")
	out, compressed, err := compress(payload, false)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, payload, out)
}

func TestCompressDecompress_RoundTrip(t *testing.T) {
	payload := []byte(`{"batchId":"hist_1","count":3}`)

	compressedPayload, compressed, err := compress(payload, true)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.NotEqual(t, payload, compressedPayload)

	out, err := decompress(compressedPayload, compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecompress_PassesThroughWhenNotCompressed(t *testing.T) {
	payload := []byte("plain")
	out, err := decompress(payload, false)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}
