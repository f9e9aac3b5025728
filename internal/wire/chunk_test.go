package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeChunkRoundTrips(t *testing.T) {
	raw := []byte("some chunk bytes")
	encoded := EncodeChunk(raw)
	decoded, err := DecodeChunk(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestDecodeChunkRejectsInvalidBase64(t *testing.T) {
	_, err := DecodeChunk("not-valid-base64!!")
	require.ErrorIs(t, err, ErrBadChunkEncoding)
}
