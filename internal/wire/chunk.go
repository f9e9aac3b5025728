package wire

import (
	"fmt"

	"github.com/cloudwego/base64x"
)

// ErrBadChunkEncoding is returned when a FILE_CHUNK's data field is not
// valid base64 (spec.md §4.5: chunks travel as base64 inside the JSON
// frame, same as every other binary-bearing field in the control channel).
var ErrBadChunkEncoding = fmt.Errorf("wire: file chunk data is not valid base64")

// DecodeChunk validates and decodes a FILE_CHUNK's base64 payload. Used to
// reject malformed chunks before they are admitted into a transfer
// session's congestion window.
func DecodeChunk(dataB64 string) ([]byte, error) {
	b, err := base64x.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, ErrBadChunkEncoding
	}
	return b, nil
}

// EncodeChunk is the inverse of DecodeChunk, used when constructing test
// fixtures and by any future sender-side tooling.
func EncodeChunk(raw []byte) string {
	return base64x.StdEncoding.EncodeToString(raw)
}
