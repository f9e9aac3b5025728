// Package wire implements the control-channel framing layer (spec.md §4.1),
// its JSON message catalog (spec.md §6), and the binary media datagram
// headers (spec.md §4.4).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// DefaultMaxFrameBytes is the hard cap spec.md §4.1 gives for a control
// frame body, sized to accommodate file chunks.
const DefaultMaxFrameBytes = 32 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a decoded length prefix exceeds the
	// configured limit; the caller must close the connection.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
)

// Decoder reads length-prefixed JSON frames off a stream. It is not
// goroutine-safe; each control connection owns exactly one Decoder, read
// from its single read-loop task (spec.md §5).
type Decoder struct {
	r       io.Reader
	maxSize int
}

func NewDecoder(r io.Reader, maxFrameBytes int) *Decoder {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Decoder{r: r, maxSize: maxFrameBytes}
}

// Next reads one frame and returns its parsed Envelope. A returned io.EOF
// signals a clean end-of-stream, including a frame cut short by the end of
// the stream (spec.md §4.1: "Partial frames at end-of-stream are a clean end
// condition"). Any other error is terminal for the connection.
func (d *Decoder) Next() (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > d.maxSize {
		return Envelope{}, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(d.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	env.raw = body
	return env, nil
}

// Envelope is the minimal parsed shell of every control message: just
// enough to dispatch on Type, plus the raw body for a second, typed
// unmarshal by the handler (spec.md §4.1: "Every message body must contain
// a type string field; other fields are type-specific").
type Envelope struct {
	Type string `json:"type"`
	raw  []byte
}

// Decode unmarshals the envelope's raw body into a type-specific struct.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.raw, v)
}

// Encode marshals v (which must carry its own "type" field) and writes the
// length-prefixed frame to w. This is the inverse of Decoder.Next.
func Encode(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	if len(body) > DefaultMaxFrameBytes {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Marshal is Encode without the write, for callers (e.g. the outbound
// write-queue) that need the bytes to enqueue rather than write
// immediately.
func Marshal(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal frame: %w", err)
	}
	if len(body) > DefaultMaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(body)))
	copy(framed[4:], body)
	return framed, nil
}
