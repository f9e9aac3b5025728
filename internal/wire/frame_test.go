package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, CreateMeeting{Type: TypeCreateMeeting, Name: "Alice"}))

	dec := NewDecoder(&buf, DefaultMaxFrameBytes)
	env, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, TypeCreateMeeting, env.Type)

	var msg CreateMeeting
	require.NoError(t, env.Decode(&msg))
	require.Equal(t, "Alice", msg.Name)
}

func TestMarshalProducesSameFramingAsEncode(t *testing.T) {
	framed, err := Marshal(CreateMeeting{Type: TypeCreateMeeting, Name: "Bob"})
	require.NoError(t, err)

	dec := NewDecoder(bytes.NewReader(framed), DefaultMaxFrameBytes)
	env, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, TypeCreateMeeting, env.Type)
}

func TestNextRejectsOversizedFrame(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 1<<20)
	r := bytes.NewReader(lenBuf[:])

	dec := NewDecoder(r, 1024)
	_, err := dec.Next()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestNextReturnsEOFOnEmptyStream(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil), DefaultMaxFrameBytes)
	_, err := dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestNextReturnsEOFOnPartialLengthPrefix(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0x00, 0x00}), DefaultMaxFrameBytes)
	_, err := dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestNextReturnsEOFOnPartialBody(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 10)
	r := bytes.NewReader(append(lenBuf[:], []byte("short")...))

	dec := NewDecoder(r, DefaultMaxFrameBytes)
	_, err := dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecodeUnmarshalsTypeSpecificBody(t *testing.T) {
	framed, err := Marshal(RequestJoin{Type: TypeRequestJoin, Code: "ABCD", Name: "Carol"})
	require.NoError(t, err)

	dec := NewDecoder(bytes.NewReader(framed), DefaultMaxFrameBytes)
	env, err := dec.Next()
	require.NoError(t, err)

	var msg RequestJoin
	require.NoError(t, env.Decode(&msg))
	require.Equal(t, "ABCD", msg.Code)
	require.Equal(t, "Carol", msg.Name)
}
