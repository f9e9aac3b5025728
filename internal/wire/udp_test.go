package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildVideoDatagram(payload []byte) []byte {
	data := make([]byte, VideoHeaderSize+len(payload))
	data[0] = KindVideo
	binary.BigEndian.PutUint32(data[1:5], 7)             // ParticipantID
	binary.BigEndian.PutUint32(data[5:9], 42)            // FrameID
	binary.BigEndian.PutUint64(data[9:17], 123456789)    // TimestampUs
	binary.BigEndian.PutUint32(data[17:21], 3)           // Seq
	binary.BigEndian.PutUint16(data[21:23], 1280)        // Width
	binary.BigEndian.PutUint16(data[23:25], 720)         // Height
	binary.BigEndian.PutUint32(data[25:29], uint32(len(payload)))
	copy(data[VideoHeaderSize:], payload)
	return data
}

func buildAudioDatagram(payload []byte) []byte {
	data := make([]byte, AudioHeaderSize+len(payload))
	data[0] = KindAudio
	binary.BigEndian.PutUint32(data[1:5], 7)          // ParticipantID
	binary.BigEndian.PutUint32(data[5:9], 9)          // AudioID
	binary.BigEndian.PutUint64(data[9:17], 987654321) // TimestampUs
	binary.BigEndian.PutUint16(data[17:19], 48000)    // SampleRate
	data[19] = 2                                      // Channels
	binary.BigEndian.PutUint32(data[20:24], uint32(len(payload)))
	copy(data[AudioHeaderSize:], payload)
	return data
}

func TestParseVideoHeaderDecodesFields(t *testing.T) {
	payload := []byte("video-payload")
	h, err := ParseVideoHeader(buildVideoDatagram(payload))
	require.NoError(t, err)
	require.Equal(t, uint32(7), h.ParticipantID)
	require.Equal(t, uint32(42), h.FrameID)
	require.Equal(t, uint64(123456789), h.TimestampUs)
	require.Equal(t, uint32(3), h.Seq)
	require.Equal(t, uint16(1280), h.Width)
	require.Equal(t, uint16(720), h.Height)
	require.Equal(t, uint32(len(payload)), h.PayloadLen)
}

func TestParseVideoHeaderRejectsShortDatagram(t *testing.T) {
	_, err := ParseVideoHeader(make([]byte, VideoHeaderSize-1))
	require.ErrorIs(t, err, ErrDatagramTooShort)
}

func TestParseVideoHeaderRejectsWrongKind(t *testing.T) {
	data := buildVideoDatagram([]byte("x"))
	data[0] = KindAudio
	_, err := ParseVideoHeader(data)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseVideoHeaderRejectsPayloadMismatch(t *testing.T) {
	data := buildVideoDatagram([]byte("x"))
	binary.BigEndian.PutUint32(data[25:29], 99)
	_, err := ParseVideoHeader(data)
	require.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestParseAudioHeaderDecodesFields(t *testing.T) {
	payload := []byte("audio-payload")
	h, err := ParseAudioHeader(buildAudioDatagram(payload))
	require.NoError(t, err)
	require.Equal(t, uint32(7), h.ParticipantID)
	require.Equal(t, uint32(9), h.AudioID)
	require.Equal(t, uint64(987654321), h.TimestampUs)
	require.Equal(t, uint16(48000), h.SampleRate)
	require.Equal(t, uint8(2), h.Channels)
	require.Equal(t, uint32(len(payload)), h.PayloadLen)
}

func TestParseAudioHeaderRejectsShortDatagram(t *testing.T) {
	_, err := ParseAudioHeader(make([]byte, AudioHeaderSize-1))
	require.ErrorIs(t, err, ErrDatagramTooShort)
}

func TestParseAudioHeaderRejectsWrongKind(t *testing.T) {
	data := buildAudioDatagram([]byte("x"))
	data[0] = KindVideo
	_, err := ParseAudioHeader(data)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseAudioHeaderRejectsPayloadMismatch(t *testing.T) {
	data := buildAudioDatagram([]byte("x"))
	binary.BigEndian.PutUint32(data[20:24], 99)
	_, err := ParseAudioHeader(data)
	require.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestDatagramKindDispatches(t *testing.T) {
	k, err := DatagramKind(buildVideoDatagram(nil))
	require.NoError(t, err)
	require.Equal(t, KindVideo, k)

	k, err = DatagramKind(buildAudioDatagram(nil))
	require.NoError(t, err)
	require.Equal(t, KindAudio, k)
}

func TestDatagramKindRejectsEmptyAndUnknown(t *testing.T) {
	_, err := DatagramKind(nil)
	require.ErrorIs(t, err, ErrDatagramTooShort)

	_, err = DatagramKind([]byte{0xff})
	require.ErrorIs(t, err, ErrUnknownKind)
}
