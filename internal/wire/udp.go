package wire

import (
	"encoding/binary"
	"errors"
)

// Media datagram kinds (spec.md §4.4).
//
// spec.md §4.4 names the video header "24 bytes total before payload" and
// the audio header "19 bytes total before payload", but then enumerates
// fields (kind + participant id + ... + payload length) that sum to 29 and
// 24 bytes respectively. Those two round numbers are exactly the original
// protocol's header sizes (original_source/common/protocol.py's
// VIDEO_HEADER_SIZE=24 / AUDIO_HEADER_SIZE=19) before this spec added the
// kind byte and participant id needed to relay multiple meetings over one
// socket. The explicit field enumeration is authoritative here: each
// header's size is unchanged from the original past its new kind+
// participant-id prefix.
const (
	KindVideo byte = 0x01
	KindAudio byte = 0x02

	// VideoHeaderSize is the byte offset of the payload, i.e. the full
	// fixed-layout preamble including the payload-length field.
	VideoHeaderSize = 29
	AudioHeaderSize = 24
)

var (
	ErrDatagramTooShort = errors.New("wire: datagram shorter than its header")
	ErrPayloadMismatch  = errors.New("wire: declared payload length does not match datagram size")
	ErrUnknownKind      = errors.New("wire: unrecognized media datagram kind")
)

// VideoHeader is the fixed header preceding a video frame's payload.
type VideoHeader struct {
	ParticipantID uint32
	FrameID       uint32
	TimestampUs   uint64
	Seq           uint32
	Width         uint16
	Height        uint16
	PayloadLen    uint32
}

// AudioHeader is the fixed header preceding an audio frame's payload.
type AudioHeader struct {
	ParticipantID uint32
	AudioID       uint32
	TimestampUs   uint64
	SampleRate    uint16
	Channels      uint8
	PayloadLen    uint32
}

// ParseVideoHeader validates and decodes a video datagram's header,
// following a big-endian fixed-layout decode with no reliance on host byte
// order (spec.md §9).
func ParseVideoHeader(data []byte) (VideoHeader, error) {
	if len(data) < VideoHeaderSize {
		return VideoHeader{}, ErrDatagramTooShort
	}
	if data[0] != KindVideo {
		return VideoHeader{}, ErrUnknownKind
	}
	h := VideoHeader{
		ParticipantID: binary.BigEndian.Uint32(data[1:5]),
		FrameID:       binary.BigEndian.Uint32(data[5:9]),
		TimestampUs:   binary.BigEndian.Uint64(data[9:17]),
		Seq:           binary.BigEndian.Uint32(data[17:21]),
		Width:         binary.BigEndian.Uint16(data[21:23]),
		Height:        binary.BigEndian.Uint16(data[23:25]),
		PayloadLen:    binary.BigEndian.Uint32(data[25:29]),
	}
	if int(h.PayloadLen) != len(data)-VideoHeaderSize {
		return h, ErrPayloadMismatch
	}
	return h, nil
}

// ParseAudioHeader mirrors ParseVideoHeader for the shorter audio layout.
func ParseAudioHeader(data []byte) (AudioHeader, error) {
	if len(data) < AudioHeaderSize {
		return AudioHeader{}, ErrDatagramTooShort
	}
	if data[0] != KindAudio {
		return AudioHeader{}, ErrUnknownKind
	}
	h := AudioHeader{
		ParticipantID: binary.BigEndian.Uint32(data[1:5]),
		AudioID:       binary.BigEndian.Uint32(data[5:9]),
		TimestampUs:   binary.BigEndian.Uint64(data[9:17]),
		SampleRate:    binary.BigEndian.Uint16(data[17:19]),
		Channels:      data[19],
		PayloadLen:    binary.BigEndian.Uint32(data[20:24]),
	}
	if int(h.PayloadLen) != len(data)-AudioHeaderSize {
		return h, ErrPayloadMismatch
	}
	return h, nil
}

// DatagramKind inspects the first byte to dispatch parsing without trying
// both shapes blindly (spec.md §4.4 calls for validating the kind byte
// first).
func DatagramKind(data []byte) (byte, error) {
	if len(data) == 0 {
		return 0, ErrDatagramTooShort
	}
	switch data[0] {
	case KindVideo, KindAudio:
		return data[0], nil
	default:
		return 0, ErrUnknownKind
	}
}
