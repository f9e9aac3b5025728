// Package relay implements the UDP media relay of spec.md §4.4: a single
// inline read loop that validates each datagram's header, refreshes the
// sender's known return address, and fans the datagram out unchanged to
// every other admitted participant in the same meeting. Grounded on
// original_source/server/stream_relay_udp.py for the relay shape, adapted
// from address-only lookup to the header-carried participant id this spec
// adds, and on the teacher's sfu/relay.go for the per-target fan-out idiom.
package relay

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/confrelay/internal/domain"
	"github.com/dkeye/confrelay/internal/registry"
	"github.com/dkeye/confrelay/internal/wire"
)

const maxDatagramSize = 65535

// Relay owns the UDP socket and the meeting registry it consults for
// fan-out targets and address-book updates.
type Relay struct {
	conn *net.UDPConn
	reg  *registry.Registry

	malformed atomic.Uint64
	dropped   atomic.Uint64
}

func New(conn *net.UDPConn, reg *registry.Registry) *Relay {
	return &Relay{conn: conn, reg: reg}
}

// Run blocks, reading datagrams and relaying each one inline on the read
// loop, until ctx is canceled or the socket errors.
func (r *Relay) Run(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Error().Err(err).Str("module", "relay").Msg("udp read error")
			return err
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		src := *addr
		r.handle(datagram, src)
	}
}

func (r *Relay) handle(data []byte, src net.UDPAddr) {
	kind, err := wire.DatagramKind(data)
	if err != nil {
		r.malformed.Add(1)
		return
	}

	var senderID domain.ParticipantID
	switch kind {
	case wire.KindVideo:
		h, err := wire.ParseVideoHeader(data)
		if err != nil {
			r.malformed.Add(1)
			return
		}
		senderID = domain.ParticipantID(h.ParticipantID)
	case wire.KindAudio:
		h, err := wire.ParseAudioHeader(data)
		if err != nil {
			r.malformed.Add(1)
			return
		}
		senderID = domain.ParticipantID(h.ParticipantID)
	default:
		r.malformed.Add(1)
		return
	}

	meeting, ok := r.reg.LookupByParticipantID(senderID)
	if !ok {
		r.dropped.Add(1)
		return
	}

	r.reg.SetUDPAddr(senderID, domain.UDPAddr{IP: src.IP.String(), Port: src.Port})

	for _, id := range meeting.AdmittedIDs() {
		if id == senderID {
			continue
		}
		target, ok := meeting.Admitted[id]
		if !ok || target.UDPAddr == nil {
			continue
		}
		dst := &net.UDPAddr{IP: net.ParseIP(target.UDPAddr.IP), Port: target.UDPAddr.Port}
		if _, err := r.conn.WriteToUDP(data, dst); err != nil {
			log.Debug().Err(err).Str("module", "relay").Uint32("to", uint32(id)).Msg("udp write failed")
		}
	}
}

// Stats reports the malformed/dropped counters for the admin surface.
func (r *Relay) Stats() (malformed, dropped uint64) {
	return r.malformed.Load(), r.dropped.Load()
}
