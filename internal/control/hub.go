// Package control runs the per-connection dispatcher and state machine
// described in spec.md §4.3, tying the wire framing layer, the meeting
// registry, and the file-transfer coordinator together. Grounded on the
// teacher's adapters/signal package (one read-loop task, one bounded
// write-queue task per connection) and on
// original_source/server/control_handler.py for exact per-message
// semantics.
package control

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/confrelay/internal/domain"
	"github.com/dkeye/confrelay/internal/registry"
	"github.com/dkeye/confrelay/internal/transfer"
	"github.com/dkeye/confrelay/internal/wire"
)

// Config is the subset of internal/config.Config the dispatcher consumes
// directly.
type Config struct {
	MaxFrameBytes int
	IdleTimeout   time.Duration
}

// Hub owns every live connection and wires the registry and transfer
// coordinator to the wire protocol. One Hub serves an entire process.
type Hub struct {
	cfg       Config
	reg       *registry.Registry
	transfers *transfer.Coordinator

	mu    sync.RWMutex
	conns map[domain.ParticipantID]*Conn

	evMu        sync.RWMutex
	subscribers map[chan LifecycleEvent]struct{}
}

// NewHub builds a Hub without its transfer coordinator wired in yet: since
// the coordinator's Sink is the Hub itself, the composition root must build
// the Hub first, then the Coordinator with the Hub as its sink, then call
// BindTransfers to close the loop.
func NewHub(cfg Config, reg *registry.Registry) *Hub {
	return &Hub{
		cfg:         cfg,
		reg:         reg,
		conns:       make(map[domain.ParticipantID]*Conn),
		subscribers: make(map[chan LifecycleEvent]struct{}),
	}
}

// BindTransfers attaches the file-transfer coordinator once constructed.
func (h *Hub) BindTransfers(transfers *transfer.Coordinator) {
	h.transfers = transfers
}

// Serve runs one connection to completion: accept, run its read loop
// inline (the caller already runs this in its own goroutine per
// connection, per spec.md §5), and clean up on exit.
func (h *Hub) Serve(ctx context.Context, raw net.Conn) {
	c := newConn(raw, h.cfg.MaxFrameBytes, h.cfg.IdleTimeout)
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(ctx)

	log.Info().Str("module", "control").Str("remote", raw.RemoteAddr().String()).Msg("connection accepted")
	c.readLoop(ctx, h.dispatch)
	h.onDisconnect(c)
}

func (h *Hub) bind(id domain.ParticipantID, c *Conn) {
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
}

func (h *Hub) unbind(id domain.ParticipantID) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

func (h *Hub) connFor(id domain.ParticipantID) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *Hub) sendTo(id domain.ParticipantID, v any) {
	if c, ok := h.connFor(id); ok {
		_ = c.SendMessage(v)
	}
}

// broadcastTo sends v to every id in targets except skip (domain.BroadcastTarget
// as skip means "skip nobody").
func (h *Hub) broadcastTo(targets []domain.ParticipantID, skip domain.ParticipantID, v any) {
	for _, id := range targets {
		if id == skip {
			continue
		}
		h.sendTo(id, v)
	}
}

// broadcastToConcurrently fans a broadcast out over a bounded worker pool,
// following the teacher's pattern of never holding a registry lock while
// performing blocking I/O (the send itself is non-blocking via TrySend, but
// a large membership still benefits from concurrent dispatch).
func (h *Hub) broadcastToConcurrently(targets []domain.ParticipantID, skip domain.ParticipantID, v any) {
	p := pool.New().WithMaxGoroutines(8)
	for _, id := range targets {
		if id == skip {
			continue
		}
		id := id
		p.Go(func() { h.sendTo(id, v) })
	}
	p.Wait()
}

func (h *Hub) onDisconnect(c *Conn) {
	id := c.ParticipantID()
	if id == 0 {
		return
	}
	h.unbind(id)
	h.transfers.AbortForParticipant(id)

	event, err := h.reg.Leave(id)
	if err != nil {
		return
	}
	h.notifyMembershipEvent(event)
}

func (h *Hub) notifyMembershipEvent(event *registry.MembershipEvent) {
	switch event.Kind {
	case "meeting_closed":
		h.broadcastToConcurrently(event.Targets, 0, wire.MeetingClosed{Type: wire.TypeMeetingClosed})
		h.emit(LifecycleEvent{Type: "MEETING_CLOSED", Code: string(event.Code)})
	case "member_left":
		h.broadcastToConcurrently(event.Targets, 0, wire.MemberLeft{
			Type:          wire.TypeMemberLeft,
			ParticipantID: uint32(event.Subject.ID),
		})
		h.emit(LifecycleEvent{Type: "MEMBER_LEFT", Code: string(event.Code), ParticipantID: uint32(event.Subject.ID), Name: event.Subject.Name})
	}
}

func errMsg(kind, reason string) wire.ErrorMsg {
	return wire.ErrorMsg{Type: wire.TypeError, Kind: kind, Reason: reason}
}
