package control

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/confrelay/internal/domain"
	"github.com/dkeye/confrelay/internal/wire"
)

// ErrBackpressure mirrors the teacher's signal adapter: a full outbound
// queue is not an error the caller should block on; the message is dropped,
// and SendMessage logs it and closes the connection (spec.md §5: "no
// blocking socket writes while holding a lock").
var ErrBackpressure = errors.New("control: connection backpressure")

const sendQueueDepth = 64

// Conn is one control-channel connection: a read-loop task decoding
// frames and a write-loop task draining a bounded outbound queue, the same
// split the teacher uses for its websocket connections (adapters/signal/io.go)
// generalized from gorilla/websocket to a raw net.Conn plus the wire framer.
type Conn struct {
	raw         net.Conn
	dec         *wire.Decoder
	send        chan []byte
	idleTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	id    atomic.Uint32 // domain.ParticipantID once bound, 0 until then
	state State
}

func newConn(raw net.Conn, maxFrameBytes int, idleTimeout time.Duration) *Conn {
	return &Conn{
		raw:         raw,
		dec:         wire.NewDecoder(raw, maxFrameBytes),
		send:        make(chan []byte, sendQueueDepth),
		idleTimeout: idleTimeout,
		state:       State{Phase: Unbound},
	}
}

// TrySend enqueues a pre-framed message without blocking; a full queue
// drops the message rather than stalling the connection's other traffic.
func (c *Conn) TrySend(framed []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return net.ErrClosed
	}
	select {
	case c.send <- framed:
		return nil
	default:
		return ErrBackpressure
	}
}

// SendMessage marshals v with the wire framer and enqueues it. A connection
// whose outbound queue is already full is kicked: spec.md §5 "queue overflow
// closes the offending connection", the same role the teacher's
// BackpressureAction/KickMember path plays (internal/app/policy.go driven
// through internal/app/orchestrator.go's KickBySID).
func (c *Conn) SendMessage(v any) error {
	framed, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.TrySend(framed); err != nil {
		if errors.Is(err, ErrBackpressure) {
			log.Warn().Str("module", "control").Msg("send queue overflow, kicking connection")
			c.Close()
		}
		return err
	}
	return nil
}

func (c *Conn) ParticipantID() domain.ParticipantID {
	return domain.ParticipantID(c.id.Load())
}

func (c *Conn) bindParticipant(id domain.ParticipantID) {
	c.id.Store(uint32(id))
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.raw.Close()
}

func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case framed, ok := <-c.send:
			if !ok {
				return
			}
			if _, err := c.raw.Write(framed); err != nil {
				log.Error().Err(err).Str("module", "control").Msg("write pump error")
				return
			}
		}
	}
}

// readLoop drives one connection until it closes, dispatching every decoded
// frame through handle. Grounded on the teacher's readPump, generalized
// from a single ws.ReadMessage call to wire.Decoder.Next.
func (c *Conn) readLoop(ctx context.Context, handle func(ctx context.Context, c *Conn, env wire.Envelope)) {
	for {
		if c.idleTimeout > 0 {
			if err := c.raw.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
				return
			}
		}
		env, err := c.dec.Next()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				log.Info().Str("module", "control").Msg("idle timeout, closing connection")
				return
			}
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "control").Msg("read loop closing")
			}
			return
		}
		handle(ctx, c, env)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
