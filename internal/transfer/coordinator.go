// Package transfer implements the file-transfer coordinator and its Reno-
// style congestion control (spec.md §4.5), grounded on
// original_source/server/congestion_control.py's FileTransferSession state
// machine. Sessions live in one coordinator-wide map keyed by spec.md's
// transferId; each session records the meeting code it belongs to.
package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/confrelay/internal/domain"
	"github.com/dkeye/confrelay/internal/wire"
)

// maxCwnd caps slow-start growth; original_source/common/protocol.py names
// this MAX_CWND=64 and spec.md §4.5 does not override it, so it is carried
// as a fixed ceiling rather than a configuration key.
const maxCwnd = 64

var (
	ErrUnknownSession = errors.New("transfer: unknown transfer id")
	ErrOutOfOrder     = errors.New("transfer: chunk sequence out of order")
	ErrQueueOverflow  = errors.New("transfer: session queue exceeds configured bound")
	ErrSessionExists  = errors.New("transfer: transfer id already open")
	ErrChunkTooLarge  = errors.New("transfer: chunk exceeds configured base_chunk_bytes")
)

// Config carries the recognized congestion-control options named in
// spec.md §4.5.
type Config struct {
	InitialSsthresh   int
	BaseChunkBytes    int64
	AckTimeout        time.Duration
	MaxRetries        int
	SessionQueueBytes int64
}

// Sink is how the coordinator talks back to the control layer without
// knowing about connections, wire framing, or the registry.
type Sink interface {
	ForwardChunk(s *Session, seq uint32, dataB64 string)
	ForwardAck(s *Session, seq uint32)
	ForwardEnd(s *Session)
	Abort(s *Session, reason string)
}

type queuedChunk struct {
	seq     uint32
	dataB64 string
}

type chunkRecord struct {
	dataB64 string
	sentAt  time.Time
	retries int
}

// Session is one open file transfer, owning its own congestion state.
// Exported fields mirror domain.TransferSession; the congestion fields live
// here since, per domain/transfer.go, they are behavior rather than data.
type Session struct {
	mu sync.Mutex

	ID       domain.TransferID
	Code     domain.MeetingCode
	FromID   domain.ParticipantID
	ToID     domain.ParticipantID // domain.BroadcastTarget if no single recipient
	FileName string
	Size     int64

	cwnd      int
	ssthresh  int
	inFlight  map[uint32]*chunkRecord
	acked     map[uint32]bool
	queue     []queuedChunk
	queuedSz  int64
	nextSeq   uint32
	endQueued bool
	closed    bool
}

// Coordinator tracks every open transfer session and sweeps for timeouts.
// Grounded on the teacher's relay/orchestrator idiom of one struct owning a
// guarded map plus a supervised background loop (internal/app/orch).
type Coordinator struct {
	cfg  Config
	sink Sink

	mu       sync.Mutex
	sessions map[domain.TransferID]*Session
}

func NewCoordinator(cfg Config, sink Sink) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		sink:     sink,
		sessions: make(map[domain.TransferID]*Session),
	}
}

// Open creates a new session in slow start (spec.md §4.5).
func (c *Coordinator) Open(id domain.TransferID, code domain.MeetingCode, from, to domain.ParticipantID, name string, size int64) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sessions[id]; exists {
		return nil, ErrSessionExists
	}
	s := &Session{
		ID:       id,
		Code:     code,
		FromID:   from,
		ToID:     to,
		FileName: name,
		Size:     size,
		cwnd:     1,
		ssthresh: c.cfg.InitialSsthresh,
		inFlight: make(map[uint32]*chunkRecord),
		acked:    make(map[uint32]bool),
	}
	c.sessions[id] = s
	log.Info().Str("module", "transfer").Str("transferId", string(id)).Int64("size", size).Msg("session opened")
	return s, nil
}

// ActiveCount reports the number of open transfer sessions for the operator
// surface (SPEC_FULL.md §D).
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Coordinator) session(id domain.TransferID) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

func (c *Coordinator) remove(id domain.TransferID) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// SubmitChunk admits or queues a sender's chunk depending on available
// credit (spec.md §4.5 admission policy). seq must be the session's next
// expected sequence, starting at 0.
func (c *Coordinator) SubmitChunk(id domain.TransferID, seq uint32, dataB64 string) error {
	s, ok := c.session(id)
	if !ok {
		return ErrUnknownSession
	}

	raw, err := wire.DecodeChunk(dataB64)
	if err != nil {
		c.abort(s, "protocol")
		return err
	}
	if int64(len(raw)) > c.cfg.BaseChunkBytes {
		c.abort(s, "chunk_too_large")
		return ErrChunkTooLarge
	}

	if seq == 0 {
		logFirstChunkMime(id, raw)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	if seq != s.nextSeq {
		s.mu.Unlock()
		c.abort(s, "protocol")
		return ErrOutOfOrder
	}
	s.nextSeq++

	if len(s.inFlight) < s.cwnd {
		s.inFlight[seq] = &chunkRecord{dataB64: dataB64, sentAt: time.Now()}
		s.mu.Unlock()
		c.sink.ForwardChunk(s, seq, dataB64)
		return nil
	}

	s.queuedSz += int64(len(dataB64))
	if s.queuedSz > c.cfg.SessionQueueBytes {
		s.mu.Unlock()
		c.abort(s, "queue_overflow")
		return ErrQueueOverflow
	}
	s.queue = append(s.queue, queuedChunk{seq: seq, dataB64: dataB64})
	s.mu.Unlock()
	return nil
}

// logFirstChunkMime sniffs the first chunk's content type for operator-facing
// logs only (SPEC_FULL.md §B); it never influences admission or forwarding.
func logFirstChunkMime(id domain.TransferID, raw []byte) {
	if len(raw) == 0 {
		return
	}
	log.Info().Str("module", "transfer").Str("transferId", string(id)).Str("mime", mimetype.Detect(raw).String()).Msg("first chunk sniffed")
}

// SubmitAck applies one Reno update and flushes queued chunks up to the new
// credit (spec.md §4.5 "on acknowledgement").
func (c *Coordinator) SubmitAck(id domain.TransferID, seq uint32) error {
	s, ok := c.session(id)
	if !ok {
		return ErrUnknownSession
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	if _, inFlight := s.inFlight[seq]; inFlight {
		delete(s.inFlight, seq)
		if s.cwnd < s.ssthresh {
			s.cwnd = min(s.cwnd*2, maxCwnd)
		} else {
			s.cwnd = min(s.cwnd+1, maxCwnd)
		}
	}
	s.acked[seq] = true

	toFlush := c.drainQueueLocked(s)
	endReady := s.endQueued && len(s.inFlight) == 0 && len(s.queue) == 0
	s.mu.Unlock()

	c.sink.ForwardAck(s, seq)
	for _, qc := range toFlush {
		c.sink.ForwardChunk(s, qc.seq, qc.dataB64)
	}
	if endReady {
		c.finish(s)
	}
	return nil
}

// drainQueueLocked pops queued chunks into flight up to the current cwnd.
// Caller holds s.mu; the returned chunks must be forwarded by the caller
// after unlocking, so no sink call happens while holding the session lock.
func (c *Coordinator) drainQueueLocked(s *Session) []queuedChunk {
	var flushed []queuedChunk
	for len(s.queue) > 0 && len(s.inFlight) < s.cwnd {
		qc := s.queue[0]
		s.queue = s.queue[1:]
		s.queuedSz -= int64(len(qc.dataB64))
		s.inFlight[qc.seq] = &chunkRecord{dataB64: qc.dataB64, sentAt: time.Now()}
		flushed = append(flushed, qc)
	}
	return flushed
}

// SubmitEnd records the sender's end-of-transfer request, forwarding it
// immediately if nothing is outstanding or deferring until the last
// acknowledgement drains the pipe (spec.md §4.5 "Completion").
func (c *Coordinator) SubmitEnd(id domain.TransferID) error {
	s, ok := c.session(id)
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	s.endQueued = true
	ready := len(s.inFlight) == 0 && len(s.queue) == 0
	s.mu.Unlock()

	if ready {
		c.finish(s)
	}
	return nil
}

func (c *Coordinator) finish(s *Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	c.remove(s.ID)
	c.sink.ForwardEnd(s)
	log.Info().Str("module", "transfer").Str("transferId", string(s.ID)).Msg("session complete")
}

func (c *Coordinator) abort(s *Session, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	c.remove(s.ID)
	c.sink.Abort(s, reason)
	log.Warn().Str("module", "transfer").Str("transferId", string(s.ID)).Str("reason", reason).Msg("session aborted")
}

// AbortForParticipant is called when a participant referenced by a session
// departs its meeting (spec.md §3 ownership: "if the participant departs,
// sessions referencing it are aborted").
func (c *Coordinator) AbortForParticipant(id domain.ParticipantID) {
	c.mu.Lock()
	var victims []*Session
	for _, s := range c.sessions {
		if s.FromID == id || s.ToID == id {
			victims = append(victims, s)
		}
	}
	c.mu.Unlock()
	for _, s := range victims {
		c.abort(s, "participant_left")
	}
}

// sweepTimeouts applies the timeout branch of spec.md §4.5 to every open
// session: shrink the window, retransmit the oldest unacked chunk, and
// abort if its retry budget is exhausted.
func (c *Coordinator) sweepTimeouts() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	now := time.Now()
	for _, s := range sessions {
		c.sweepSession(s, now)
	}
}

func (c *Coordinator) sweepSession(s *Session, now time.Time) {
	s.mu.Lock()
	if s.closed || len(s.inFlight) == 0 {
		s.mu.Unlock()
		return
	}

	var oldestSeq uint32
	var oldest *chunkRecord
	for seq, rec := range s.inFlight {
		if oldest == nil || rec.sentAt.Before(oldest.sentAt) {
			oldestSeq, oldest = seq, rec
		}
	}
	if now.Sub(oldest.sentAt) < c.cfg.AckTimeout {
		s.mu.Unlock()
		return
	}

	s.ssthresh = max(1, s.cwnd/2)
	s.cwnd = 1
	oldest.retries++
	oldest.sentAt = now
	retries := oldest.retries
	data := oldest.dataB64
	s.mu.Unlock()

	if retries > c.cfg.MaxRetries {
		c.abort(s, "timeout")
		return
	}
	log.Warn().Str("module", "transfer").Str("transferId", string(s.ID)).Uint32("seq", oldestSeq).Int("retry", retries).Msg("chunk timeout, retransmitting")
	c.sink.ForwardChunk(s, oldestSeq, data)
}

// RunTimeoutSweeper blocks, sweeping for timed-out chunks every interval
// until ctx is canceled. The server composition root runs this under an
// errgroup alongside the control and relay loops.
func RunTimeoutSweeper(ctx context.Context, c *Coordinator, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sweepTimeouts()
		}
	}
}

