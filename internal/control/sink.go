package control

import (
	"github.com/dkeye/confrelay/internal/domain"
	"github.com/dkeye/confrelay/internal/transfer"
	"github.com/dkeye/confrelay/internal/wire"
)

// Hub implements transfer.Sink: it is the only thing the congestion-control
// coordinator knows about the outside world.

func (h *Hub) ForwardChunk(s *transfer.Session, seq uint32, dataB64 string) {
	h.deliverToTransferTargets(s.Code, s.FromID, s.ToID, wire.FileChunkForward{
		Type:       wire.TypeFileChunkForward,
		TransferID: string(s.ID),
		Seq:        seq,
		Data:       dataB64,
	})
}

func (h *Hub) ForwardAck(s *transfer.Session, seq uint32) {
	h.sendTo(s.FromID, wire.FileAckForward{
		Type:       wire.TypeFileAckForward,
		TransferID: string(s.ID),
		Seq:        seq,
	})
}

func (h *Hub) ForwardEnd(s *transfer.Session) {
	h.deliverToTransferTargets(s.Code, s.FromID, s.ToID, wire.FileEndForward{
		Type:       wire.TypeFileEndForward,
		TransferID: string(s.ID),
	})
}

func (h *Hub) Abort(s *transfer.Session, reason string) {
	abort := wire.FileAbort{Type: wire.TypeFileAbort, TransferID: string(s.ID), Reason: reason}
	h.sendTo(s.FromID, abort)
	if s.ToID != domain.BroadcastTarget {
		h.sendTo(s.ToID, abort)
		return
	}
	if meeting, ok := h.reg.LookupByCode(s.Code); ok {
		h.broadcastToConcurrently(meeting.AdmittedIDs(), s.FromID, abort)
	}
}
