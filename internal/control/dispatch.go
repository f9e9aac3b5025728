package control

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/confrelay/internal/domain"
	"github.com/dkeye/confrelay/internal/registry"
	"github.com/dkeye/confrelay/internal/wire"
)

func (c *Conn) getState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// dispatch is the state machine of spec.md §4.3: one switch over the
// envelope's type, gated by precondition checks that never mutate state on
// failure.
func (h *Hub) dispatch(ctx context.Context, c *Conn, env wire.Envelope) {
	switch env.Type {
	case wire.TypeCreateMeeting:
		h.handleCreateMeeting(c, env)
	case wire.TypeRequestJoin:
		h.handleRequestJoin(c, env)
	case wire.TypeAllowJoin:
		h.handleAllowJoin(c, env)
	case wire.TypeDenyJoin:
		h.handleDenyJoin(c, env)
	case wire.TypeChat:
		h.handleChat(c, env)
	case wire.TypeFileStart:
		h.handleFileStart(c, env)
	case wire.TypeFileChunk:
		h.handleFileChunk(c, env)
	case wire.TypeFileAck:
		h.handleFileAck(c, env)
	case wire.TypeFileEnd:
		h.handleFileEnd(c, env)
	case wire.TypeVideoStats:
		h.handleVideoStats(c, env)
	case wire.TypeLeave:
		h.handleLeave(c, env)
	case wire.TypeHeartbeat:
		h.handleHeartbeat(c, env)
	case wire.TypeCameraStatus:
		h.handleCameraStatus(c, env)
	case wire.TypeMuteStatus:
		h.handleMuteStatus(c, env)
	default:
		// spec.md §4.1: unknown types are logged and discarded, connection stays open.
		logUnknownType(env.Type)
	}
}

func (h *Hub) handleCreateMeeting(c *Conn, env wire.Envelope) {
	var msg wire.CreateMeeting
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed CREATE_MEETING"))
		return
	}
	if c.getState().Phase != Unbound {
		_ = c.SendMessage(errMsg(wire.ErrKindState, "already bound to a meeting"))
		return
	}

	meeting, host, err := h.reg.CreateMeeting(msg.Name)
	if err != nil {
		_ = c.SendMessage(errMsg(classify(err), err.Error()))
		return
	}

	c.bindParticipant(host.ID)
	c.setState(State{Phase: HostOf, Code: meeting.Code})
	h.bind(host.ID, c)

	_ = c.SendMessage(wire.MeetingCreated{Type: wire.TypeMeetingCreated, Code: string(meeting.Code)})
	h.emit(LifecycleEvent{Type: "MEETING_CREATED", Code: string(meeting.Code), ParticipantID: uint32(host.ID), Name: host.Name})
}

func (h *Hub) handleRequestJoin(c *Conn, env wire.Envelope) {
	var msg wire.RequestJoin
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed REQUEST_JOIN"))
		return
	}
	if c.getState().Phase != Unbound {
		_ = c.SendMessage(errMsg(wire.ErrKindState, "already bound to a meeting"))
		return
	}

	meeting, waiter, err := h.reg.RequestJoin(domain.MeetingCode(msg.Code), msg.Name)
	if err != nil {
		_ = c.SendMessage(errMsg(classify(err), err.Error()))
		return
	}

	c.bindParticipant(waiter.ID)
	c.setState(State{Phase: WaitingIn, Code: meeting.Code})
	h.bind(waiter.ID, c)

	h.sendTo(meeting.HostID, wire.JoinRequest{
		Type:          wire.TypeJoinRequest,
		ParticipantID: uint32(waiter.ID),
		Name:          waiter.Name,
	})
	_ = c.SendMessage(wire.JoinPending{Type: wire.TypeJoinPending})
}

func (h *Hub) handleAllowJoin(c *Conn, env wire.Envelope) {
	var msg wire.AllowJoin
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed ALLOW_JOIN"))
		return
	}
	state := c.getState()
	if state.Phase != HostOf {
		_ = c.SendMessage(errMsg(wire.ErrKindState, "only the host may allow joins"))
		return
	}

	waiter, admittedIDs, err := h.reg.Admit(state.Code, c.ParticipantID(), domain.ParticipantID(msg.ParticipantID))
	if err != nil {
		_ = c.SendMessage(errMsg(classify(err), err.Error()))
		return
	}

	if waiterConn, ok := h.connFor(waiter.ID); ok {
		waiterConn.setState(State{Phase: MemberOf, Code: state.Code})
		_ = waiterConn.SendMessage(wire.JoinAccepted{Type: wire.TypeJoinAccepted, Code: string(state.Code)})
	}

	h.broadcastToConcurrently(admittedIDs, waiter.ID, wire.MemberJoined{
		Type:          wire.TypeMemberJoined,
		ParticipantID: uint32(waiter.ID),
		Name:          waiter.Name,
	})
	h.emit(LifecycleEvent{Type: "MEMBER_JOINED", Code: string(state.Code), ParticipantID: uint32(waiter.ID), Name: waiter.Name})
}

func (h *Hub) handleDenyJoin(c *Conn, env wire.Envelope) {
	var msg wire.DenyJoin
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed DENY_JOIN"))
		return
	}
	state := c.getState()
	if state.Phase != HostOf {
		_ = c.SendMessage(errMsg(wire.ErrKindState, "only the host may deny joins"))
		return
	}

	waiterID := domain.ParticipantID(msg.ParticipantID)
	if err := h.reg.Deny(state.Code, c.ParticipantID(), waiterID); err != nil {
		_ = c.SendMessage(errMsg(classify(err), err.Error()))
		return
	}

	if waiterConn, ok := h.connFor(waiterID); ok {
		waiterConn.setState(State{Phase: Unbound})
		h.unbind(waiterID)
		_ = waiterConn.SendMessage(wire.JoinRejected{Type: wire.TypeJoinRejected})
	}
}

func (h *Hub) handleChat(c *Conn, env wire.Envelope) {
	var msg wire.Chat
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed CHAT"))
		return
	}
	state := c.getState()
	if state.Phase != HostOf && state.Phase != MemberOf {
		_ = c.SendMessage(errMsg(wire.ErrKindState, "not in a meeting"))
		return
	}

	meeting, ok := h.reg.LookupByCode(state.Code)
	if !ok {
		_ = c.SendMessage(errMsg(wire.ErrKindState, "meeting no longer exists"))
		return
	}

	broadcast := wire.ChatBroadcast{
		Type: wire.TypeChatBroadcast,
		From: uint32(c.ParticipantID()),
		Text: msg.Text,
		TS:   time.Now().UnixMilli(),
	}

	if msg.To != nil {
		target := domain.ParticipantID(*msg.To)
		if _, admitted := meeting.Admitted[target]; admitted {
			h.sendTo(target, broadcast)
			return
		}
	}
	h.broadcastToConcurrently(meeting.AdmittedIDs(), c.ParticipantID(), broadcast)
}

func (h *Hub) handleFileStart(c *Conn, env wire.Envelope) {
	var msg wire.FileStart
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed FILE_START"))
		return
	}
	state := c.getState()
	if state.Phase != HostOf && state.Phase != MemberOf {
		_ = c.SendMessage(errMsg(wire.ErrKindState, "not in a meeting"))
		return
	}
	if msg.Size > int64(h.cfg.MaxFrameBytes) {
		_ = c.SendMessage(errMsg(wire.ErrKindResource, "file exceeds maximum transferable size"))
		return
	}

	to := domain.BroadcastTarget
	if msg.To != nil {
		to = domain.ParticipantID(*msg.To)
	}

	session, err := h.transfers.Open(domain.TransferID(msg.TransferID), state.Code, c.ParticipantID(), to, msg.Name, msg.Size)
	if err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindState, err.Error()))
		return
	}

	forward := wire.FileStartForward{
		Type:       wire.TypeFileStartForward,
		TransferID: msg.TransferID,
		From:       uint32(c.ParticipantID()),
		Name:       msg.Name,
		Size:       msg.Size,
	}
	h.deliverToTransferTargets(session.Code, session.FromID, session.ToID, forward)
}

func (h *Hub) handleFileChunk(c *Conn, env wire.Envelope) {
	var msg wire.FileChunk
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed FILE_CHUNK"))
		return
	}
	if _, err := wire.DecodeChunk(msg.Data); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, err.Error()))
		return
	}
	if err := h.transfers.SubmitChunk(domain.TransferID(msg.TransferID), msg.Seq, msg.Data); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindState, err.Error()))
	}
}

func (h *Hub) handleFileAck(c *Conn, env wire.Envelope) {
	var msg wire.FileAck
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed FILE_ACK"))
		return
	}
	if err := h.transfers.SubmitAck(domain.TransferID(msg.TransferID), msg.Seq); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindState, err.Error()))
	}
}

func (h *Hub) handleFileEnd(c *Conn, env wire.Envelope) {
	var msg wire.FileEnd
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed FILE_END"))
		return
	}
	if err := h.transfers.SubmitEnd(domain.TransferID(msg.TransferID)); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindState, err.Error()))
	}
}

func (h *Hub) handleVideoStats(c *Conn, env wire.Envelope) {
	var msg wire.VideoStats
	if err := env.Decode(&msg); err != nil {
		_ = c.SendMessage(errMsg(wire.ErrKindProtocol, "malformed VIDEO_STATS"))
		return
	}
	state := c.getState()
	if state.Phase != HostOf && state.Phase != MemberOf {
		_ = c.SendMessage(errMsg(wire.ErrKindState, "not in a meeting"))
		return
	}
	h.sendTo(domain.ParticipantID(msg.FromMediaSender), wire.VideoStatsUpdate{
		Type:            wire.TypeVideoStatsUpdate,
		FromMediaSender: msg.FromMediaSender,
		Loss:            msg.Loss,
		RTTMs:           msg.RTTMs,
		FPS:             msg.FPS,
		BitrateKbps:     msg.BitrateKbps,
	})
}

func (h *Hub) handleLeave(c *Conn, env wire.Envelope) {
	id := c.ParticipantID()
	if id == 0 {
		return
	}
	h.unbind(id)
	c.setState(State{Phase: Unbound})

	event, err := h.reg.Leave(id)
	if err != nil {
		return
	}
	h.transfers.AbortForParticipant(id)
	h.notifyMembershipEvent(event)
}

func (h *Hub) handleHeartbeat(c *Conn, env wire.Envelope) {
	_ = c.SendMessage(wire.HeartbeatAck{Type: wire.TypeHeartbeatAck})
}

func (h *Hub) handleCameraStatus(c *Conn, env wire.Envelope) {
	var msg wire.CameraStatus
	if err := env.Decode(&msg); err != nil {
		return
	}
	state := c.getState()
	if state.Phase != HostOf && state.Phase != MemberOf {
		return
	}
	h.reg.SetCameraStatus(c.ParticipantID(), msg.On)
	if meeting, ok := h.reg.LookupByCode(state.Code); ok {
		h.broadcastToConcurrently(meeting.AdmittedIDs(), c.ParticipantID(), wire.CameraStatusBroadcast{
			Type:          wire.TypeCameraStatusBroadcast,
			ParticipantID: uint32(c.ParticipantID()),
			On:            msg.On,
		})
	}
}

func (h *Hub) handleMuteStatus(c *Conn, env wire.Envelope) {
	var msg wire.MuteStatus
	if err := env.Decode(&msg); err != nil {
		return
	}
	state := c.getState()
	if state.Phase != HostOf && state.Phase != MemberOf {
		return
	}
	h.reg.SetMuteStatus(c.ParticipantID(), msg.On)
	if meeting, ok := h.reg.LookupByCode(state.Code); ok {
		h.broadcastToConcurrently(meeting.AdmittedIDs(), c.ParticipantID(), wire.MuteStatusBroadcast{
			Type:          wire.TypeMuteStatusBroadcast,
			ParticipantID: uint32(c.ParticipantID()),
			On:            msg.On,
		})
	}
}

// deliverToTransferTargets sends v either to a single recipient or, when to
// is domain.BroadcastTarget, to the meeting's admitted set minus the
// sender (DESIGN.md open-question decision, symmetric with CHAT).
func (h *Hub) deliverToTransferTargets(code domain.MeetingCode, from, to domain.ParticipantID, v any) {
	if to != domain.BroadcastTarget {
		h.sendTo(to, v)
		return
	}
	if meeting, ok := h.reg.LookupByCode(code); ok {
		h.broadcastToConcurrently(meeting.AdmittedIDs(), from, v)
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, domain.ErrNameEmpty), errors.Is(err, domain.ErrNameTooLong):
		return wire.ErrKindProtocol
	case errors.Is(err, registry.ErrMeetingNotFound), errors.Is(err, registry.ErrNotWaiting), errors.Is(err, registry.ErrNotHost):
		return wire.ErrKindState
	case errors.Is(err, registry.ErrMeetingCapacity), errors.Is(err, registry.ErrCodeExhausted):
		return wire.ErrKindResource
	default:
		return wire.ErrKindProtocol
	}
}

func logUnknownType(t string) {
	// spec.md §4.1: unknown message types are logged and discarded.
	log.Warn().Str("module", "control").Str("type", t).Msg("unknown message type")
}
