// Package registry owns meeting membership (spec.md §4.2). It exposes the
// operations the control dispatcher drives, keeping every mutation atomic
// with respect to concurrent connections (spec.md §5).
package registry

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/confrelay/internal/domain"
)

var (
	ErrMeetingNotFound    = errors.New("registry: meeting not found")
	ErrParticipantUnknown = errors.New("registry: participant not known")
	ErrNotHost            = errors.New("registry: only the host may admit or deny")
	ErrNotWaiting         = errors.New("registry: participant is not waiting")
	ErrCodeExhausted      = errors.New("registry: could not allocate a free meeting code")
	ErrMeetingCapacity    = errors.New("registry: meeting capacity reached")
)

const codeRetryLimit = 64

// MembershipEvent is returned by Leave after a departure changes who is in
// a meeting, so the control layer can notify connections without the
// registry knowing anything about transport.
type MembershipEvent struct {
	Code    domain.MeetingCode
	Kind    string // "member_left", "meeting_closed"
	Subject *domain.Participant
	Targets []domain.ParticipantID // who to notify
}

// Registry holds every live meeting and the reverse index from participant
// to meeting, guarded by one RWMutex (grounded on the teacher's
// internal/app.Registry and internal/core.RoomManager shape).
type Registry struct {
	mu          sync.RWMutex
	meetings    map[domain.MeetingCode]*domain.Meeting
	byID        map[domain.ParticipantID]domain.MeetingCode
	nextID      atomic.Uint32
	maxMeetings int
}

// New builds a Registry with no cap on concurrent meetings. Use NewWithLimit
// to enforce spec.md's configurable maxMeetings bound.
func New() *Registry {
	return NewWithLimit(0)
}

// NewWithLimit caps the number of simultaneously live meetings; 0 means
// unbounded.
func NewWithLimit(maxMeetings int) *Registry {
	return &Registry{
		meetings:    make(map[domain.MeetingCode]*domain.Meeting),
		byID:        make(map[domain.ParticipantID]domain.MeetingCode),
		maxMeetings: maxMeetings,
	}
}

// Count returns the number of currently live meetings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.meetings)
}

func (r *Registry) allocID() domain.ParticipantID {
	return domain.ParticipantID(r.nextID.Add(1))
}

func (r *Registry) generateCode() (domain.MeetingCode, error) {
	for i := 0; i < codeRetryLimit; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
		if err != nil {
			return "", err
		}
		code := domain.MeetingCode(padCode(n.Int64()))
		r.mu.RLock()
		_, exists := r.meetings[code]
		r.mu.RUnlock()
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

func padCode(n int64) string {
	const digits = "0123456789"
	b := [6]byte{}
	for i := 5; i >= 0; i-- {
		b[i] = digits[n%10]
		n /= 10
	}
	return string(b[:])
}

// CreateMeeting mints a fresh code and seats name as host, admitted
// immediately (spec.md §4.2, §4.3 CREATE_MEETING transition).
func (r *Registry) CreateMeeting(name string) (*domain.Meeting, *domain.Participant, error) {
	host, err := domain.NewParticipant(r.allocID(), name)
	if err != nil {
		return nil, nil, err
	}
	code, err := r.generateCode()
	if err != nil {
		return nil, nil, err
	}

	meeting := domain.NewMeeting(code, host)

	r.mu.Lock()
	if r.maxMeetings > 0 && len(r.meetings) >= r.maxMeetings {
		r.mu.Unlock()
		return nil, nil, ErrMeetingCapacity
	}
	r.meetings[code] = meeting
	r.byID[host.ID] = code
	r.mu.Unlock()

	log.Info().Str("module", "registry").Str("code", string(code)).Str("host", name).Msg("meeting created")
	return meeting, host, nil
}

// RequestJoin adds a new participant to a meeting's waiting set
// (spec.md §4.3 REQUEST_JOIN transition).
func (r *Registry) RequestJoin(code domain.MeetingCode, name string) (*domain.Meeting, *domain.Participant, error) {
	p, err := domain.NewParticipant(r.allocID(), name)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	meeting, ok := r.meetings[code]
	if !ok {
		return nil, nil, ErrMeetingNotFound
	}
	meeting.Waiting[p.ID] = p
	r.byID[p.ID] = code

	log.Info().Str("module", "registry").Str("code", string(code)).Str("name", name).Msg("join requested")
	return meeting, p, nil
}

// Admit moves a waiter into the admitted set. Only the meeting's host may
// call this for a waiter of that meeting (spec.md §4.2 admission policy).
func (r *Registry) Admit(code domain.MeetingCode, hostID, waiterID domain.ParticipantID) (*domain.Participant, []domain.ParticipantID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	meeting, ok := r.meetings[code]
	if !ok {
		return nil, nil, ErrMeetingNotFound
	}
	if meeting.HostID != hostID {
		return nil, nil, ErrNotHost
	}
	waiter, waiting := meeting.Waiting[waiterID]
	if !waiting {
		return nil, nil, ErrNotWaiting
	}

	delete(meeting.Waiting, waiterID)
	meeting.Admitted[waiterID] = waiter

	log.Info().Str("module", "registry").Str("code", string(code)).Uint32("participantId", uint32(waiterID)).Msg("admitted")
	return waiter, meeting.AdmittedIDs(), nil
}

// Deny removes a waiter without admitting it (spec.md §4.3 DENY_JOIN).
func (r *Registry) Deny(code domain.MeetingCode, hostID, waiterID domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meeting, ok := r.meetings[code]
	if !ok {
		return ErrMeetingNotFound
	}
	if meeting.HostID != hostID {
		return ErrNotHost
	}
	if _, waiting := meeting.Waiting[waiterID]; !waiting {
		return ErrNotWaiting
	}
	delete(meeting.Waiting, waiterID)
	delete(r.byID, waiterID)

	log.Info().Str("module", "registry").Str("code", string(code)).Uint32("participantId", uint32(waiterID)).Msg("join denied")
	return nil
}

// Leave removes a participant from whichever set holds it. A host leaving
// dissolves the meeting entirely (spec.md §4.2 departure semantics). The
// returned MembershipEvent tells the caller who to notify and how.
func (r *Registry) Leave(id domain.ParticipantID) (*MembershipEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.byID[id]
	if !ok {
		return nil, ErrParticipantUnknown
	}
	meeting, ok := r.meetings[code]
	if !ok {
		delete(r.byID, id)
		return nil, ErrMeetingNotFound
	}

	subject, wasAdmitted := meeting.Admitted[id]
	if !wasAdmitted {
		subject, ok = meeting.Waiting[id]
		if !ok {
			delete(r.byID, id)
			return nil, ErrParticipantUnknown
		}
	}

	if meeting.HostID == id {
		targets := make([]domain.ParticipantID, 0, len(meeting.Admitted)+len(meeting.Waiting))
		for pid := range meeting.Admitted {
			if pid != id {
				targets = append(targets, pid)
				delete(r.byID, pid)
			}
		}
		for pid := range meeting.Waiting {
			targets = append(targets, pid)
			delete(r.byID, pid)
		}
		delete(r.byID, id)
		delete(r.meetings, code)

		log.Info().Str("module", "registry").Str("code", string(code)).Msg("host left, meeting closed")
		return &MembershipEvent{Code: code, Kind: "meeting_closed", Subject: subject, Targets: targets}, nil
	}

	delete(meeting.Admitted, id)
	delete(meeting.Waiting, id)
	delete(r.byID, id)

	remaining := meeting.AdmittedIDs()
	if len(meeting.Admitted) == 0 && len(meeting.Waiting) == 0 {
		delete(r.meetings, code)
	}

	log.Info().Str("module", "registry").Str("code", string(code)).Uint32("participantId", uint32(id)).Msg("left meeting")
	return &MembershipEvent{Code: code, Kind: "member_left", Subject: subject, Targets: remaining}, nil
}

// MeetingSummary is a read-only view of one meeting for the operator
// surface (SPEC_FULL.md §D). It never exposes the live maps directly so the
// admin package cannot race with mutations.
type MeetingSummary struct {
	Code         domain.MeetingCode
	HostName     string
	AdmittedIDs  []uint32
	WaitingCount int
	CreatedAt    int64 // unix seconds
}

// Snapshot returns a stable summary of every live meeting for read-only
// reporting.
func (r *Registry) Snapshot() []MeetingSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MeetingSummary, 0, len(r.meetings))
	for code, m := range r.meetings {
		host, ok := m.Admitted[m.HostID]
		hostName := ""
		if ok {
			hostName = host.Name
		}
		ids := make([]uint32, 0, len(m.Admitted))
		for id := range m.Admitted {
			ids = append(ids, uint32(id))
		}
		out = append(out, MeetingSummary{
			Code:         code,
			HostName:     hostName,
			AdmittedIDs:  ids,
			WaitingCount: len(m.Waiting),
			CreatedAt:    m.CreatedAt.Unix(),
		})
	}
	return out
}

// LookupByCode returns the live meeting pointer, not a copy. Callers must
// not mutate maps on it directly from outside the registry.
func (r *Registry) LookupByCode(code domain.MeetingCode) (*domain.Meeting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meetings[code]
	return m, ok
}

// LookupByParticipantID resolves which meeting (if any) a participant
// currently belongs to, admitted or waiting.
func (r *Registry) LookupByParticipantID(id domain.ParticipantID) (*domain.Meeting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	m, ok := r.meetings[code]
	return m, ok
}

// Participant resolves a single participant's record within its meeting.
func (r *Registry) Participant(id domain.ParticipantID) (*domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	meeting, ok := r.meetings[code]
	if !ok {
		return nil, false
	}
	if p, ok := meeting.Admitted[id]; ok {
		return p, true
	}
	if p, ok := meeting.Waiting[id]; ok {
		return p, true
	}
	return nil, false
}

// SetUDPAddr records the address a participant's media datagrams were last
// observed arriving from (spec.md §4.4 address discovery).
func (r *Registry) SetUDPAddr(id domain.ParticipantID, addr domain.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.byID[id]
	if !ok {
		return
	}
	meeting, ok := r.meetings[code]
	if !ok {
		return
	}
	if p, ok := meeting.Admitted[id]; ok {
		p.UDPAddr = &addr
	}
}

// SetCameraStatus and SetMuteStatus update the supplemented presence flags
// (SPEC_FULL.md §C) used for CAMERA_STATUS_BROADCAST / MUTE_STATUS_BROADCAST.
func (r *Registry) SetCameraStatus(id domain.ParticipantID, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.participantLocked(id); p != nil {
		p.CameraOn = on
	}
}

func (r *Registry) SetMuteStatus(id domain.ParticipantID, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.participantLocked(id); p != nil {
		p.Muted = on
	}
}

func (r *Registry) participantLocked(id domain.ParticipantID) *domain.Participant {
	code, ok := r.byID[id]
	if !ok {
		return nil
	}
	meeting, ok := r.meetings[code]
	if !ok {
		return nil
	}
	if p, ok := meeting.Admitted[id]; ok {
		return p
	}
	return meeting.Waiting[id]
}
