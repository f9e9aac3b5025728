package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/confrelay/internal/domain"
)

func TestCreateMeetingSeatsHostAsAdmitted(t *testing.T) {
	r := New()
	meeting, host, err := r.CreateMeeting("Alice")
	require.NoError(t, err)
	require.True(t, host.IsHost)
	require.Len(t, meeting.Code, 6)
	require.Contains(t, meeting.Admitted, host.ID)
}

func TestRequestJoinThenAdmit(t *testing.T) {
	r := New()
	meeting, host, err := r.CreateMeeting("Alice")
	require.NoError(t, err)

	_, waiter, err := r.RequestJoin(meeting.Code, "Bob")
	require.NoError(t, err)
	require.Contains(t, meeting.Waiting, waiter.ID)

	admitted, targets, err := r.Admit(meeting.Code, host.ID, waiter.ID)
	require.NoError(t, err)
	require.Equal(t, waiter.ID, admitted.ID)
	require.NotContains(t, meeting.Waiting, waiter.ID)
	require.Contains(t, meeting.Admitted, waiter.ID)
	require.ElementsMatch(t, []uint32{uint32(host.ID), uint32(waiter.ID)}, idsAsUint32(targets))
}

func TestAdmitRejectsNonHost(t *testing.T) {
	r := New()
	meeting, _, err := r.CreateMeeting("Alice")
	require.NoError(t, err)
	_, waiter, err := r.RequestJoin(meeting.Code, "Bob")
	require.NoError(t, err)

	_, _, err = r.Admit(meeting.Code, waiter.ID, waiter.ID)
	require.ErrorIs(t, err, ErrNotHost)
}

func TestDenyRemovesWaiter(t *testing.T) {
	r := New()
	meeting, host, err := r.CreateMeeting("Alice")
	require.NoError(t, err)
	_, waiter, err := r.RequestJoin(meeting.Code, "Bob")
	require.NoError(t, err)

	require.NoError(t, r.Deny(meeting.Code, host.ID, waiter.ID))
	require.NotContains(t, meeting.Waiting, waiter.ID)
	_, found := r.Participant(waiter.ID)
	require.False(t, found)
}

func TestHostLeaveDissolvesMeeting(t *testing.T) {
	r := New()
	meeting, host, err := r.CreateMeeting("Alice")
	require.NoError(t, err)
	_, bob, err := r.RequestJoin(meeting.Code, "Bob")
	require.NoError(t, err)
	_, _, err = r.Admit(meeting.Code, host.ID, bob.ID)
	require.NoError(t, err)
	_, carol, err := r.RequestJoin(meeting.Code, "Carol")
	require.NoError(t, err)

	event, err := r.Leave(host.ID)
	require.NoError(t, err)
	require.Equal(t, "meeting_closed", event.Kind)
	require.ElementsMatch(t, []uint32{uint32(bob.ID), uint32(carol.ID)}, idsAsUint32(event.Targets))

	_, ok := r.LookupByCode(meeting.Code)
	require.False(t, ok)
}

func TestNonHostLeaveNotifiesRemainingAdmitted(t *testing.T) {
	r := New()
	meeting, host, err := r.CreateMeeting("Alice")
	require.NoError(t, err)
	_, bob, err := r.RequestJoin(meeting.Code, "Bob")
	require.NoError(t, err)
	_, _, err = r.Admit(meeting.Code, host.ID, bob.ID)
	require.NoError(t, err)

	event, err := r.Leave(bob.ID)
	require.NoError(t, err)
	require.Equal(t, "member_left", event.Kind)
	require.ElementsMatch(t, []uint32{uint32(host.ID)}, idsAsUint32(event.Targets))

	_, ok := r.LookupByCode(meeting.Code)
	require.True(t, ok, "meeting survives while host remains")
}

func idsAsUint32(ids []domain.ParticipantID) []uint32 {
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = uint32(id)
	}
	return out
}
