package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/confrelay/internal/wire"
)

func TestSubscribeReceivesMeetingCreated(t *testing.T) {
	h := newTestHub()
	events, unsubscribe := h.Subscribe()
	defer unsubscribe()

	alice := newTestClient(t, h)
	alice.send(t, wire.CreateMeeting{Type: wire.TypeCreateMeeting, Name: "Alice"})
	alice.recv(t) // MEETING_CREATED

	select {
	case ev := <-events:
		require.Equal(t, "MEETING_CREATED", ev.Type)
		require.Equal(t, "Alice", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for MEETING_CREATED event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newTestHub()
	events, unsubscribe := h.Subscribe()
	unsubscribe()

	alice := newTestClient(t, h)
	alice.send(t, wire.CreateMeeting{Type: wire.TypeCreateMeeting, Name: "Alice"})
	alice.recv(t)

	select {
	case _, ok := <-events:
		require.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(200 * time.Millisecond):
		t.Fatal("channel neither closed nor received after unsubscribe")
	}
}
