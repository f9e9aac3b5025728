package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/confrelay/internal/config"
	"github.com/dkeye/confrelay/internal/wire"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Host:              "127.0.0.1",
		TCPPort:           0,
		UDPPort:           0,
		MaxFrameBytes:     wire.DefaultMaxFrameBytes,
		MaxMeetings:       0,
		SessionQueueBytes: 64 << 20,
		InitialSsthresh:   8,
		BaseChunkBytes:    8192,
		AckTimeoutMs:      2000,
		MaxRetries:        5,
		IdleTimeoutMs:     60000,
	}
}

func TestServerAcceptsControlConnectionsAndSnapshotsState(t *testing.T) {
	srv := New(testConfig(t))
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	tcpAddr := srv.tcpListener.Addr().(*net.TCPAddr)
	conn, err := net.Dial("tcp", tcpAddr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.Encode(conn, wire.CreateMeeting{Type: wire.TypeCreateMeeting, Name: "Alice"}))

	dec := wire.NewDecoder(conn, wire.DefaultMaxFrameBytes)
	env, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, wire.TypeMeetingCreated, env.Type)

	deadline := time.Now().Add(2 * time.Second)
	for {
		meetings := srv.AdminMeetings()
		if len(meetings) == 1 {
			require.Equal(t, "Alice", meetings[0].HostName)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("meeting never appeared in admin listing")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
