package relay

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/confrelay/internal/domain"
	"github.com/dkeye/confrelay/internal/registry"
	"github.com/dkeye/confrelay/internal/wire"
)

func buildVideoDatagram(participantID uint32, payload []byte) []byte {
	buf := make([]byte, wire.VideoHeaderSize+len(payload))
	buf[0] = wire.KindVideo
	binary.BigEndian.PutUint32(buf[1:5], participantID)
	binary.BigEndian.PutUint32(buf[5:9], 1)              // frame id
	binary.BigEndian.PutUint64(buf[9:17], 1000)           // timestamp
	binary.BigEndian.PutUint32(buf[17:21], 0)             // seq
	binary.BigEndian.PutUint16(buf[21:23], 256)           // width
	binary.BigEndian.PutUint16(buf[23:25], 144)           // height
	binary.BigEndian.PutUint32(buf[25:29], uint32(len(payload)))
	copy(buf[wire.VideoHeaderSize:], payload)
	return buf
}

func TestRelayFansOutToOtherAdmittedParticipants(t *testing.T) {
	reg := registry.New()
	meeting, host, err := reg.CreateMeeting("Alice")
	require.NoError(t, err)
	_, bob, err := reg.RequestJoin(meeting.Code, "Bob")
	require.NoError(t, err)
	_, _, err = reg.Admit(meeting.Code, host.ID, bob.ID)
	require.NoError(t, err)

	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer serverConn.Close()

	r := New(serverConn, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	bobConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer bobConn.Close()
	reg.SetUDPAddr(bob.ID, domain.UDPAddr{IP: "127.0.0.1", Port: bobConn.LocalAddr().(*net.UDPAddr).Port})

	aliceConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer aliceConn.Close()

	datagram := buildVideoDatagram(uint32(host.ID), []byte("frame-bytes"))
	_, err = aliceConn.WriteToUDP(datagram, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	buf := make([]byte, 2048)
	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := bobConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, datagram, buf[:n])

	deadline := time.Now().Add(2 * time.Second)
	for {
		p, ok := reg.Participant(host.ID)
		require.True(t, ok)
		if p.UDPAddr != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sender address was never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelaySkipsUnknownSender(t *testing.T) {
	reg := registry.New()
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer serverConn.Close()

	r := New(serverConn, reg)
	datagram := buildVideoDatagram(999, []byte("x"))
	r.handle(datagram, net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})

	malformed, dropped := r.Stats()
	require.Equal(t, uint64(0), malformed)
	require.Equal(t, uint64(1), dropped)
}
