// Package server is the composition root: it wires the registry, control
// hub, transfer coordinator, and UDP relay together and runs their three
// long-running loops under one errgroup, grounded on the teacher's
// internal/app/orch.Orchestrator single-struct composition and its
// cmd/server/main.go signal-driven shutdown.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/confrelay/internal/adminhttp"
	"github.com/dkeye/confrelay/internal/config"
	"github.com/dkeye/confrelay/internal/control"
	"github.com/dkeye/confrelay/internal/registry"
	"github.com/dkeye/confrelay/internal/relay"
	"github.com/dkeye/confrelay/internal/transfer"
)

// Server owns every live component of one running instance.
type Server struct {
	cfg       *config.Config
	Registry  *registry.Registry
	Hub       *control.Hub
	Transfers *transfer.Coordinator
	Relay     *relay.Relay

	tcpListener *net.TCPListener
	udpConn     *net.UDPConn
}

// New builds every component but does not yet bind sockets (see Listen).
func New(cfg *config.Config) *Server {
	reg := registry.NewWithLimit(cfg.MaxMeetings)
	hub := control.NewHub(control.Config{
		MaxFrameBytes: cfg.MaxFrameBytes,
		IdleTimeout:   cfg.IdleTimeout(),
	}, reg)

	transfers := transfer.NewCoordinator(transfer.Config{
		InitialSsthresh:   cfg.InitialSsthresh,
		BaseChunkBytes:    int64(cfg.BaseChunkBytes),
		AckTimeout:        cfg.AckTimeout(),
		MaxRetries:        cfg.MaxRetries,
		SessionQueueBytes: cfg.SessionQueueBytes,
	}, hub)
	hub.BindTransfers(transfers)

	return &Server{
		cfg:       cfg,
		Registry:  reg,
		Hub:       hub,
		Transfers: transfers,
	}
}

// Listen binds the TCP control listener and UDP relay socket. Split from
// New so the caller can treat bind failures (spec.md §6 exit code 1)
// distinctly from construction.
func (s *Server) Listen() error {
	tcpAddr := &net.TCPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.TCPPort}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("server: bind control listener: %w", err)
	}
	s.tcpListener = ln

	udpAddr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.UDPPort}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("server: bind relay socket: %w", err)
	}
	s.udpConn = conn
	s.Relay = relay.New(conn, s.Registry)

	log.Info().Str("module", "server").Str("tcp", ln.Addr().String()).Str("udp", conn.LocalAddr().String()).Msg("listening")
	return nil
}

// Run blocks until ctx is canceled or any supervised loop returns an error,
// running the control accept loop, the UDP relay, and the transfer timeout
// sweeper concurrently (spec.md §5).
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.acceptLoop(ctx) })
	g.Go(func() error { return s.Relay.Run(ctx) })
	g.Go(func() error { return transfer.RunTimeoutSweeper(ctx, s.Transfers, time.Second) })

	g.Go(func() error {
		<-ctx.Done()
		s.tcpListener.Close()
		s.udpConn.Close()
		return nil
	})

	return g.Wait()
}

// AdminMeetings builds the read-only meeting listing for GET /api/meetings
// without internal/adminhttp needing to depend on internal/registry types
// directly.
func (s *Server) AdminMeetings() []adminhttp.MeetingView {
	summaries := s.Registry.Snapshot()
	meetings := make([]adminhttp.MeetingView, 0, len(summaries))
	for _, m := range summaries {
		meetings = append(meetings, adminhttp.MeetingView{
			Code:         string(m.Code),
			HostName:     m.HostName,
			AdmittedIDs:  m.AdmittedIDs,
			WaitingCount: m.WaitingCount,
			CreatedAt:    m.CreatedAt,
		})
	}
	return meetings
}

// AdminSubscribe exposes the control hub's lifecycle event feed to
// internal/adminhttp, translating control.LifecycleEvent into the admin
// package's own wire shape so neither package imports the other's types.
func (s *Server) AdminSubscribe() (<-chan adminhttp.LifecycleEvent, func()) {
	src, unsubscribe := s.Hub.Subscribe()
	out := make(chan adminhttp.LifecycleEvent, eventRelayQueueDepth)

	go func() {
		defer close(out)
		for ev := range src {
			select {
			case out <- adminhttp.LifecycleEvent{
				Type:          ev.Type,
				Code:          ev.Code,
				ParticipantID: ev.ParticipantID,
				Name:          ev.Name,
			}:
			default:
			}
		}
	}()

	return out, unsubscribe
}

const eventRelayQueueDepth = 32

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.Hub.Serve(ctx, conn)
	}
}
