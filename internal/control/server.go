// Package control serves the daemon's local control socket: a gRPC health
// service that mirrors the connection state.
package control

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/bayup/wabridge/internal/bus"
	"github.com/bayup/wabridge/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SessionService is the health service name reported for the session.
const SessionService = "wabridge.Session"

// StateReader reports the current connection state.
type StateReader interface {
	Current() status.State
}

// Server manages the gRPC server bound to a session's Unix domain socket.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	state      StateReader
	bus        *bus.Bus
	logger     *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer listens on socketPath, replacing a stale socket file.
func NewServer(socketPath string, state StateReader, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		state:      state,
		bus:        b,
		logger:     logger,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start publishes the current state and serves in the background.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	changes, unsub := s.bus.Subscribe(bus.KindStatusChanged, 16)
	s.set(s.state.Current())

	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case evt := <-changes:
				if c, ok := evt.Payload.(status.Change); ok {
					s.set(c.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		s.logger.Info("control socket listening", zap.String("socket", s.socketPath))
		if err := s.grpcServer.Serve(s.listener); err != nil {
			s.logger.Error("control socket error", zap.Error(err))
		}
	}()
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
	s.logger.Info("control socket stopped")
}

func (s *Server) set(st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Ready {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(SessionService, serving)
	s.logger.Debug("health updated", zap.String("state", string(st)), zap.Stringer("serving", serving))
}

// Check dials the control socket and asks for the status of service.
func Check(ctx context.Context, socketPath, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}
