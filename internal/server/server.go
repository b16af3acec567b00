package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/muurk/sensorhub/internal/config"
	"github.com/muurk/sensorhub/internal/logging"
	"github.com/muurk/sensorhub/internal/protocol"
	"github.com/muurk/sensorhub/internal/version"
	"go.uber.org/zap"
)

// acceptBackoff is how long the accept loop pauses after a transient error
const acceptBackoff = 50 * time.Millisecond

// ErrAlreadyStarted is returned by Start on a running server
var ErrAlreadyStarted = errors.New("server: already started")

// Server accepts display unit connections and runs their sessions.
type Server struct {
	cfg      *config.Config
	info     protocol.ServerInfo
	router   *Router
	registry *Registry
	capture  *Capture
	stats    counters
	now      func() time.Time

	mu        sync.Mutex
	listener  net.Listener
	running   bool
	stopping  bool
	startedAt time.Time
	cancel    context.CancelFunc

	background sync.WaitGroup // accept loop
	monitors   sync.WaitGroup // heartbeat monitor, cleanup sweeper
	sessions   sync.WaitGroup // read loops
}

// New creates a server for cfg. handler receives every recognized inbound
// message and may be nil.
func New(cfg *config.Config, handler MessageHandler) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	capture, err := NewCapture(cfg.CaptureDir)
	if err != nil {
		return nil, fmt.Errorf("failed to set up frame capture: %w", err)
	}

	return &Server{
		cfg: cfg,
		info: protocol.ServerInfo{
			Name:         cfg.ServerName,
			Version:      version.Version,
			Capabilities: cfg.Capabilities,
		},
		router:   NewRouter(handler),
		registry: NewRegistry(),
		capture:  capture,
		now:      time.Now,
	}, nil
}

// Start binds the listening socket and launches the accept loop, the
// heartbeat monitor and the cleanup sweeper. It returns once the socket is
// listening; failure to bind is the only error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}

	addr := s.cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = listener
	s.cancel = cancel
	s.running = true
	s.stopping = false
	s.startedAt = s.now()

	s.monitors.Add(2)
	go func() {
		defer s.monitors.Done()
		s.runHeartbeatMonitor(ctx)
	}()
	go func() {
		defer s.monitors.Done()
		s.runCleanupSweeper(ctx)
	}()

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.acceptConnections(listener)
	}()

	logging.Info("Sensor hub listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_clients", s.cfg.MaxClients),
		zap.Duration("heartbeat_timeout", s.cfg.HeartbeatTimeout),
	)
	return nil
}

// Addr returns the bound listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down: the monitors stop, every session is torn down
// and the registry emptied, then the listening socket closes. ctx bounds the
// wait for read loops to exit. Only a failure to close the listener is
// returned.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	listener := s.listener
	cancel := s.cancel
	s.mu.Unlock()

	logging.Info("Shutting down sensor hub...")

	cancel()
	s.monitors.Wait()

	for _, sess := range s.registry.Snapshot() {
		s.disconnect(sess, StatusDisconnected, "server shutdown")
	}
	s.registry.RemoveIf(func(*Session) bool { return true })

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.Info("All sessions closed")
	case <-ctx.Done():
		logging.Warn("Shutdown deadline reached before all sessions exited")
	}

	closeErr := listener.Close()
	s.background.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", closeErr)
	}

	logging.Info("Sensor hub stopped")
	return nil
}

// acceptConnections runs until the listener is closed
func (s *Server) acceptConnections(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.stats.errors.Add(1)
			logging.Error("Failed to accept connection", zap.Error(err))
			time.Sleep(acceptBackoff)
			continue
		}

		s.handleAccepted(conn)
	}
}

// handleAccepted applies the client cap, registers a session and hands it
// to its own goroutine.
func (s *Server) handleAccepted(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		_ = conn.Close()
		return
	}

	if s.registry.Len() >= s.cfg.MaxClients {
		logging.Warn("Rejecting connection - max clients reached",
			zap.String("remote_addr", remoteAddr),
			zap.Int("max_clients", s.cfg.MaxClients),
		)
		_ = conn.Close()
		return
	}

	sess := newSession(conn, s.now())
	sess.markConnected()
	if !s.registry.Add(sess) {
		logging.Error("Duplicate client ID, dropping connection",
			zap.String("client_id", sess.ID()),
		)
		_ = conn.Close()
		return
	}
	s.stats.connectionsTotal.Add(1)
	logging.LogConnection(sess.ID(), remoteAddr, "connected")

	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		s.serveSession(sess)
	}()
}

// serveSession greets the peer and runs its read loop until the peer goes
// away, a fault occurs or the session is torn down from elsewhere.
func (s *Server) serveSession(sess *Session) {
	status := StatusDisconnected
	reason := "peer closed connection"

	defer func() {
		if r := recover(); r != nil {
			status = StatusError
			reason = "internal fault"
			s.stats.errors.Add(1)
			logging.Error("Session loop panicked",
				zap.String("client_id", sess.ID()),
				zap.Any("panic", r),
			)
		}
		s.disconnect(sess, status, reason)
	}()

	if err := s.send(sess, protocol.BuildWelcome(sess.ID(), s.info, s.now())); err != nil {
		reason = "welcome failed"
		return
	}

	for {
		msg, n, err := protocol.Decode(sess.conn, s.cfg.MaxFrameSize)
		s.stats.bytesReceived.Add(uint64(n))

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return

			case errors.Is(err, protocol.ErrMalformed):
				s.stats.errors.Add(1)
				logging.Warn("Malformed message",
					zap.String("client_id", sess.ID()),
					zap.Error(err),
				)
				s.capture.RecordMalformed(sess, n, err)
				if sendErr := s.send(sess, protocol.BuildError(err.Error(), s.now())); sendErr != nil {
					return
				}
				continue

			default:
				if !sess.Connected() {
					// torn down elsewhere (timeout, send failure, shutdown)
					return
				}
				s.stats.errors.Add(1)
				status = StatusError
				reason = err.Error()
				return
			}
		}

		s.stats.messagesReceived.Add(1)
		sess.observe(msg, s.now())
		logging.LogFrame(sess.ID(), "inbound", msg.Type(), n)
		s.capture.Record(sess, DirectionInbound, msg, n)

		s.router.Dispatch(sess, msg)
	}
}

// disconnect tears sess down: terminal status, connection closed, registry
// entry removed. Only the first caller does anything; it returns whether
// this call was that first one.
func (s *Server) disconnect(sess *Session, status Status, reason string) bool {
	if !sess.terminate(status) {
		return false
	}

	if err := sess.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Debug("Error closing connection",
			zap.String("client_id", sess.ID()),
			zap.Error(err),
		)
	}
	s.registry.Remove(sess)

	logging.Info("Client disconnected",
		zap.String("client_id", sess.ID()),
		zap.String("module_id", sess.ModuleID()),
		zap.String("status", status.String()),
		zap.String("reason", reason),
	)
	return true
}

// GetAllClients returns metadata for every registered session
func (s *Server) GetAllClients() []ClientInfo {
	sessions := s.registry.Snapshot()
	out := make([]ClientInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	return out
}

// GetClient returns metadata for one session
func (s *Server) GetClient(clientID string) (ClientInfo, bool) {
	sess, ok := s.registry.Get(clientID)
	if !ok {
		return ClientInfo{}, false
	}
	return sess.Info(), true
}

// ClientCount returns the number of connected sessions
func (s *Server) ClientCount() int {
	return len(s.registry.Connected())
}

// GetStatistics returns a snapshot of the activity counters
func (s *Server) GetStatistics() Statistics {
	stats := s.stats.snapshot()
	stats.ConnectionsActive = s.ClientCount()

	s.mu.Lock()
	startedAt, running := s.startedAt, s.running
	s.mu.Unlock()

	stats.StartedAt = startedAt
	if running {
		stats.UptimeSeconds = s.now().Sub(startedAt).Seconds()
	}
	return stats
}
