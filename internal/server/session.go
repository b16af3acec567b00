package server

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/muurk/sensorhub/internal/protocol"
)

// Status is the lifecycle state of a session
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
	StatusError
)

// String returns the name reported in ClientInfo
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText lets Status appear by name in JSON
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// terminal reports whether the session has finished
func (s Status) terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

const defaultModuleID = "unknown"

// Session is the server side of one accepted display unit connection.
// The read loop is the only reader of conn; writers serialize on writeMu.
type Session struct {
	id          string
	conn        net.Conn
	remoteIP    string
	remotePort  int
	connectedAt time.Time

	mu           sync.Mutex
	moduleID     string
	capabilities []string
	lastActivity time.Time
	status       Status

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// ClientInfo is a point-in-time copy of a session's metadata
type ClientInfo struct {
	ClientID     string    `json:"client_id"`
	ModuleID     string    `json:"module_id"`
	Capabilities []string  `json:"capabilities"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	Port         int       `json:"port"`
	Status       Status    `json:"status"`
}

func newSession(conn net.Conn, now time.Time) *Session {
	ip, port := splitRemote(conn.RemoteAddr())
	return &Session{
		id:           fmt.Sprintf("%s_%d_%d", ip, port, now.UnixNano()),
		conn:         conn,
		remoteIP:     ip,
		remotePort:   port,
		connectedAt:  now,
		moduleID:     defaultModuleID,
		capabilities: []string{},
		lastActivity: now,
		status:       StatusConnecting,
	}
}

func splitRemote(addr net.Addr) (string, int) {
	if addr == nil {
		return "unknown", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// ID returns the identifier assigned at accept time
func (s *Session) ID() string { return s.id }

// RemoteAddr returns ip:port of the peer
func (s *Session) RemoteAddr() string {
	return net.JoinHostPort(s.remoteIP, strconv.Itoa(s.remotePort))
}

// Status returns the current lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connected reports whether the session is live
func (s *Session) Connected() bool {
	return s.Status() == StatusConnected
}

// LastActivity returns when the last well-formed frame arrived
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ModuleID returns the module the peer declared, or "unknown"
func (s *Session) ModuleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moduleID
}

func (s *Session) markConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusConnecting {
		s.status = StatusConnected
	}
}

// observe records inbound activity and any metadata the message carries.
func (s *Session) observe(msg protocol.Message, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = now
	if id, ok := msg.ModuleID(); ok {
		s.moduleID = id
	}
	if caps, ok := msg.Capabilities(); ok {
		s.capabilities = caps
	}
}

// terminate moves the session to a terminal status. Only the first call
// wins and returns true; later calls leave the status alone.
func (s *Session) terminate(status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.terminal() {
		return false
	}
	s.status = status
	return true
}

// close closes the connection exactly once
func (s *Session) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// write sends one complete frame, holding the write lock so frames from
// concurrent senders never interleave.
func (s *Session) write(frame []byte, timeout time.Duration) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return 0, fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	return s.conn.Write(frame)
}

// Info returns a copy of the session's metadata
func (s *Session) Info() ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps := make([]string, len(s.capabilities))
	copy(caps, s.capabilities)
	return ClientInfo{
		ClientID:     s.id,
		ModuleID:     s.moduleID,
		Capabilities: caps,
		ConnectedAt:  s.connectedAt,
		LastActivity: s.lastActivity,
		IPAddress:    s.remoteIP,
		Port:         s.remotePort,
		Status:       s.status,
	}
}
