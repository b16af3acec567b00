package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/muurk/sensorhub/internal/logging"
	"github.com/muurk/sensorhub/internal/protocol"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when sending to a session that has finished
var ErrNotConnected = errors.New("server: session not connected")

// send encodes msg and writes it to sess.
func (s *Server) send(sess *Session, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %q message: %w", msg.Type(), err)
	}
	return s.sendFrame(sess, msg, frame)
}

// sendFrame writes an already encoded frame. A write failure marks the
// session as errored and tears it down; the caller only sees the error.
func (s *Server) sendFrame(sess *Session, msg protocol.Message, frame []byte) error {
	if !sess.Connected() {
		return ErrNotConnected
	}

	n, err := sess.write(frame, s.cfg.WriteTimeout)
	if err != nil {
		if !sess.Connected() {
			// torn down while the write was in flight
			logging.Debug("Send abandoned, session closed",
				zap.String("client_id", sess.ID()),
				zap.String("type", msg.Type()),
			)
			return fmt.Errorf("write to %s abandoned: %w", sess.ID(), ErrNotConnected)
		}
		s.stats.errors.Add(1)
		logging.Error("Failed to send message",
			zap.String("client_id", sess.ID()),
			zap.String("type", msg.Type()),
			zap.Error(err),
		)
		s.disconnect(sess, StatusError, "write failed")
		return fmt.Errorf("write to %s failed: %w", sess.ID(), err)
	}

	s.stats.messagesSent.Add(1)
	s.stats.bytesSent.Add(uint64(n))
	logging.LogFrame(sess.ID(), "outbound", msg.Type(), n)
	s.capture.Record(sess, DirectionOutbound, msg, n)
	return nil
}

// Broadcast sends msg to every connected session except excludeClient
// (empty to exclude nobody). Each peer is written concurrently, so a slow or
// failing peer neither delays nor prevents delivery to the others. It
// returns the number of sessions that accepted the frame.
func (s *Server) Broadcast(msg protocol.Message, excludeClient string) int {
	frame, err := protocol.Encode(msg)
	if err != nil {
		logging.Error("Failed to encode broadcast message",
			zap.String("type", msg.Type()),
			zap.Error(err),
		)
		return 0
	}

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, sess := range s.registry.Connected() {
		if sess.ID() == excludeClient {
			continue
		}
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			if err := s.sendFrame(sess, msg, frame); err != nil {
				logging.Warn("Broadcast delivery failed",
					zap.String("client_id", sess.ID()),
					zap.Error(err),
				)
				return
			}
			delivered.Add(1)
		}(sess)
	}
	wg.Wait()

	return int(delivered.Load())
}

// SendToClient sends msg to one session and reports whether it was written.
func (s *Server) SendToClient(clientID string, msg protocol.Message) bool {
	sess, ok := s.registry.Get(clientID)
	if !ok {
		logging.Warn("Client not found", zap.String("client_id", clientID))
		return false
	}
	if !sess.Connected() {
		logging.Warn("Client not connected", zap.String("client_id", clientID))
		return false
	}

	if err := s.send(sess, msg); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return false
		}
		logging.Error("Failed to send to client",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return false
	}
	return true
}
