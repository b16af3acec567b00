package server

import (
	"context"
	"time"

	"github.com/muurk/sensorhub/internal/logging"
	"go.uber.org/zap"
)

// runHeartbeatMonitor evicts sessions that have been silent for longer than
// the heartbeat timeout. Any inbound frame counts as activity.
func (s *Server) runHeartbeatMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepHeartbeats(s.now())
		}
	}
}

// sweepHeartbeats runs one monitor cycle and returns how many sessions it
// evicted.
func (s *Server) sweepHeartbeats(now time.Time) int {
	evicted := 0
	for _, sess := range s.registry.Connected() {
		idle := now.Sub(sess.LastActivity())
		if idle <= s.cfg.HeartbeatTimeout {
			continue
		}

		logging.Warn("Heartbeat timeout, disconnecting client",
			zap.String("client_id", sess.ID()),
			zap.Duration("idle", idle),
			zap.Duration("timeout", s.cfg.HeartbeatTimeout),
		)
		if s.disconnect(sess, StatusDisconnected, "heartbeat timeout") {
			evicted++
		}
	}
	return evicted
}

// runCleanupSweeper periodically purges registry entries that reached a
// terminal status without being removed. Teardown removes sessions itself,
// so this normally finds nothing.
func (s *Server) runCleanupSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepDisconnected()
		}
	}
}

// sweepDisconnected runs one cleanup cycle and returns how many entries it
// removed.
func (s *Server) sweepDisconnected() int {
	removed := s.registry.RemoveIf(func(sess *Session) bool {
		return sess.Status().terminal()
	})

	for _, sess := range removed {
		_ = sess.close()
		logging.Warn("Cleanup removed stale client",
			zap.String("client_id", sess.ID()),
			zap.String("status", sess.Status().String()),
		)
	}

	if len(removed) == 0 {
		logging.Debug("Cleanup sweep found nothing to remove")
	}
	return len(removed)
}
