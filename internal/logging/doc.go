// Package logging provides structured logging for the sensor hub.
//
// It wraps a package-level zap logger with short helpers so call sites stay
// one line plus fields:
//
//	logging.Info("Client connected",
//	    zap.String("client_id", id),
//	    zap.String("remote_addr", addr),
//	)
//
// Initialize the logger once at startup and flush it on exit:
//
//	if err := logging.Initialize("info"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// Levels:
//   - debug: every frame, heartbeats, sweeps that found nothing
//   - info: connections, disconnections, commands
//   - warn: rejected connections, timeouts, unknown message types, alerts
//   - error: I/O failures and anything that tears a session down unexpectedly
//
// When no level is configured and SENSORHUB_LOG_LEVEL is unset the logger is
// a no-op. All functions are safe for concurrent use.
package logging
