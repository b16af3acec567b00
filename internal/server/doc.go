// Package server implements the sensor hub's device-communication layer.
//
// Display units (dashboard screens on the vehicle LAN) connect over plain TCP
// and exchange length-prefixed JSON frames (see package protocol). The server
// accepts them, tracks one Session per connection and forwards every
// recognized inbound message to a single MessageHandler.
//
// # Components
//
//   - Acceptor: binds host:port, rejects connections beyond max_clients
//     before any session exists, registers the rest and starts their loops
//   - Session: one goroutine per connection reading frames in order;
//     malformed frames get an "error" reply, the session stays up
//   - Registry: client ID to session map behind a RWMutex; iteration always
//     goes through a snapshot
//   - Router: exhaustive switch over protocol.Category; unknown types are
//     logged and dropped
//   - Heartbeat monitor: every heartbeat_interval, evicts sessions silent for
//     longer than heartbeat_timeout (any inbound frame counts)
//   - Cleanup sweeper: every cleanup_interval, purges entries that reached a
//     terminal status without being removed
//   - Sender: Broadcast and SendToClient; a failed write tears that one
//     session down
//
// # Usage Example
//
//	srv, err := server.New(cfg, func(c protocol.Category, msg protocol.Message) {
//	    events.Publish(c.String(), msg)
//	})
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop(context.Background())
//
//	srv.Broadcast(protocol.Message{"type": "command", "command": "dim"}, "")
//
// # Teardown
//
// A session ends exactly once, by whichever of read-loop exit, heartbeat
// timeout, write failure or shutdown gets there first. Later attempts are
// no-ops, so the active count never goes negative.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Session fields are
// guarded per session, counters are atomic.
package server
