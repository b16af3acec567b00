// Package protocol implements the hub's length-prefixed JSON wire format.
//
// Display units and the hub exchange frames over a plain TCP stream. Each
// frame is a 4-byte big-endian unsigned length followed by exactly that many
// bytes of UTF-8 JSON:
//
//	+--------+--------+--------+--------+----------------------+
//	|            LEN (uint32, BE)       |  PAYLOAD (LEN bytes) |
//	+--------+--------+--------+--------+----------------------+
//
// Every payload is a JSON object with a string "type" field. The hub
// recognizes these inbound types:
//   - sensor_data, engine_state, power_state: telemetry
//   - heartbeat: liveness (any inbound frame counts as liveness)
//   - command, response, status, alert: control and reporting
//
// The hub originates two types:
//   - welcome: sent once right after a connection is accepted
//   - error: sent in reply to a malformed frame
//
// Any message may carry "module_id" (string) and "capabilities" (list of
// strings); the server records both on the session whenever present.
//
// # Decoding
//
// Decode distinguishes three outcomes the session loop cares about:
//   - io.EOF: the peer went away, either cleanly or mid-frame
//   - ErrMalformed: the payload was read but is not a usable message
//   - ErrFrameTooLarge: the length prefix exceeds the configured limit
//
// # Usage Example
//
//	msg, n, err := protocol.Decode(conn, protocol.DefaultMaxFrameSize)
//	switch {
//	case errors.Is(err, io.EOF):
//	    return // peer gone
//	case errors.Is(err, protocol.ErrMalformed):
//	    // answer with protocol.BuildError and keep reading
//	}
//
//	frame, err := protocol.Encode(protocol.BuildHeartbeat("dash-1", time.Now()))
//
// # Thread Safety
//
// All functions are stateless and safe for concurrent use.
package protocol
