package protocol

import "time"

// ServerInfo is advertised to every display unit in its welcome frame.
type ServerInfo struct {
	Name         string
	Version      string
	Capabilities []string
}

// BuildWelcome returns the frame sent immediately after a connection is
// accepted.
func BuildWelcome(clientID string, info ServerInfo, now time.Time) Message {
	caps := info.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return Message{
		FieldType:      TypeWelcome,
		"client_id":    clientID,
		FieldTimestamp: Timestamp(now),
		"server_info": map[string]any{
			"name":         info.Name,
			"version":      info.Version,
			"capabilities": caps,
		},
	}
}

// BuildError returns an error frame answering a protocol-level problem.
func BuildError(reason string, now time.Time) Message {
	return Message{
		FieldType:      TypeError,
		FieldMessage:   reason,
		FieldTimestamp: Timestamp(now),
	}
}

// BuildHeartbeat returns the liveness frame display units (and the probe
// command) send.
func BuildHeartbeat(moduleID string, now time.Time) Message {
	msg := Message{
		FieldType:      TypeHeartbeat,
		FieldTimestamp: Timestamp(now),
	}
	if moduleID != "" {
		msg[FieldModuleID] = moduleID
	}
	return msg
}
