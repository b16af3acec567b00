package server

import (
	"sync/atomic"
	"time"
)

// counters are monotonic and updated from any goroutine
type counters struct {
	connectionsTotal atomic.Uint64
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	errors           atomic.Uint64
}

// Statistics is a snapshot of server activity. ConnectionsActive and Uptime
// are derived at snapshot time rather than counted.
type Statistics struct {
	ConnectionsTotal  uint64    `json:"connections_total"`
	ConnectionsActive int       `json:"connections_active"`
	MessagesSent      uint64    `json:"messages_sent"`
	MessagesReceived  uint64    `json:"messages_received"`
	BytesSent         uint64    `json:"bytes_sent"`
	BytesReceived     uint64    `json:"bytes_received"`
	Errors            uint64    `json:"errors"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
}

func (c *counters) snapshot() Statistics {
	return Statistics{
		ConnectionsTotal: c.connectionsTotal.Load(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		Errors:           c.errors.Load(),
	}
}
