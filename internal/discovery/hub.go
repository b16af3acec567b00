package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Hub is a sensor hub found by browsing the local network
type Hub struct {
	// Instance is the advertised instance name (e.g., "sensorhub")
	Instance string

	// Hostname is the mDNS hostname (e.g., "jeep-pi.local.")
	Hostname string

	// IP is the hub address, IPv4 preferred
	IP string

	// Port is the TCP port display units connect to
	Port int

	// Metadata holds the TXT record, e.g. "version" and "proto"
	Metadata map[string]string

	// DiscoveredAt is when the hub answered
	DiscoveredAt time.Time
}

// String returns a human-readable description of the hub
func (h *Hub) String() string {
	return fmt.Sprintf("Sensor hub %q (%s) at %s", h.Instance, h.Hostname, h.Addr())
}

// Addr returns the host:port display units dial
func (h *Hub) Addr() string {
	return net.JoinHostPort(h.IP, strconv.Itoa(h.Port))
}

// Version returns the advertised server version, or "" if absent
func (h *Hub) Version() string {
	return h.GetMetadata(TXTVersion)
}

// GetMetadata retrieves a TXT value by key, or returns empty string if not found
func (h *Hub) GetMetadata(key string) string {
	if h.Metadata == nil {
		return ""
	}
	return h.Metadata[key]
}
