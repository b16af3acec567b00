package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/sensorhub/internal/logging"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type sensor hubs advertise
	ServiceType = "_sensorhub._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// TXT record keys
	TXTVersion  = "version"
	TXTProtocol = "proto"

	// ProtocolName identifies the length-prefixed JSON framing
	ProtocolName = "lp-json"
)

// Advertiser publishes the hub on the local network until Shutdown.
type Advertiser struct {
	server   *zeroconf.Server
	instance string
}

// Advertise registers instance as a ServiceType service on port. The TXT
// record carries the server version and wire protocol name.
func Advertise(instance string, port int, version string) (*Advertiser, error) {
	if instance == "" {
		return nil, fmt.Errorf("mDNS instance name is required")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", port)
	}

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, TXTRecords(version), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Advertising sensor hub via mDNS",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)

	return &Advertiser{server: server, instance: instance}, nil
}

// TXTRecords returns the key=value TXT entries advertised for version
func TXTRecords(version string) []string {
	return []string{
		TXTVersion + "=" + version,
		TXTProtocol + "=" + ProtocolName,
	}
}

// Shutdown withdraws the advertisement. Safe to call on a nil Advertiser.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	logging.Info("Stopped mDNS advertisement", zap.String("instance", a.instance))
}
