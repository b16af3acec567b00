package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout is how long Browse listens for answers
const DefaultBrowseTimeout = 5 * time.Second

// Browser finds sensor hubs advertised on the local network
type Browser struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration

	now func() time.Time
}

// NewBrowser creates a browser with default settings
func NewBrowser() *Browser {
	return &Browser{
		Timeout: DefaultBrowseTimeout,
		now:     time.Now,
	}
}

// Browse collects every hub that answers before the timeout or ctx ends.
func (b *Browser) Browse(ctx context.Context) ([]*Hub, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	var mu sync.Mutex
	hubs := make([]*Hub, 0)
	seen := make(map[string]bool)

	go func() {
		defer close(done)
		for entry := range entries {
			hub := b.parseServiceEntry(entry)
			if hub == nil {
				continue
			}
			mu.Lock()
			if !seen[hub.Addr()] {
				seen[hub.Addr()] = true
				hubs = append(hubs, hub)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// the resolver closes entries once ctx is done
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Hub(nil), hubs...), nil
}

// FindHub waits for the hub advertised as instance.
func (b *Browser) FindHub(ctx context.Context, instance string) (*Hub, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Hub, 1)

	go func() {
		for entry := range entries {
			hub := b.parseServiceEntry(entry)
			if hub != nil && hub.Instance == instance {
				select {
				case found <- hub:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Lookup(ctx, instance, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to look up mDNS service: %w", err)
	}

	select {
	case hub := <-found:
		return hub, nil
	case <-ctx.Done():
		select {
		case hub := <-found:
			return hub, nil
		default:
		}
		return nil, fmt.Errorf("hub %q not found within %s", instance, b.Timeout)
	}
}

// parseServiceEntry converts a zeroconf entry to a Hub, or nil when the
// entry has no usable address or is not a sensor hub
func (b *Browser) parseServiceEntry(entry *zeroconf.ServiceEntry) *Hub {
	if entry == nil || entry.Instance == "" || entry.Port == 0 {
		return nil
	}

	metadata := parseTXT(entry.Text)
	if proto, ok := metadata[TXTProtocol]; ok && proto != ProtocolName {
		return nil
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	return &Hub{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: b.now(),
	}
}

func parseTXT(records []string) map[string]string {
	metadata := make(map[string]string, len(records))
	for _, txt := range records {
		key, value, _ := strings.Cut(txt, "=")
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	return metadata
}
