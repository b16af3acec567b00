// Package discovery advertises the sensor hub over mDNS and finds hubs on the
// local network.
//
// The hub registers itself as a "_sensorhub._tcp" service in the "local."
// domain. Its TXT record carries the server version and the wire protocol
// name ("proto=lp-json"), so display units can tell a compatible hub apart
// from anything else on the segment.
//
// # Advertising
//
//	adv, err := discovery.Advertise("sensorhub", 8080, version.Version)
//	if err != nil {
//	    return err
//	}
//	defer adv.Shutdown()
//
// # Browsing
//
//	browser := discovery.NewBrowser()
//	browser.Timeout = 3 * time.Second
//	hubs, err := browser.Browse(ctx)
//	for _, hub := range hubs {
//	    fmt.Println(hub.Instance, hub.Addr(), hub.Version())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Hub and display units must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
