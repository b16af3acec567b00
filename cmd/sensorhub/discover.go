package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/sensorhub/internal/discovery"
	"github.com/muurk/sensorhub/internal/ui"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find hubs advertised on the network",
	Long: `Browse for sensor hubs using mDNS/DNS-SD discovery.

Hubs started with 'serve --mdns' advertise themselves as _sensorhub._tcp.`,
	Example: `  # Browse for 5 seconds (default)
  sensorhub discover

  # Browse longer on a busy network
  sensorhub discover --timeout 15s`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.DefaultBrowseTimeout, "Browse timeout")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Hub discovery", "sensorhub discover",
		ui.Field{Key: "Service", Value: discovery.ServiceType},
		ui.Field{Key: "Timeout", Value: discoverTimeout.String()},
	)

	browser := discovery.NewBrowser()
	browser.Timeout = discoverTimeout

	hubs, err := browser.Browse(cmd.Context())
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if len(hubs) == 0 {
		p.PrintError("No hubs found", nil,
			"Ensure the hub was started with --mdns",
			"Verify you are on the same network segment as the hub",
			"Check that UDP port 5353 is not blocked",
			"Try increasing --timeout for slower networks",
		)
		return nil
	}

	p.Println(fmt.Sprintf("\nFound %d hub(s):\n", len(hubs)))
	for i, hub := range hubs {
		fields := []ui.Field{
			{Key: "Host", Value: hub.Hostname},
			{Key: "Address", Value: hub.Addr()},
		}
		if v := hub.Version(); v != "" {
			fields = append(fields, ui.Field{Key: "Version", Value: v})
		}
		p.Println(ui.HeaderTitleStyle.Render(fmt.Sprintf("%d. %s", i+1, hub.Instance)))
		p.PrintFields(fields...)
		p.Println("")
	}

	p.Println("Use 'sensorhub probe <address>' to check a hub")
	return nil
}
