// Sensorhub is the device-communication server of the vehicle telemetry hub.
//
// Display units on the LAN connect over TCP and exchange length-prefixed
// JSON frames with the hub. Recognized messages can be relayed live to
// WebSocket subscribers, and the hub can advertise itself over mDNS.
//
// Usage:
//
//	sensorhub serve [flags]
//	sensorhub probe <host:port>
//	sensorhub discover
//	sensorhub watch [feed-address]
//	sensorhub analyze <capture.jsonl>
//
// See 'sensorhub --help' for available commands.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/sensorhub/internal/config"
	"github.com/muurk/sensorhub/internal/discovery"
	"github.com/muurk/sensorhub/internal/feed"
	"github.com/muurk/sensorhub/internal/logging"
	"github.com/muurk/sensorhub/internal/protocol"
	"github.com/muurk/sensorhub/internal/server"
	"github.com/muurk/sensorhub/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sensorhub",
	Short: "Vehicle sensor hub device server",
	Long: `The device-communication server of the vehicle telemetry hub.

Display units connect over TCP and exchange 4-byte length-prefixed JSON
messages with the hub. Use 'serve' to run the hub, 'probe' to check a
running hub and 'discover' to find hubs advertised on the network.
'watch' shows a hub's live feed and 'analyze' summarizes frame captures.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	configPath  string
	host        string
	port        int
	maxClients  int
	logLevel    string
	captureDir  string
	enableMDNS  bool
	enableFeed  bool
	feedAddr    string
	writeConfig bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub server",
	Long: `Start the sensor hub and accept connections from display units.

Settings are read from the configuration file (default location:
$XDG_CONFIG_HOME/sensorhub/config.yaml) and any flag given on the command
line overrides the file. Use --write-config to save the effective settings.

To capture every frame for protocol analysis, pass --capture-dir with an
existing directory; frames are appended to capture-<date>.jsonl.`,
	Example: `  # Start with defaults (0.0.0.0:8080, 10 clients)
  sensorhub serve

  # Custom port with debug logging
  sensorhub serve --port 9000 --log-level debug

  # Advertise over mDNS and relay messages to WebSocket subscribers
  sensorhub serve --mdns --feed --feed-addr :8081

  # Record all frames for analysis
  sensorhub serve --capture-dir ./captures`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to configuration file (default: user config directory)")
	f.StringVar(&host, "host", config.DefaultHost, "Address to listen on")
	f.IntVar(&port, "port", config.DefaultPort, "TCP port to listen on (0 = any free port)")
	f.IntVar(&maxClients, "max-clients", config.DefaultMaxClients, "Maximum simultaneous display units")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&captureDir, "capture-dir", "", "Directory to write frame captures (disabled if not specified)")
	f.BoolVar(&enableMDNS, "mdns", false, "Advertise the hub over mDNS")
	f.BoolVar(&enableFeed, "feed", false, "Relay inbound messages to WebSocket subscribers")
	f.StringVar(&feedAddr, "feed-addr", config.DefaultFeedAddr, "Listen address for the WebSocket feed")
	f.BoolVar(&writeConfig, "write-config", false, "Save the effective configuration and continue")
}

// loadServeConfig reads the configuration file and applies flags the user set
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("max-clients") {
		cfg.MaxClients = maxClients
	}
	if flags.Changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("capture-dir") {
		cfg.CaptureDir = captureDir
	}
	if flags.Changed("mdns") {
		cfg.MDNS.Enabled = enableMDNS
	}
	if flags.Changed("feed") {
		cfg.Feed.Enabled = enableFeed
	}
	if flags.Changed("feed-addr") {
		cfg.Feed.Addr = feedAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logging.Sync()

	if writeConfig {
		if err := cfg.Save(configPath); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		logging.Info("Configuration saved")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hub *feed.Hub
	if cfg.Feed.Enabled {
		hub = feed.NewHub()
		go hub.Run(ctx)
	}

	srv, err := server.New(cfg, messageSink(hub))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return err
	}

	feedErr := make(chan error, 1)
	if hub != nil {
		go func() { feedErr <- hub.ListenAndServe(ctx, cfg.Feed.Addr) }()
	}

	if cfg.MDNS.Enabled {
		_, portStr, _ := net.SplitHostPort(srv.Addr().String())
		boundPort, _ := strconv.Atoi(portStr)

		adv, err := discovery.Advertise(cfg.MDNS.Instance, boundPort, version.Version)
		if err != nil {
			// the hub still works for units configured with a fixed address
			logging.Warn("mDNS advertisement unavailable", zap.Error(err))
		} else {
			defer adv.Shutdown()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("Shutdown signal received")
	case runErr = <-feedErr:
		logging.Error("Feed stopped", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return runErr
}

// messageSink is the callback handed every recognized inbound message
func messageSink(hub *feed.Hub) server.MessageHandler {
	return func(category protocol.Category, msg protocol.Message) {
		moduleID, _ := msg.ModuleID()
		logging.Debug("Message received",
			zap.String("category", category.String()),
			zap.String("module_id", moduleID),
		)
		if hub != nil {
			hub.Publish(category, msg)
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sensorhub %s\n", version.Full())
	},
}
