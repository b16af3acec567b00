package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/muurk/sensorhub/internal/config"
	"github.com/muurk/sensorhub/internal/feed"
	"github.com/muurk/sensorhub/internal/ui"
)

var watchTimeout time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [feed-address]",
	Short: "Show messages from a hub's live feed",
	Long: `Connect to the WebSocket feed of a hub started with 'serve --feed' and
show every relayed message as it arrives.

The address may be a full ws:// URL or host:port; the /feed path is added
when missing. Without an address the default feed address is used.`,
	Example: `  # Watch the local hub
  sensorhub watch

  # Watch a hub on the LAN
  sensorhub watch 192.168.4.1:8081`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 5*time.Second, "Connection timeout")
}

// feedURL normalizes a user supplied feed address into a ws:// URL
func feedURL(addr string) (string, error) {
	if addr == "" {
		addr = config.DefaultFeedAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid feed address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = feed.Path
	}
	return u.String(), nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	var addr string
	if len(args) > 0 {
		addr = args[0]
	}
	target, err := feedURL(addr)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: watchTimeout}
	conn, _, err := dialer.Dial(target, nil)
	if err != nil {
		ui.NewPrinter(nil).PrintError("Cannot connect to feed", err,
			"Ensure the hub was started with --feed",
			"Check the feed address and port (default "+config.DefaultFeedAddr+")",
		)
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer func() { _ = conn.Close() }()

	stream := make(chan tea.Msg)
	go relayFeed(conn, stream)

	program := tea.NewProgram(ui.NewWatchModel(target, stream), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// relayFeed forwards feed events to the live view until the socket closes
func relayFeed(conn *websocket.Conn, stream chan<- tea.Msg) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			stream <- ui.StreamClosedMsg{Err: err}
			return
		}

		var ev feed.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		stream <- ui.EventMsg{Category: ev.Category, At: ev.ReceivedAt, Message: ev.Message}
	}
}
