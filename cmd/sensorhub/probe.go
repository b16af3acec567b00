package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/sensorhub/internal/protocol"
	"github.com/muurk/sensorhub/internal/ui"
)

var (
	probeTimeout  time.Duration
	probeModuleID string
	probeSend     string
	probeListen   time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe <host:port>",
	Short: "Connect to a hub as a display unit",
	Long: `Connect to a running hub, print its welcome frame and send a heartbeat.

With --send, an extra JSON message is sent after the heartbeat. With
--listen, frames pushed by the hub are printed until the duration elapses.`,
	Example: `  # Check that a hub answers
  sensorhub probe 192.168.4.1:8080

  # Pose as a dashboard module and send a status message
  sensorhub probe localhost:8080 --module-id dash-left \
    --send '{"type":"status","status":"ok"}'

  # Watch broadcasts for 30 seconds
  sensorhub probe localhost:8080 --listen 30s`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "Connect and read timeout")
	probeCmd.Flags().StringVar(&probeModuleID, "module-id", "sensorhub-probe", "module_id to announce")
	probeCmd.Flags().StringVar(&probeSend, "send", "", "Extra JSON message to send after the heartbeat")
	probeCmd.Flags().DurationVar(&probeListen, "listen", 0, "Keep printing frames from the hub for this long")
}

func runProbe(cmd *cobra.Command, args []string) error {
	addr := args[0]

	var extra protocol.Message
	if probeSend != "" {
		msg, err := protocol.Unmarshal([]byte(probeSend))
		if err != nil {
			return fmt.Errorf("invalid --send message: %w", err)
		}
		extra = msg
	}

	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(probeTimeout))
	welcome, err := protocol.ReadFrame(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("hub closed the connection (client limit reached?)")
		}
		return fmt.Errorf("failed to read welcome: %w", err)
	}
	if welcome.Type() != protocol.TypeWelcome {
		return fmt.Errorf("expected welcome, got %q", welcome.Type())
	}
	out := cmd.OutOrStdout()
	printWelcome(ui.NewPrinter(out), addr, welcome)

	if _, err := protocol.WriteFrame(conn, protocol.BuildHeartbeat(probeModuleID, time.Now())); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	fmt.Fprintln(out, "✓ Heartbeat sent")

	if extra != nil {
		if _, err := protocol.WriteFrame(conn, extra); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		fmt.Fprintf(out, "✓ Sent %q message\n", extra.Type())
	}

	if probeListen <= 0 {
		return nil
	}

	deadline := time.Now().Add(probeListen)
	_ = conn.SetReadDeadline(deadline)
	for {
		msg, err := protocol.ReadFrame(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "Hub closed the connection")
				return nil
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}
		printMessage(out, cmd.ErrOrStderr(), msg)
	}
}

func printWelcome(p *ui.Printer, addr string, welcome protocol.Message) {
	clientID, _ := welcome.StringField("client_id")
	fields := []ui.Field{
		{Key: "Address", Value: addr},
		{Key: "Client ID", Value: clientID},
	}
	if info, ok := welcome["server_info"].(map[string]any); ok {
		name, _ := info["name"].(string)
		ver, _ := info["version"].(string)
		caps, _ := protocol.Message(info).Capabilities()
		fields = append(fields,
			ui.Field{Key: "Server", Value: name},
			ui.Field{Key: "Version", Value: ver},
			ui.Field{Key: "Capabilities", Value: strings.Join(caps, ", ")},
		)
	}
	p.PrintSuccess("Hub reachable", fields...)
}

func printMessage(out, errOut io.Writer, msg protocol.Message) {
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		fmt.Fprintf(errOut, "unprintable %q message: %v\n", msg.Type(), err)
		return
	}
	fmt.Fprintln(out, string(data))
}
