package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/sensorhub/internal/analysis"
	"github.com/muurk/sensorhub/internal/ui"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture.jsonl>...",
	Short: "Summarize frame capture files",
	Long: `Summarize capture files written by 'serve --capture-dir'.

For each file the report shows frame counts by direction and message type,
malformed frames, and one line per client session.`,
	Example: `  sensorhub analyze captures/capture-20260301.jsonl`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())

	for _, path := range args {
		s, err := analysis.AnalyzeFile(path)
		if err != nil {
			return err
		}
		printSummary(p, path, s)
	}
	return nil
}

func printSummary(p *ui.Printer, path string, s *analysis.Summary) {
	p.PrintHeader("Capture analysis", path,
		ui.Field{Key: "Records", Value: strconv.Itoa(s.Records)},
		ui.Field{Key: "Span", Value: s.Duration().String()},
	)
	p.PrintFields(
		ui.Field{Key: "Inbound", Value: strconv.Itoa(s.Inbound)},
		ui.Field{Key: "Outbound", Value: strconv.Itoa(s.Outbound)},
		ui.Field{Key: "Malformed", Value: strconv.Itoa(s.Malformed)},
		ui.Field{Key: "Frame bytes", Value: strconv.FormatInt(s.Bytes, 10)},
	)
	if s.Skipped > 0 {
		p.PrintFields(ui.Field{Key: "Unreadable lines", Value: strconv.Itoa(s.Skipped)})
	}
	p.Println("")

	if types := s.ByType(); len(types) > 0 {
		shares := make([]ui.Share, 0, len(types))
		for _, t := range types {
			shares = append(shares, ui.Share{Label: t.Label, Count: t.Count})
		}
		p.PrintShares("Messages by type", shares)
		p.Println("")
	}

	for _, c := range s.Clients() {
		module := c.ModuleID
		if module == "" {
			module = "unknown"
		}
		p.PrintFields(ui.Field{
			Key: c.ClientID,
			Value: fmt.Sprintf("%s  module=%s  in=%d out=%d malformed=%d",
				c.RemoteAddr, module, c.Inbound, c.Outbound, c.Malformed),
		})
	}
	p.Println("")
}
