// Package ui renders terminal output for the sensorhub CLI.
//
// Two kinds of output live here. Printer writes "run once and exit"
// components styled with Lipgloss: command headers, success and error boxes,
// aligned key/value fields and bar charts. WatchModel is an interactive
// Bubble Tea program that shows messages relayed by a hub's live feed as
// they arrive.
//
// # Live View
//
// The caller owns the connection and feeds the model through a channel:
//
//	stream := make(chan tea.Msg)
//	go func() {
//	    defer close(stream)
//	    for ev := range events {
//	        stream <- ui.EventMsg{Category: ev.Category, At: ev.ReceivedAt, Message: ev.Message}
//	    }
//	}()
//	_, err := tea.NewProgram(ui.NewWatchModel(url, stream), tea.WithAltScreen()).Run()
//
// # Logging Integration
//
// zap logging is silent unless SENSORHUB_LOG_LEVEL is set, so the curated
// output is not interleaved with log lines.
package ui
