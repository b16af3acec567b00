package ui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/sensorhub/internal/protocol"
)

// DefaultWatchRows is how many events the live view keeps
const DefaultWatchRows = 200

// EventMsg delivers one relayed message to the live view
type EventMsg struct {
	Category string
	At       time.Time
	Message  protocol.Message
}

// StreamClosedMsg reports that the event stream ended
type StreamClosedMsg struct {
	Err error
}

type watchKeyMap struct {
	Pause key.Binding
	Clear key.Binding
	Up    key.Binding
	Down  key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Clear, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, {k.Pause, k.Clear, k.Quit}}
}

func defaultWatchKeys() watchKeyMap {
	return watchKeyMap{
		Pause: key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause")),
		Clear: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
		Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll up")),
		Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll down")),
		Quit:  key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// WatchModel is a live table of messages relayed by a hub's feed.
type WatchModel struct {
	source  string
	stream  <-chan tea.Msg
	maxRows int

	table   table.Model
	spinner spinner.Model
	help    help.Model
	keys    watchKeyMap

	rows   []table.Row // newest first
	counts map[string]int
	total  int
	paused bool
	closed bool
	err    error
	width  int
}

// NewWatchModel creates a live view reading EventMsg and StreamClosedMsg
// values from stream. source is shown in the header.
func NewWatchModel(source string, stream <-chan tea.Msg) WatchModel {
	width, height := GetTerminalSize()

	t := table.New(
		table.WithColumns(watchColumns(width)),
		table.WithHeight(tableHeight(height)),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(MutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(TextColor).
		Background(PrimaryColor)
	t.SetStyles(styles)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(SuccessColor)

	return WatchModel{
		source:  source,
		stream:  stream,
		maxRows: DefaultWatchRows,
		table:   t,
		spinner: s,
		help:    help.New(),
		keys:    defaultWatchKeys(),
		counts:  make(map[string]int),
		width:   width,
	}
}

func watchColumns(width int) []table.Column {
	fixed := 12 + 13 + 16 + 8 // time, category, module and cell padding
	summary := width - fixed
	if summary < 20 {
		summary = 20
	}
	return []table.Column{
		{Title: "Time", Width: 12},
		{Title: "Category", Width: 13},
		{Title: "Module", Width: 16},
		{Title: "Summary", Width: summary},
	}
}

func tableHeight(height int) int {
	h := height - 9 // header, counters, status bar, help
	if h < 5 {
		return 5
	}
	return h
}

// waitForStream turns the next stream value into a tea.Msg
func waitForStream(stream <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-stream
		if !ok {
			return StreamClosedMsg{}
		}
		return msg
	}
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForStream(m.stream))
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			m.rows = nil
			m.counts = make(map[string]int)
			m.total = 0
			m.table.SetRows(nil)
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetColumns(watchColumns(msg.Width))
		m.table.SetHeight(tableHeight(msg.Height))
		m.help.Width = msg.Width
		return m, nil

	case EventMsg:
		m.record(msg)
		return m, waitForStream(m.stream)

	case StreamClosedMsg:
		m.closed = true
		m.err = msg.Err
		return m, nil

	case spinner.TickMsg:
		if m.closed {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// record counts ev and, unless paused, adds it to the table
func (m *WatchModel) record(ev EventMsg) {
	m.counts[ev.Category]++
	m.total++
	if m.paused {
		return
	}

	moduleID, _ := ev.Message.ModuleID()
	row := table.Row{
		ev.At.Local().Format("15:04:05.000"),
		ev.Category,
		moduleID,
		Summarize(ev.Message),
	}

	m.rows = append([]table.Row{row}, m.rows...)
	if len(m.rows) > m.maxRows {
		m.rows = m.rows[:m.maxRows]
	}
	m.table.SetRows(m.rows)
}

// View implements tea.Model
func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderTitleStyle.Render("SENSOR HUB LIVE FEED"))
	b.WriteString(HeaderCommandStyle.Render(m.source))
	b.WriteString("\n")
	b.WriteString(m.countersView())
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

func (m WatchModel) countersView() string {
	parts := []string{KeyStyle.UnsetWidth().Render(fmt.Sprintf("total %d", m.total))}
	for _, c := range protocol.Categories() {
		n := m.counts[c.String()]
		if n == 0 {
			continue
		}
		parts = append(parts, CategoryStyle(c.String()).Render(fmt.Sprintf("%s %d", c, n)))
	}
	return strings.Join(parts, "  ")
}

func (m WatchModel) statusView() string {
	switch {
	case m.closed && m.err != nil:
		return ErrorMessageStyle.PaddingLeft(1).Render(FailureMarker + " feed closed: " + m.err.Error())
	case m.closed:
		return StatusBarStyle.Render(FailureMarker + " feed closed")
	case m.paused:
		return StatusBarStyle.Render("paused, still counting")
	default:
		return m.spinner.View() + StatusBarStyle.Render("live")
	}
}

// Summarize renders the message body as sorted key=value pairs, leaving out
// the fields already shown in their own columns.
func Summarize(msg protocol.Message) string {
	keys := make([]string, 0, len(msg))
	for k := range msg {
		switch k {
		case protocol.FieldType, protocol.FieldModuleID, protocol.FieldTimestamp, protocol.FieldCapabilities:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(msg[k]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
