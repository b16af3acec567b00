package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Field is one key/value line in a box
type Field struct {
	Key   string
	Value string
}

// Share is one bar in a distribution chart
type Share struct {
	Label string
	Count int
}

// Printer writes styled components to a writer.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a Printer writing to w. If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// SetWidth overrides the detected terminal width
func (p *Printer) SetWidth(width int) *Printer {
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	p.width = width
	return p
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, fields ...Field) {
	p.Println(RenderHeader(title, command, fields, p.width))
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, fields ...Field) {
	p.Println(RenderSuccessBox(title, fields, p.width))
}

// PrintError prints an error result box with troubleshooting tips
func (p *Printer) PrintError(title string, err error, troubleshooting ...string) {
	p.Println(RenderErrorBox(title, err, troubleshooting, p.width))
}

// PrintFields prints aligned key/value lines without a box
func (p *Printer) PrintFields(fields ...Field) {
	p.Println(renderFields(fields))
}

// PrintShares prints a titled bar chart of shares
func (p *Printer) PrintShares(title string, shares []Share) {
	p.Println(RenderShares(title, shares, p.width))
}

// RenderHeader renders a command header box
func RenderHeader(title, command string, fields []Field, width int) string {
	titleLine := HeaderTitleStyle.Render(strings.ToUpper(title))
	commandLine := HeaderCommandStyle.Render(command)
	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, commandLine)

	if len(fields) > 0 {
		content = lipgloss.JoinVertical(lipgloss.Left,
			content,
			"  "+RenderDivider(width-6), // Account for border and padding
			renderFields(fields),
		)
	}

	return BorderStyle(width).Render(content)
}

// RenderSuccessBox renders a success result box
func RenderSuccessBox(title string, fields []Field, width int) string {
	lines := []string{
		"",
		SuccessTitleStyle.Render(SuccessMarker + "  " + title),
	}
	if len(fields) > 0 {
		lines = append(lines, "", renderFields(fields))
	}
	lines = append(lines, "")

	return SuccessBoxStyle(width).Render(strings.Join(lines, "\n"))
}

// RenderErrorBox renders an error result box with troubleshooting tips
func RenderErrorBox(title string, err error, troubleshooting []string, width int) string {
	lines := []string{
		"",
		ErrorTitleStyle.Render(FailureMarker + "  " + title),
	}
	if err != nil {
		lines = append(lines, "", ErrorMessageStyle.Render("Error: "+err.Error()))
	}
	if len(troubleshooting) > 0 {
		lines = append(lines, "", TroubleshootingItemStyle.Bold(true).Render("Troubleshooting:"))
		for _, tip := range troubleshooting {
			lines = append(lines, TroubleshootingItemStyle.Render("  • "+tip))
		}
	}
	lines = append(lines, "")

	return ErrorBoxStyle(width).Render(strings.Join(lines, "\n"))
}

// RenderShares renders one bar per share, scaled to the total
func RenderShares(title string, shares []Share, width int) string {
	total := 0
	labelWidth := 0
	for _, s := range shares {
		total += s.Count
		if len(s.Label) > labelWidth {
			labelWidth = len(s.Label)
		}
	}

	barWidth := width - labelWidth - 20
	if barWidth < 10 {
		barWidth = 10
	}
	bar := progress.New(
		progress.WithSolidFill(string(PrimaryColor)),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)

	lines := []string{HeaderTitleStyle.Render(title)}
	for _, s := range shares {
		pct := 0.0
		if total > 0 {
			pct = float64(s.Count) / float64(total)
		}
		label := lipgloss.NewStyle().Width(labelWidth).Render(s.Label)
		lines = append(lines, fmt.Sprintf("  %s  %s %6d", label, bar.ViewAs(pct), s.Count))
	}
	return strings.Join(lines, "\n")
}

func renderFields(fields []Field) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, KeyStyle.Render(f.Key+":")+" "+ValueStyle.Render(f.Value))
	}
	return strings.Join(lines, "\n")
}
