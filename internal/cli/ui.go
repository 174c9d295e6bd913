package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7C3AED")).
		Padding(0, 2).
		MarginBottom(1)

	taglineStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#3B82F6")).
		Italic(true)

	keyStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Width(22)

	sectionStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#3B82F6")).
		MarginTop(1)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

func displayWelcomeBanner(w io.Writer) {
	title := bannerStyle.Render("t0quant " + Version)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, taglineStyle.Render("Intraday T+0 rebalancing backtests for A-share daily bars"))
	fmt.Fprintln(w)
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w, sectionStyle.Render(title))
}

func keyValue(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "%s%v\n", keyStyle.Render(key), value)
}

func check(w io.Writer, label string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", failStyle.Render("x"), label, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", okStyle.Render("ok"), label)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
