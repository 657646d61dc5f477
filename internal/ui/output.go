// Package ui renders user-facing shell output with lipgloss.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// prefixStyle for the [rerequire] tag on diagnostics
	prefixStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("81"))

	// dimStyle for muted metadata text
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// successStyle for success indicators
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	// warnStyle for recoverable conditions
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	// errorStyle for error indicators
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	// resultStyle for the "=>" marker in front of evaluation results
	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// headerBoxStyle for the startup banner
	headerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("81")).
			Padding(0, 1)
)

const prefix = "[rerequire]"

// DisableColor renders every style as plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// FormatHeader renders the startup banner.
func FormatHeader(w io.Writer, version, boundDir string, debounce fmt.Stringer, policy string) {
	content := fmt.Sprintf("%s %s\n%s %s\n%s %s  %s %s\n%s",
		dimStyle.Render("rerequire"), version,
		dimStyle.Render("Bound:"), boundDir,
		dimStyle.Render("Debounce:"), debounce.String(),
		dimStyle.Render("Evict:"), policy,
		dimStyle.Render("Type .help for commands."),
	)
	fmt.Fprintln(w, headerBoxStyle.Render(content))
}

// FormatBound reports a new binding.
func FormatBound(w io.Writer, identifier, global string) {
	fmt.Fprintf(w, "%s %s %s bound to %s, watching for changes\n",
		prefixStyle.Render(prefix), successStyle.Render("✓"), identifier, successStyle.Render(global))
}

// FormatAlreadyBound reports a rejected duplicate binding.
func FormatAlreadyBound(w io.Writer, identifier, global string) {
	fmt.Fprintf(w, "%s %s %s is already bound to %s\n",
		prefixStyle.Render(prefix), warnStyle.Render("!"), identifier, warnStyle.Render(global))
}

// FormatReloaded reports a successful automatic reload.
func FormatReloaded(w io.Writer, key, global string) {
	fmt.Fprintf(w, "%s %s reloaded %s into %s\n",
		prefixStyle.Render(prefix), successStyle.Render("↻"), dimStyle.Render(key), successStyle.Render(global))
}

// FormatReloadFailed reports an automatic reload that failed. The previous
// value stays bound.
func FormatReloadFailed(w io.Writer, key, global string, err error) {
	fmt.Fprintf(w, "%s %s reload of %s failed, %s keeps its previous value: %v\n",
		prefixStyle.Render(prefix), errorStyle.Render("✗"), dimStyle.Render(key), global, err)
}

// FormatPreloadFailed reports a manifest entry that could not be bound.
func FormatPreloadFailed(w io.Writer, identifier, global string, err error) {
	fmt.Fprintf(w, "%s %s preload of %s as %s failed: %v\n",
		prefixStyle.Render(prefix), errorStyle.Render("✗"), identifier, global, err)
}

// FormatUnwatched reports a released binding.
func FormatUnwatched(w io.Writer, identifier, global string) {
	fmt.Fprintf(w, "%s %s stopped watching %s (%s keeps its last value)\n",
		prefixStyle.Render(prefix), dimStyle.Render("■"), identifier, global)
}

// FormatNotBound reports an unwatch for an unknown module.
func FormatNotBound(w io.Writer, identifier string) {
	fmt.Fprintf(w, "%s %s %s is not bound\n",
		prefixStyle.Render(prefix), warnStyle.Render("!"), identifier)
}

// FormatError renders an evaluation error.
func FormatError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("Uncaught "+err.Error()))
}

// FormatResult renders an evaluation result.
func FormatResult(w io.Writer, value string) {
	fmt.Fprintf(w, "%s %s\n", resultStyle.Render("=>"), value)
}

// FormatUnknownCommand reports a dot command the shell does not know.
func FormatUnknownCommand(w io.Writer, command string) {
	fmt.Fprintf(w, "%s unknown command %s, type .help for a list\n",
		warnStyle.Render("!"), command)
}

// Binding is one row of FormatBindings.
type Binding struct {
	Key    string
	Global string
}

// FormatBindings renders the binding table.
func FormatBindings(w io.Writer, bindings []Binding) {
	if len(bindings) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no bindings"))
		return
	}
	width := 0
	for _, b := range bindings {
		width = max(width, len(b.Global))
	}
	for _, b := range bindings {
		pad := strings.Repeat(" ", width-len(b.Global))
		fmt.Fprintf(w, "%s%s %s %s\n", successStyle.Render(b.Global), pad, dimStyle.Render("<-"), b.Key)
	}
}

// Stats is the input of FormatStats.
type Stats struct {
	Bindings        int
	Modules         int
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	WatchErrors     uint64
}

// FormatStats renders session counters.
func FormatStats(w io.Writer, stats Stats) {
	rows := []struct {
		label string
		value any
	}{
		{"bindings", stats.Bindings},
		{"cached modules", stats.Modules},
		{"active watches", stats.ActiveWatches},
		{"changes delivered", stats.EventsDelivered},
		{"changes debounced", stats.EventsDropped},
		{"watch errors", stats.WatchErrors},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s %v\n", dimStyle.Render(fmt.Sprintf("%-18s", row.label)), row.value)
	}
}

// FormatHelp renders the dot-command reference.
func FormatHelp(w io.Writer) {
	rows := [][2]string{
		{".bindings", "List bound modules and their globals"},
		{".graph", "Print the module dependency graph (Graphviz DOT)"},
		{".stats", "Show binding, cache and watcher counters"},
		{".clear", "Discard pending multi-line input"},
		{".help", "Show this help"},
		{".exit", "Exit the shell"},
		{"rerequire(id, name)", "Load module id into global name and reload it on change"},
		{"unwatch(id)", "Stop watching a module bound with rerequire"},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s %s\n", successStyle.Render(fmt.Sprintf("%-22s", row[0])), dimStyle.Render(row[1]))
	}
}
