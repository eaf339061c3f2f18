// Package printer writes forumtap's user-facing terminal output: colored
// status lines, structured command errors and dismissable alerts.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
)

func init() {
	// NO_COLOR disables colors; otherwise they stay on even without a TTY.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed, color.Bold)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta, color.Bold)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Print(msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Print(msg)
}

// Error prints a formatted error to stderr and returns an error carrying only
// the title, for cobra commands that set SilenceErrors.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with a block of key/value details, printed in
// key order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	w := os.Stderr
	red.Fprintf(w, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(w, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(w, "\n")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, context[k])
		}
	}

	writeSuggestions(w, suggestions)
	return fmt.Errorf("%s", title)
}

func writeSuggestions(w io.Writer, suggestions []string) {
	switch len(suggestions) {
	case 0:
		return
	case 1:
		fmt.Fprintf(w, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(w, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
	}
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// Println prints a plain message
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Alerter raises a user-visible, dismissable alert. Decode and storage
// failures are reported through it; raising an alert never blocks the
// caller for longer than a terminal write.
type Alerter interface {
	Alert(title, message string)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(title, message string)

// Alert implements Alerter.
func (f AlerterFunc) Alert(title, message string) {
	f(title, message)
}

// TerminalAlerter writes alerts as framed, colored blocks.
type TerminalAlerter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalAlerter returns an Alerter writing to w, or stderr when w is nil.
func NewTerminalAlerter(w io.Writer) *TerminalAlerter {
	if w == nil {
		w = os.Stderr
	}
	return &TerminalAlerter{w: w}
}

// Alert implements Alerter.
func (a *TerminalAlerter) Alert(title, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	magenta.Fprintf(a.w, "🔔 %s\n", title)
	if message != "" {
		fmt.Fprintf(a.w, "   %s\n", message)
	}
}

// Alert writes an alert to stderr.
func Alert(title, message string) {
	defaultAlerter.Alert(title, message)
}

var defaultAlerter = NewTerminalAlerter(nil)
