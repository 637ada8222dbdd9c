// Package printer writes the CLI's user-facing output. Errors carry a title,
// an explanation and numbered suggestions; the returned error holds only the
// title, for cobra.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Colour even without a TTY unless NO_COLOR is set
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Stdout and Stderr are swapped out by tests
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a green message with a checkmark prefix
func Success(format string, a ...any) {
	green.Fprint(Stdout, withPrefix("✓ ", fmt.Sprintf(format, a...)))
}

// Info prints a plain informational message
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a yellow message with a warning prefix
func Warning(format string, a ...any) {
	yellow.Fprint(Stdout, withPrefix("⚠️  ", fmt.Sprintf(format, a...)))
}

// Step prints a cyan progress line for multi-step operations
func Step(format string, a ...any) {
	cyan.Fprint(Stdout, withPrefix("→ ", fmt.Sprintf(format, a...)))
}

// Field prints an aligned "key: value" line with the key dimmed
func Field(key string, value any) {
	faint.Fprintf(Stdout, "  %-12s", key+":")
	fmt.Fprintf(Stdout, " %v\n", value)
}

// Error prints title, explanation and suggestions to Stderr and returns an
// error holding only the title
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error plus key/value details, printed in key order
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(Stderr, "\n")
		for _, k := range keys {
			fmt.Fprintf(Stderr, "  %s: %s\n", k, context[k])
		}
	}

	writeSuggestions(Stderr, suggestions)

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

func withPrefix(prefix, msg string) string {
	if strings.HasPrefix(msg, strings.TrimSpace(prefix)) {
		return msg
	}
	return prefix + msg
}
