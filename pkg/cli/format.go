// Package cli provides shared output helpers for the fibopt CLI.
package cli

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// colorEnabled is false when NO_COLOR is set (per no-color.org) or stdout is
// not a terminal.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor forces ANSI colors on or off.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return paint("\033[32m", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return paint("\033[33m", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return paint("\033[31m", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return paint("\033[1m", s) }

// Status renders an outcome column.
func Status(success, dryRun bool) string {
	switch {
	case dryRun:
		return Yellow("dry-run")
	case success:
		return Green("ok")
	default:
		return Red("failed")
	}
}

// Delta renders a signed change count, e.g. "+3" or "-1"; zero is "0".
func Delta(added, removed int) string {
	switch {
	case added > 0 && removed > 0:
		return Green(fmt.Sprintf("+%d", added)) + "/" + Red(fmt.Sprintf("-%d", removed))
	case added > 0:
		return Green(fmt.Sprintf("+%d", added))
	case removed > 0:
		return Red(fmt.Sprintf("-%d", removed))
	}
	return "0"
}
