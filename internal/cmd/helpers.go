package cmd

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/xcawolfe-amzn/switchboard/internal/client"
)

// selfSessionID returns the pane's session identity, empty in operator
// shells.
func selfSessionID() string {
	return client.SelfID(os.Getenv)
}

// isTerminal reports whether stderr is an interactive terminal. Detached
// coordinators log to the state-dir log file instead.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// age renders a timestamp as a compact relative age for table output.
func age(t *time.Time) string {
	if t == nil {
		return "-"
	}
	d := time.Since(t.UTC())
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncate shortens a string for single-line display.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
