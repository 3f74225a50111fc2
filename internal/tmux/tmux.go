// Package tmux provides a wrapper for tmux pane operations via subprocess.
//
// The coordinator hosts each agent in a dedicated detached tmux session
// ("pane" throughout the codebase). This package is the only place that
// shells out to tmux; everything above it speaks the Adapter interface so
// tests can substitute a fake terminal.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/constants"
)

// Common errors
var (
	ErrNoServer     = errors.New("no tmux server running")
	ErrPaneExists   = errors.New("pane already exists")
	ErrPaneNotFound = errors.New("pane not found")
)

// Adapter is the terminal surface the coordinator depends on.
// The production implementation is Tmux; tests use fakes.
type Adapter interface {
	// NewPane creates a detached pane, optionally running command as the
	// pane's initial process.
	NewPane(name, workDir, command string) error

	// KillPane terminates a pane.
	KillPane(name string) error

	// HasPane checks pane existence (exact name match).
	HasPane(name string) (bool, error)

	// ListPanes returns all pane names.
	ListPanes() ([]string, error)

	// SendText pastes text in literal mode, waits for the paste to settle,
	// then presses Enter.
	SendText(name, text string) error

	// SendTextNoSubmit pastes text without pressing Enter. Used to restore
	// a saved user draft after a delivery.
	SendTextNoSubmit(name, text string) error

	// SendRaw sends a single tmux key name (Enter, Down, Escape, C-c, C-u).
	SendRaw(name, key string) error

	// SendInterrupt sends the interrupt key to the pane.
	SendInterrupt(name string) error

	// ClearLine erases any pending input on the pane's prompt line.
	ClearLine(name string) error

	// CapturePane captures the last N lines of pane output.
	CapturePane(name string, lines int) (string, error)

	// CapturePaneLines captures the last N lines as a slice.
	CapturePaneLines(name string, lines int) ([]string, error)

	// SetEnvironment sets a session environment variable in the pane.
	SetEnvironment(name, key, value string) error

	// PaneCommand returns the command currently running in the pane.
	PaneCommand(name string) (string, error)
}

// Tmux wraps tmux operations.
type Tmux struct{}

// NewTmux creates a new Tmux wrapper.
func NewTmux() *Tmux {
	return &Tmux{}
}

var _ Adapter = (*Tmux)(nil)

// run executes a tmux command with a wall-clock timeout and returns stdout.
func (t *Tmux) run(timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tmux %s: timed out after %v", args[0], timeout)
		}
		return "", t.wrapError(err, stderr.String(), args)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// wrapError wraps tmux errors with context.
func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") {
		return ErrPaneExists
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrPaneNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// NewPane creates a new detached pane. When command is non-empty it runs as
// the pane's initial process, which avoids the race where keystrokes arrive
// before the shell prompt is ready.
func (t *Tmux) NewPane(name, workDir, command string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	if command != "" {
		args = append(args, command)
	}
	_, err := t.run(constants.SendKeysTimeout, args...)
	return err
}

// KillPane terminates a pane.
func (t *Tmux) KillPane(name string) error {
	_, err := t.run(constants.SendKeysTimeout, "kill-session", "-t", "="+name)
	return err
}

// HasPane checks if a pane exists. Uses "=" prefix for exact matching so
// "agent-a1b2" does not match a check for "agent-a1".
func (t *Tmux) HasPane(name string) (bool, error) {
	_, err := t.run(constants.CapturePaneTimeout, "has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrPaneNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListPanes returns all pane names.
func (t *Tmux) ListPanes() ([]string, error) {
	out, err := t.run(constants.CapturePaneTimeout, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil // no server = no panes
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// SendText pastes text in literal mode, waits for the paste to settle, then
// sends Enter as a separate command with retry. The settle delay and the
// separate Enter are both required for reliable submission to the provider.
func (t *Tmux) SendText(name, text string) error {
	if _, err := t.run(constants.SendKeysTimeout, "send-keys", "-t", name, "-l", text); err != nil {
		return err
	}

	time.Sleep(constants.PasteSettleDelay)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(200 * time.Millisecond)
		}
		if _, err := t.run(constants.SendKeysTimeout, "send-keys", "-t", name, "Enter"); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to send Enter after 3 attempts: %w", lastErr)
}

// SendTextNoSubmit pastes text in literal mode without pressing Enter.
func (t *Tmux) SendTextNoSubmit(name, text string) error {
	_, err := t.run(constants.SendKeysTimeout, "send-keys", "-t", name, "-l", text)
	return err
}

// SendRaw sends a tmux key name without adding Enter.
func (t *Tmux) SendRaw(name, key string) error {
	_, err := t.run(constants.SendKeysTimeout, "send-keys", "-t", name, key)
	return err
}

// SendInterrupt sends C-c to the pane.
func (t *Tmux) SendInterrupt(name string) error {
	return t.SendRaw(name, "C-c")
}

// ClearLine sends C-u to erase pending input on the prompt line.
func (t *Tmux) ClearLine(name string) error {
	return t.SendRaw(name, "C-u")
}

// CapturePane captures the last N visible lines of a pane.
func (t *Tmux) CapturePane(name string, lines int) (string, error) {
	return t.run(constants.CapturePaneTimeout, "capture-pane", "-p", "-t", name, "-S", fmt.Sprintf("-%d", lines))
}

// CapturePaneLines captures the last N lines of a pane as a slice.
func (t *Tmux) CapturePaneLines(name string, lines int) ([]string, error) {
	out, err := t.CapturePane(name, lines)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// SetEnvironment sets an environment variable in the pane's session table.
func (t *Tmux) SetEnvironment(name, key, value string) error {
	_, err := t.run(constants.SendKeysTimeout, "set-environment", "-t", name, key, value)
	return err
}

// PaneCommand returns the current command running in the pane.
func (t *Tmux) PaneCommand(name string) (string, error) {
	out, err := t.run(constants.CapturePaneTimeout, "list-panes", "-t", name, "-F", "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsAgentRunning reports whether a non-shell process is running in the pane.
// Only trusts the pane command - UI markers in scrollback cause false positives.
func (t *Tmux) IsAgentRunning(name string) bool {
	cmd, err := t.PaneCommand(name)
	if err != nil {
		return false
	}
	for _, shell := range constants.SupportedShells {
		if cmd == shell {
			return false
		}
	}
	return cmd != ""
}

// WaitForPromptPrefix polls until a pane line starts with the given prefix,
// or the timeout elapses. Used to hold the spawn prompt until the provider
// is ready to accept input.
func (t *Tmux) WaitForPromptPrefix(name, prefix string, timeout time.Duration) error {
	if prefix == "" {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		lines, err := t.CapturePaneLines(name, 10)
		if err != nil {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), strings.TrimSpace(prefix)) {
				return nil
			}
		}
		time.Sleep(constants.PollInterval)
	}
	return fmt.Errorf("timeout waiting for prompt in %s", name)
}
