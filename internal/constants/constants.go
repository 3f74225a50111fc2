// Package constants centralizes shared timeouts, limits, and environment
// variable names used across the coordinator.
package constants

import "time"

// Environment variables recognized by the coordinator and set inside panes.
const (
	// EnvSessionID identifies the owning session in hook callbacks.
	// Set inside each pane at creation time.
	EnvSessionID = "COORD_SESSION_ID"

	// EnvToolSearch is a provider workaround set to "false" at pane creation.
	EnvToolSearch = "ENABLE_TOOL_SEARCH"

	// EnvClaudeCode is the provider's nested-session guard variable.
	// It must be unset in the pane before issuing a resume command.
	EnvClaudeCode = "CLAUDECODE"
)

// Pane naming.
const (
	// PanePrefix is prepended to session ids to form pane names.
	PanePrefix = "agent-"
)

// Terminal adapter timing.
const (
	// SendKeysTimeout bounds a single keystroke send.
	SendKeysTimeout = 5 * time.Second

	// CapturePaneTimeout bounds a single pane capture.
	CapturePaneTimeout = 3 * time.Second

	// PasteSettleDelay is the wait between text paste and Enter.
	// Tested against the provider's paste handling; do not shorten.
	PasteSettleDelay = 500 * time.Millisecond

	// InterruptSettleDelay is the wait after an interrupt key before
	// injecting an urgent message.
	InterruptSettleDelay = 500 * time.Millisecond

	// DeliverySettleDelay is the wait after delivery keystrokes before the
	// engine considers the send complete.
	DeliverySettleDelay = 300 * time.Millisecond

	// PollInterval is the generic readiness-poll interval.
	PollInterval = 500 * time.Millisecond
)

// Message queue timing.
const (
	// SkipFenceWindow is how long an armed skip fence stays valid.
	SkipFenceWindow = 8 * time.Second

	// InputPollInterval is how often the pending-user-input guard re-reads
	// the pane line.
	InputPollInterval = 5 * time.Second

	// InputStaleTimeout is how long a pending draft must stay unchanged
	// before delivery saves it and proceeds.
	InputStaleTimeout = 120 * time.Second

	// WatchPollInterval is the watcher poll cadence.
	WatchPollInterval = 2 * time.Second
)

// Reminder and parent-wake defaults.
const (
	RemindSoftDefault = 210 * time.Second
	RemindHardDefault = 420 * time.Second

	// CompactWaitCap bounds how long a reminder defers while the session
	// is compacting.
	CompactWaitCap = 300 * time.Second

	// CompactWaitPoll is the poll interval while waiting out a compact.
	CompactWaitPoll = 5 * time.Second
)

// Pane output monitor.
const (
	// MonitorPollInterval is how often each RUNNING pane is re-captured.
	MonitorPollInterval = 1 * time.Second

	// IdleTimeoutDefault is the silence threshold for the one-shot idle
	// notification (strict greater-than).
	IdleTimeoutDefault = 300 * time.Second

	// CaptureLines is how many trailing pane lines the monitor inspects.
	CaptureLines = 50
)

// Crash recovery.
const (
	// RecoveryCooldownSuccess suppresses re-detection after a successful
	// recovery (multi-chunk crash dumps arrive over several captures).
	RecoveryCooldownSuccess = 30 * time.Second

	// RecoveryCooldownFailure is the shorter retry cooldown after a
	// failed recovery attempt.
	RecoveryCooldownFailure = 5 * time.Second
)

// SupportedShells are pane commands that count as "no agent running".
var SupportedShells = []string{"bash", "zsh", "fish", "sh", "dash"}
