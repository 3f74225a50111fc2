// Package monitor polls live panes and classifies fresh output.
//
// Stop hooks own the idle transition for providers that send them; the
// monitor's job there is event classification: crash signatures, permission
// prompts, completion heuristics, and silence. For hookless providers the
// monitor is also the idle authority: a prompt signature seen on two
// consecutive sweeps is reported so the queue can mark the session idle.
package monitor

import (
	"context"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

// paneState is the per-session classification state.
type paneState struct {
	lastContent  string
	lastChangeAt time.Time

	// idleFired is the one-shot latch for the silence notification,
	// keyed by last activity: any new content re-arms it.
	idleFired bool

	// awaitingPermission is set while a permission prompt is the pane's
	// latest content. Cleared by any new content.
	awaitingPermission bool

	// permSeen debounces permission notifications by prompt hash.
	permSeen map[uint32]bool

	// promptStreak counts consecutive sweeps with the input prompt on
	// screen. Two sightings confirm a hookless session went idle.
	promptStreak int
}

// Monitor polls RUNNING panes at a fixed interval.
type Monitor struct {
	reg    *session.Registry
	term   tmux.Adapter
	logger *log.Logger

	interval    time.Duration
	idleTimeout time.Duration

	mu     sync.Mutex
	states map[string]*paneState

	now func() time.Time

	// onCrash hands a crash signature to the recovery engine.
	onCrash func(sessionID, capture string)
	// onPermissionPrompt fires once per distinct prompt.
	onPermissionPrompt func(sessionID, prompt string)
	// onIdleSilence fires once per silence span past the idle timeout.
	onIdleSilence func(sessionID string)
	// onPromptIdle fires when a hookless session's prompt signature is
	// confirmed. The coordinator marks the session idle here.
	onPromptIdle func(sessionID string)

	// afterSweep runs after every Run tick. The coordinator drives
	// crash-recovery retries on this cadence.
	afterSweep func()
}

// New creates a monitor with stock intervals.
func New(reg *session.Registry, term tmux.Adapter, logger *log.Logger) *Monitor {
	return &Monitor{
		reg:         reg,
		term:        term,
		logger:      logger,
		interval:    constants.MonitorPollInterval,
		idleTimeout: constants.IdleTimeoutDefault,
		states:      make(map[string]*paneState),
		now:         time.Now,
	}
}

// SetIdleTimeout overrides the silence threshold.
func (m *Monitor) SetIdleTimeout(d time.Duration) { m.idleTimeout = d }

// SetInterval overrides the poll cadence. Call before Run.
func (m *Monitor) SetInterval(d time.Duration) { m.interval = d }

// SetClock overrides the monitor's clock. Test hook.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// SetOnCrash registers the crash consumer.
func (m *Monitor) SetOnCrash(fn func(sessionID, capture string)) { m.onCrash = fn }

// SetOnPermissionPrompt registers the permission-prompt consumer.
func (m *Monitor) SetOnPermissionPrompt(fn func(sessionID, prompt string)) {
	m.onPermissionPrompt = fn
}

// SetOnIdleSilence registers the silence consumer.
func (m *Monitor) SetOnIdleSilence(fn func(sessionID string)) { m.onIdleSilence = fn }

// SetOnPromptIdle registers the prompt-signature idle consumer.
func (m *Monitor) SetOnPromptIdle(fn func(sessionID string)) { m.onPromptIdle = fn }

// SetAfterSweep registers a hook run after each Run tick.
func (m *Monitor) SetAfterSweep(fn func()) { m.afterSweep = fn }

// AwaitingPermission reports whether the session's latest pane content is a
// permission prompt. The recovery engine refuses to flush while this holds.
func (m *Monitor) AwaitingPermission(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[id]
	return st != nil && st.awaitingPermission
}

// Forget drops monitoring state for a session. Called on delete.
func (m *Monitor) Forget(id string) {
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
			if m.afterSweep != nil {
				m.afterSweep()
			}
		}
	}
}

// Sweep runs one classification pass over every RUNNING session, plus
// prompt-signature sessions still waiting to go idle.
func (m *Monitor) Sweep() {
	for _, s := range m.reg.List() {
		promptWatch := s.Capabilities().IdleDetection == session.IdleByPromptSignature &&
			(s.Status == session.StatusCreated || s.Status == session.StatusRunning)
		if s.Status != session.StatusRunning && !promptWatch {
			continue
		}
		m.poll(s, promptWatch)
	}
}

func (m *Monitor) poll(s session.Session, promptWatch bool) {
	capture, err := m.term.CapturePane(s.Pane(), constants.CaptureLines)
	if err != nil {
		m.logger.Printf("Warning: capturing %s: %v", s.Pane(), err)
		return
	}

	m.mu.Lock()
	st := m.states[s.ID]
	if st == nil {
		st = &paneState{
			lastContent:  capture,
			lastChangeAt: m.now(),
			permSeen:     make(map[uint32]bool),
		}
		m.states[s.ID] = st
		// First observation is a baseline, not news, but a visible
		// prompt still counts toward the idle streak.
		if promptWatch && promptSignature(capture) {
			st.promptStreak = 1
		}
		m.mu.Unlock()
		return
	}

	changed := capture != st.lastContent
	if changed {
		st.lastContent = capture
		st.lastChangeAt = m.now()
		st.idleFired = false
		st.awaitingPermission = false
	}

	// Ordered classification. Crash outranks everything; a crash dump can
	// contain text that pattern-matches a prompt or a completion line.
	if changed && MatchCrash(capture) {
		m.mu.Unlock()
		if m.onCrash != nil {
			m.onCrash(s.ID, capture)
		}
		return
	}

	if prompt := MatchPermissionPrompt(capture); prompt != "" {
		st.awaitingPermission = true
		h := hashPrompt(prompt)
		first := !st.permSeen[h]
		st.permSeen[h] = true
		m.mu.Unlock()
		if first && m.onPermissionPrompt != nil {
			m.onPermissionPrompt(s.ID, prompt)
		}
		return
	}

	if promptWatch {
		if promptSignature(capture) {
			st.promptStreak++
		} else {
			st.promptStreak = 0
		}
		if st.promptStreak >= 2 {
			st.promptStreak = 0
			m.mu.Unlock()
			if m.onPromptIdle != nil {
				m.onPromptIdle(s.ID)
			}
			return
		}
	}

	if changed {
		if line := MatchCompletion(capture); line != "" {
			m.logger.Printf("session %s completion heuristic: %q", s.ID, line)
		}
		m.mu.Unlock()
		return
	}

	// Silence. Strictly greater-than, one-shot per activity span.
	silent := m.now().Sub(st.lastChangeAt)
	if silent > m.idleTimeout && !st.idleFired {
		st.idleFired = true
		m.mu.Unlock()
		if m.onIdleSilence != nil {
			m.onIdleSilence(s.ID)
		}
		return
	}
	m.mu.Unlock()
}

func hashPrompt(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// promptSignature reports whether the capture's last non-empty line is an
// input prompt.
func promptSignature(capture string) bool {
	lines := strings.Split(capture, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		return l == ">" || strings.HasPrefix(l, "> ")
	}
	return false
}
