// Package recovery restarts crashed agent processes with a resume token.
//
// Recovery is never immediate for a busy session: a crash signature seen
// while the session is RUNNING is parked in a pending set and flushed on
// the next idle transition. Crash dumps arrive over several captures, so
// detections are debounced with per-session cooldowns.
package recovery

import (
	"log"
	"sync"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

// Engine is the crash-recovery state machine.
type Engine struct {
	reg    *session.Registry
	term   tmux.Adapter
	logger *log.Logger

	now   func() time.Time
	sleep func(time.Duration)

	// awaitingPermission blocks flushes while a permission prompt is on
	// screen; answering it is about to produce new output, and recovery
	// would destroy the prompt. Wired to the monitor.
	awaitingPermission func(sessionID string) bool

	mu            sync.Mutex
	cooldownUntil map[string]time.Time
	pending       map[string]bool
}

// New creates a recovery engine.
func New(reg *session.Registry, term tmux.Adapter, logger *log.Logger) *Engine {
	return &Engine{
		reg:           reg,
		term:          term,
		logger:        logger,
		now:           time.Now,
		sleep:         time.Sleep,
		cooldownUntil: make(map[string]time.Time),
		pending:       make(map[string]bool),
	}
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetSleep overrides the engine's sleeper. Test hook.
func (e *Engine) SetSleep(sleep func(time.Duration)) { e.sleep = sleep }

// SetAwaitingPermission wires the monitor's permission gate.
func (e *Engine) SetAwaitingPermission(fn func(sessionID string) bool) {
	e.awaitingPermission = fn
}

// Pending returns the sessions parked for deferred recovery.
func (e *Engine) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pending))
	for id := range e.pending {
		out = append(out, id)
	}
	return out
}

// AddPending parks a session for deferred recovery without a fresh
// detection. Used by the startup reconciler to restore persisted intent.
func (e *Engine) AddPending(id string) {
	e.mu.Lock()
	e.pending[id] = true
	e.mu.Unlock()
}

// Forget drops all recovery state for a session. Called on delete.
func (e *Engine) Forget(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	delete(e.cooldownUntil, id)
	e.mu.Unlock()
}

// HandleCrash processes a crash signature from the monitor.
//
// Only claude sessions carry a resume token worth recovering. A RUNNING
// session is parked for deferred recovery; anything else recovers now.
func (e *Engine) HandleCrash(id string, capture string) {
	s, err := e.reg.Get(id)
	if err != nil {
		return
	}
	if !s.Capabilities().SupportsResumeToken {
		e.logger.Printf("session %s crashed but provider %s has no resume path", id, s.Provider)
		return
	}

	e.mu.Lock()
	if until, ok := e.cooldownUntil[id]; ok && e.now().Before(until) {
		e.mu.Unlock()
		return
	}
	if s.Status == session.StatusRunning {
		e.pending[id] = true
		e.mu.Unlock()
		e.logger.Printf("session %s crash detected while running, deferring recovery", id)
		return
	}
	e.mu.Unlock()

	e.recover(s, true)
}

// Flush attempts a deferred recovery for a session that just transitioned
// to IDLE or STOPPED. Refuses while a permission prompt is on screen.
func (e *Engine) Flush(id string) {
	if e.awaitingPermission != nil && e.awaitingPermission(id) {
		return
	}
	e.mu.Lock()
	if !e.pending[id] {
		e.mu.Unlock()
		return
	}
	if until, ok := e.cooldownUntil[id]; ok && e.now().Before(until) {
		e.mu.Unlock()
		return
	}
	delete(e.pending, id)
	e.mu.Unlock()

	s, err := e.reg.Get(id)
	if err != nil {
		return
	}
	e.recover(s, true)
}

// RetrySweep re-attempts flushes whose failure cooldown has elapsed.
// Driven by the monitor loop.
func (e *Engine) RetrySweep() {
	for _, id := range e.Pending() {
		e.Flush(id)
	}
}

// recover resets the pane's agent process and relaunches it with the
// session's resume token.
func (e *Engine) recover(s session.Session, graceful bool) {
	pane := s.Pane()
	e.logger.Printf("recovering session %s (graceful=%v)", s.ID, graceful)

	var err error
	if graceful {
		err = e.term.SendText(pane, "/exit")
	} else {
		err = e.term.SendInterrupt(pane)
	}
	if err != nil {
		e.fail(s.ID, err)
		return
	}
	e.sleep(constants.InterruptSettleDelay)

	// The provider's nested-session guard rejects a resume from a shell
	// that still carries the variable.
	if err := e.term.SendText(pane, "unset "+constants.EnvClaudeCode); err != nil {
		e.fail(s.ID, err)
		return
	}

	resume := "claude"
	if s.ResumeToken != "" {
		resume = "claude --resume " + s.ResumeToken
	}
	if err := e.term.SendText(pane, resume); err != nil {
		e.fail(s.ID, err)
		return
	}

	e.mu.Lock()
	e.cooldownUntil[s.ID] = e.now().Add(constants.RecoveryCooldownSuccess)
	e.mu.Unlock()

	if err := e.reg.Update(s.ID, func(sess *session.Session) {
		sess.Status = session.StatusRunning
		sess.CompletionStatus = session.CompletionNone
	}); err != nil {
		e.logger.Printf("Warning: marking %s running after recovery: %v", s.ID, err)
	}
}

// fail records a failed attempt: short cooldown, back into the pending set.
func (e *Engine) fail(id string, err error) {
	e.logger.Printf("Warning: recovering %s: %v", id, err)
	e.mu.Lock()
	e.pending[id] = true
	e.cooldownUntil[id] = e.now().Add(constants.RecoveryCooldownFailure)
	e.mu.Unlock()
}
