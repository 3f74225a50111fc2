// Package coordinator assembles the switchboard: registry, queue, monitor,
// recovery, reminders, reviews, hooks, and the RPC surface that exposes them.
//
// Exactly one coordinator instance runs per state directory, enforced by a
// file lock. Startup order matters: reconcile the snapshot, bind the RPC
// port, and only then touch the forum. A second instance losing the port
// race must not have deleted threads the winner still needs.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/xcawolfe-amzn/switchboard/internal/audit"
	"github.com/xcawolfe-amzn/switchboard/internal/config"
	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/forum"
	"github.com/xcawolfe-amzn/switchboard/internal/hookevent"
	"github.com/xcawolfe-amzn/switchboard/internal/monitor"
	"github.com/xcawolfe-amzn/switchboard/internal/queue"
	"github.com/xcawolfe-amzn/switchboard/internal/recovery"
	"github.com/xcawolfe-amzn/switchboard/internal/remind"
	"github.com/xcawolfe-amzn/switchboard/internal/review"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
	"github.com/xcawolfe-amzn/switchboard/internal/worklock"
)

// forumSendTimeout bounds one best-effort forum call.
const forumSendTimeout = 10 * time.Second

// spawnPromptWait bounds how long a fresh pane gets to show its prompt
// before the spawn prompt is sent anyway.
const spawnPromptWait = 30 * time.Second

// Coordinator owns every subsystem and the wiring between them.
type Coordinator struct {
	cfg    *config.Config
	logger *log.Logger

	term     tmux.Adapter
	store    *session.Store
	reg      *session.Registry
	q        *queue.Queue
	auditlog *audit.Store
	locks    *worklock.Manager
	hooks    *hookevent.Processor
	mon      *monitor.Monitor
	rec      *recovery.Engine
	sched    *remind.Scheduler
	reviews  *review.Orchestrator
	notifier forum.Notifier

	startedAt time.Time
}

// New builds a coordinator over the given terminal and forum backends.
// The terminal and notifier are parameters so tests can substitute fakes.
func New(cfg *config.Config, term tmux.Adapter, notifier forum.Notifier, logger *log.Logger) (*Coordinator, error) {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	auditlog, err := audit.Open(cfg.AuditPath())
	if err != nil {
		return nil, err
	}

	store := session.NewStore(cfg.SnapshotPath(), cfg.SnapshotLockPath())
	reg := session.NewRegistry(store, term, logger)
	q := queue.New(reg, term, logger)
	q.SetTiming(queue.Timing{
		SkipFenceWindow:   time.Duration(cfg.SkipFenceWindowSeconds) * time.Second,
		InputPollInterval: time.Duration(cfg.InputPollSeconds) * time.Second,
		InputStaleTimeout: time.Duration(cfg.InputStaleSeconds) * time.Second,
		WatchPollInterval: time.Duration(cfg.WatchPollSeconds) * time.Second,
	})
	locks := worklock.NewManager()
	hooks := hookevent.NewProcessor(reg, q, auditlog, locks, logger)
	mon := monitor.New(reg, term, logger)
	mon.SetIdleTimeout(time.Duration(cfg.IdleTimeoutSeconds) * time.Second)
	mon.SetInterval(time.Duration(cfg.MonitorPollSeconds) * time.Second)
	rec := recovery.New(reg, term, logger)
	sched := remind.NewScheduler(reg, q, auditlog, logger)
	reviews := review.New(reg, q, term, cfg.Review, logger)

	c := &Coordinator{
		cfg:      cfg,
		logger:   logger,
		term:     term,
		store:    store,
		reg:      reg,
		q:        q,
		auditlog: auditlog,
		locks:    locks,
		hooks:    hooks,
		mon:      mon,
		rec:      rec,
		sched:    sched,
		reviews:  reviews,
		notifier: notifier,
	}
	c.wire()
	return c, nil
}

// wire connects the subsystem callbacks. All cross-subsystem flow goes
// through here so the dependency graph is visible in one place.
func (c *Coordinator) wire() {
	// A real idle transition ends the turn: reminders and parent-wakes for
	// the session are done, and deferred crash recovery may proceed.
	c.q.SetOnRealIdle(func(id string) {
		c.sched.CancelRemind(id)
		c.sched.CancelParentWakeForChild(id)
		c.rec.Flush(id)
	})
	c.q.SetHandoffRunner(c.runHandoff)

	c.hooks.SetOnCompactDone(c.sched.ResetRemind)
	c.hooks.SetOnStopMessage(c.forwardStopMessage)

	c.mon.SetOnCrash(c.rec.HandleCrash)
	c.mon.SetOnPermissionPrompt(func(id, prompt string) {
		c.postToThread(id, "[permission] waiting for approval:\n"+prompt)
	})
	c.mon.SetOnIdleSilence(func(id string) {
		c.postToThread(id, "[idle] no pane output for a while; the agent may be stuck.")
		c.rec.Flush(id)
	})
	// Hookless providers have no stop hook; the monitor's confirmed
	// prompt-signature sighting is their idle transition.
	c.mon.SetOnPromptIdle(func(id string) {
		c.q.MarkSessionIdle(id, false)
	})
	// Failed recoveries wait out their cooldown on the monitor's cadence.
	c.mon.SetAfterSweep(c.rec.RetrySweep)

	c.rec.SetAwaitingPermission(c.mon.AwaitingPermission)
}

// Run reconciles persisted state, binds the RPC listener, and serves until
// the context is canceled. Forum side effects are deferred until the bind
// succeeds.
func (c *Coordinator) Run(ctx context.Context) error {
	instance := flock.New(c.cfg.CoordinatorLockPath())
	locked, err := instance.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another coordinator holds %s", c.cfg.CoordinatorLockPath())
	}
	defer instance.Unlock()

	orphans, err := c.reconcile()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		// Losing the port race means another instance is live. Exit without
		// side effects; the winner owns the forum threads.
		return fmt.Errorf("binding %s: %w", c.cfg.ListenAddr, err)
	}
	c.startedAt = time.Now()
	c.logger.Printf("listening on %s", ln.Addr())

	// The pruned snapshot is written only now: a loser of the bind race
	// must not rewrite state the winner still owns.
	c.reg.Persist()

	c.settleForum(ctx, orphans)
	c.rec.RetrySweep()
	c.sched.Resume()
	go c.mon.Run(ctx)

	srv := &http.Server{Handler: c.routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	c.auditlog.Close()
	return nil
}

// runHandoff executes a chained continuation: the handoff file's content
// becomes the session's next prompt.
func (c *Coordinator) runHandoff(id, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Printf("Warning: reading handoff %s for %s: %v", path, id, err)
		return
	}
	s, err := c.reg.Get(id)
	if err != nil {
		return
	}
	if err := c.term.SendText(s.Pane(), strings.TrimSpace(string(data))); err != nil {
		c.logger.Printf("Warning: delivering handoff to %s: %v", id, err)
		return
	}
	if err := c.reg.MarkActive(id); err != nil {
		c.logger.Printf("Warning: marking %s active after handoff: %v", id, err)
	}
}

// forwardStopMessage mirrors a session's final turn message to its forum
// thread. Best effort.
func (c *Coordinator) forwardStopMessage(id, text string) {
	c.postToThread(id, text)
}

// postToThread sends text to a session's forum thread, if it has one.
// Failures are logged, never propagated.
func (c *Coordinator) postToThread(id, text string) {
	s, err := c.reg.Get(id)
	if err != nil || s.ForumChatID == 0 || s.ForumThreadID == 0 {
		return
	}
	if len(text) > 4000 {
		text = text[:4000] + "\n[truncated]"
	}
	ctx, cancel := context.WithTimeout(context.Background(), forumSendTimeout)
	defer cancel()
	if err := c.notifier.Send(ctx, s.ForumChatID, s.ForumThreadID, text, 0); err != nil {
		c.logger.Printf("Warning: forum send for %s: %v", id, err)
	}
}

// sendSpawnPrompt waits for a fresh pane to show its prompt, then sends the
// session's spawn prompt. Runs in its own goroutine.
func (c *Coordinator) sendSpawnPrompt(s session.Session) {
	deadline := time.Now().Add(spawnPromptWait)
	for time.Now().Before(deadline) && !c.paneAtPrompt(s.Pane()) {
		time.Sleep(constants.PollInterval)
	}
	if err := c.term.SendText(s.Pane(), s.SpawnPrompt); err != nil {
		c.logger.Printf("Warning: sending spawn prompt to %s: %v", s.ID, err)
		return
	}
	if err := c.reg.MarkActive(s.ID); err != nil {
		c.logger.Printf("Warning: marking %s active after spawn prompt: %v", s.ID, err)
	}
}

// paneAtPrompt reports whether the pane's last non-empty line looks like an
// input prompt.
func (c *Coordinator) paneAtPrompt(pane string) bool {
	lines, err := c.term.CapturePaneLines(pane, 5)
	if err != nil {
		return false
	}
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		return l == ">" || strings.HasPrefix(l, "> ")
	}
	return false
}
