// Package review drives the codex provider's built-in /review command.
//
// In-pane modes script the provider's interactive review menu: the menu
// layout is fixed, so selection is a counted sequence of Down presses. The
// branch picker's arrow count is computed ahead of time from the repo's
// actual branch list. The pr mode never touches a pane; it posts a GitHub
// comment through the gh CLI and polls the reviews API.
package review

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/config"
	"github.com/xcawolfe-amzn/switchboard/internal/queue"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

// Request describes one review to start.
type Request struct {
	Mode   session.ReviewMode
	Base   string // branch mode: the base branch
	Commit string // commit mode: the commit sha
	Custom string // custom mode: free-form instructions
	Steer  string // optional steering text sent after the menu
}

// menuPosition is the review menu's fixed option order. Selection is this
// many Down presses from the top.
var menuPosition = map[session.ReviewMode]int{
	session.ReviewBranch:      0,
	session.ReviewUncommitted: 1,
	session.ReviewCommit:      2,
	session.ReviewCustom:      3,
}

// Orchestrator starts reviews on codex sessions.
type Orchestrator struct {
	reg    *session.Registry
	q      *queue.Queue
	term   tmux.Adapter
	logger *log.Logger

	menuSettle   time.Duration
	branchSettle time.Duration
	steerDelay   time.Duration

	sleep func(time.Duration)

	// listBranches enumerates local branches of a working dir, current
	// branch first the way the provider's picker orders them.
	listBranches func(workDir string) ([]string, error)

	// runGH executes the gh CLI. Swapped out in tests.
	runGH func(ctx context.Context, args ...string) (string, error)
}

// New creates a review orchestrator with pacing from cfg.
func New(reg *session.Registry, q *queue.Queue, term tmux.Adapter, cfg config.ReviewConfig, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		reg:          reg,
		q:            q,
		term:         term,
		logger:       logger,
		menuSettle:   time.Duration(cfg.MenuSettleSeconds * float64(time.Second)),
		branchSettle: time.Duration(cfg.BranchSettleSeconds * float64(time.Second)),
		steerDelay:   time.Duration(cfg.SteerDelaySeconds * float64(time.Second)),
		sleep:        time.Sleep,
		listBranches: gitBranches,
		runGH:        runGHCommand,
	}
}

// SetSleep overrides the orchestrator's sleeper. Test hook.
func (o *Orchestrator) SetSleep(sleep func(time.Duration)) { o.sleep = sleep }

// SetBranchLister overrides branch enumeration. Test hook.
func (o *Orchestrator) SetBranchLister(fn func(workDir string) ([]string, error)) {
	o.listBranches = fn
}

// SetGHRunner overrides the gh CLI executor. Test hook.
func (o *Orchestrator) SetGHRunner(fn func(ctx context.Context, args ...string) (string, error)) {
	o.runGH = fn
}

// Start launches an in-pane review on a codex session and persists the
// review config. watcherID, when non-empty, registers a watch on the
// session after it is marked active, so the watcher sees the review run
// rather than the prior idle baseline.
func (o *Orchestrator) Start(sessionID string, req Request, watcherID string, watchTimeout time.Duration) error {
	sess, err := o.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if req.Mode == session.ReviewPR {
		return fmt.Errorf("pr reviews are off-pane; use StartPR")
	}
	if _, ok := menuPosition[req.Mode]; !ok {
		return fmt.Errorf("unknown review mode %q", req.Mode)
	}
	if sess.Capabilities().IdleDetection != session.IdleByPromptSignature {
		return fmt.Errorf("session %s provider %s has no /review command", sessionID, sess.Provider)
	}

	// Arrow count for the branch picker is computed before any keystroke
	// goes out; failing here leaves the pane untouched.
	branchDowns := 0
	if req.Mode == session.ReviewBranch {
		branchDowns, err = o.branchOffset(sess.WorkingDir, req.Base)
		if err != nil {
			return err
		}
	}

	// Active before any watcher: a watcher registered against the old
	// idle baseline fires immediately.
	if err := o.reg.MarkActive(sessionID); err != nil {
		return err
	}
	o.q.MarkBusy(sessionID)
	if watcherID != "" {
		o.q.Watch(sessionID, watcherID, watchTimeout)
	}

	if err := o.driveMenu(sess.Pane(), req, branchDowns); err != nil {
		return fmt.Errorf("driving review menu on %s: %w", sess.Pane(), err)
	}

	cfg := &session.ReviewConfig{
		Mode:      req.Mode,
		Base:      req.Base,
		Commit:    req.Commit,
		Custom:    req.Custom,
		Steer:     req.Steer,
		Delivered: true,
	}
	return o.reg.Update(sessionID, func(s *session.Session) { s.Review = cfg })
}

// branchOffset computes how many Down presses reach base in the picker.
func (o *Orchestrator) branchOffset(workDir, base string) (int, error) {
	if base == "" {
		return 0, fmt.Errorf("branch review without a base branch")
	}
	branches, err := o.listBranches(workDir)
	if err != nil {
		return 0, fmt.Errorf("listing branches in %s: %w", workDir, err)
	}
	for i, b := range branches {
		if b == base {
			return i, nil
		}
	}
	return 0, fmt.Errorf("base branch %q not found in %s", base, workDir)
}

// driveMenu scripts the provider's review menu.
func (o *Orchestrator) driveMenu(pane string, req Request, branchDowns int) error {
	if err := o.term.SendText(pane, "/review"); err != nil {
		return err
	}
	o.sleep(o.menuSettle)

	for i := 0; i < menuPosition[req.Mode]; i++ {
		if err := o.term.SendRaw(pane, "Down"); err != nil {
			return err
		}
	}
	if err := o.term.SendRaw(pane, "Enter"); err != nil {
		return err
	}

	switch req.Mode {
	case session.ReviewBranch:
		o.sleep(o.branchSettle)
		for i := 0; i < branchDowns; i++ {
			if err := o.term.SendRaw(pane, "Down"); err != nil {
				return err
			}
		}
		if err := o.term.SendRaw(pane, "Enter"); err != nil {
			return err
		}
	case session.ReviewCommit:
		o.sleep(o.menuSettle)
		if err := o.term.SendText(pane, req.Commit); err != nil {
			return err
		}
	case session.ReviewCustom:
		o.sleep(o.menuSettle)
		if err := o.term.SendText(pane, req.Custom); err != nil {
			return err
		}
	}

	if req.Steer != "" {
		o.sleep(o.steerDelay)
		if err := o.term.SendText(pane, req.Steer); err != nil {
			return err
		}
	}
	return nil
}

// gitBranches lists local branches, current first, matching the order the
// provider's branch picker presents.
func gitBranches(workDir string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "-C", workDir,
		"branch", "--format=%(refname:short)", "--sort=-HEAD")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git branch: %w", err)
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}
