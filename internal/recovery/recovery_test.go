package recovery

import (
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *session.Registry, *tmux.FakeAdapter, *fakeClock) {
	t.Helper()
	dir := t.TempDir()
	store := session.NewStore(filepath.Join(dir, "state.json"), filepath.Join(dir, "state.lock"))
	term := tmux.NewFakeAdapter()
	logger := log.New(io.Discard, "", 0)
	reg := session.NewRegistry(store, term, logger)
	e := New(reg, term, logger)
	clk := newFakeClock()
	e.SetClock(clk.Now)
	e.SetSleep(func(time.Duration) {})
	return e, reg, term, clk
}

func mustCreate(t *testing.T, reg *session.Registry, provider session.Provider) session.Session {
	t.Helper()
	s, err := reg.Create(session.CreateOptions{WorkingDir: "/tmp", Provider: provider})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func recoveries(term *tmux.FakeAdapter, pane string) int {
	n := 0
	for _, op := range term.SentOps() {
		if strings.HasPrefix(op, "text:"+pane+":claude") {
			n++
		}
	}
	return n
}

func TestDeferredRecoveryWhileRunning(t *testing.T) {
	e, reg, term, _ := newTestEngine(t)
	s := mustCreate(t, reg, session.ProviderClaude)
	if err := reg.MarkActive(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := reg.Update(s.ID, func(ss *session.Session) { ss.ResumeToken = "tok-123" }); err != nil {
		t.Fatal(err)
	}

	e.HandleCrash(s.ID, "RangeError: Maximum call stack size exceeded")
	if n := recoveries(term, s.Pane()); n != 0 {
		t.Fatalf("recovery ran while session RUNNING (%d launches)", n)
	}
	if got := e.Pending(); len(got) != 1 || got[0] != s.ID {
		t.Fatalf("pending = %v", got)
	}

	// Idle transition flushes exactly one recovery.
	if err := reg.MarkIdle(s.ID); err != nil {
		t.Fatal(err)
	}
	e.Flush(s.ID)
	if n := recoveries(term, s.Pane()); n != 1 {
		t.Fatalf("recoveries = %d, want 1", n)
	}

	var resumed bool
	for _, op := range term.SentOps() {
		if op == "text:"+s.Pane()+":claude --resume tok-123" {
			resumed = true
		}
	}
	if !resumed {
		t.Error("resume token not used in relaunch")
	}

	// Second flush is a no-op.
	e.Flush(s.ID)
	if n := recoveries(term, s.Pane()); n != 1 {
		t.Errorf("flush re-ran recovery: %d", n)
	}
}

func TestCrashChunksDebouncedAfterSuccess(t *testing.T) {
	e, reg, term, clk := newTestEngine(t)
	s := mustCreate(t, reg, session.ProviderClaude)
	if err := reg.MarkIdle(s.ID); err != nil {
		t.Fatal(err)
	}

	e.HandleCrash(s.ID, "panic: boom")
	if n := recoveries(term, s.Pane()); n != 1 {
		t.Fatalf("recoveries = %d, want 1", n)
	}

	// More dump chunks inside the success cooldown are swallowed. The
	// session is RUNNING again post-recovery, so without the cooldown
	// these would re-park it as pending.
	clk.Advance(10 * time.Second)
	e.HandleCrash(s.ID, "panic: boom (chunk 2)")
	e.HandleCrash(s.ID, "panic: boom (chunk 3)")
	if n := recoveries(term, s.Pane()); n != 1 {
		t.Errorf("recoveries = %d, want 1 within cooldown", n)
	}
	if len(e.Pending()) != 0 {
		t.Errorf("cooldown-suppressed crash still parked: %v", e.Pending())
	}
}

func TestProviderGate(t *testing.T) {
	e, reg, term, _ := newTestEngine(t)
	s := mustCreate(t, reg, session.ProviderCodexTmux)
	if err := reg.MarkIdle(s.ID); err != nil {
		t.Fatal(err)
	}

	e.HandleCrash(s.ID, "panic: boom")
	if n := recoveries(term, s.Pane()); n != 0 {
		t.Errorf("non-claude provider recovered (%d launches)", n)
	}
	if len(e.Pending()) != 0 {
		t.Errorf("non-claude provider parked: %v", e.Pending())
	}
}

func TestFlushRefusedWhileAwaitingPermission(t *testing.T) {
	e, reg, term, _ := newTestEngine(t)
	s := mustCreate(t, reg, session.ProviderClaude)
	if err := reg.MarkActive(s.ID); err != nil {
		t.Fatal(err)
	}
	e.HandleCrash(s.ID, "panic: boom")

	awaiting := true
	e.SetAwaitingPermission(func(string) bool { return awaiting })

	if err := reg.MarkIdle(s.ID); err != nil {
		t.Fatal(err)
	}
	e.Flush(s.ID)
	if n := recoveries(term, s.Pane()); n != 0 {
		t.Fatal("flushed while a permission prompt was on screen")
	}

	awaiting = false
	e.Flush(s.ID)
	if n := recoveries(term, s.Pane()); n != 1 {
		t.Errorf("recoveries = %d, want 1 after prompt cleared", n)
	}
}

func TestFailedRecoveryRetriesAfterCooldown(t *testing.T) {
	e, reg, term, clk := newTestEngine(t)
	s := mustCreate(t, reg, session.ProviderClaude)
	if err := reg.MarkIdle(s.ID); err != nil {
		t.Fatal(err)
	}

	term.SendErr = tmux.ErrPaneNotFound
	e.HandleCrash(s.ID, "panic: boom")
	if len(e.Pending()) != 1 {
		t.Fatalf("failed recovery not re-parked: %v", e.Pending())
	}

	// Inside the failure cooldown the sweep does nothing.
	term.SendErr = nil
	e.RetrySweep()
	if n := recoveries(term, s.Pane()); n != 0 {
		t.Fatal("retried inside failure cooldown")
	}

	clk.Advance(6 * time.Second)
	e.RetrySweep()
	if n := recoveries(term, s.Pane()); n != 1 {
		t.Errorf("recoveries = %d, want 1 after cooldown", n)
	}
}
