package monitor

import (
	"context"
	"io"
	"log"
	"path/filepath"
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

func newTestMonitor(t *testing.T) (*Monitor, *session.Registry, *tmux.FakeAdapter, *fakeClock) {
	t.Helper()
	dir := t.TempDir()
	store := session.NewStore(filepath.Join(dir, "state.json"), filepath.Join(dir, "state.lock"))
	term := tmux.NewFakeAdapter()
	logger := log.New(io.Discard, "", 0)
	reg := session.NewRegistry(store, term, logger)
	m := New(reg, term, logger)
	clk := newFakeClock()
	m.SetClock(clk.Now)
	return m, reg, term, clk
}

func runningSession(t *testing.T, reg *session.Registry) session.Session {
	t.Helper()
	s, err := reg.Create(session.CreateOptions{WorkingDir: "/tmp", FriendlyName: "worker"})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkActive(s.ID); err != nil {
		t.Fatal(err)
	}
	s2, _ := reg.Get(s.ID)
	return s2
}

func TestCrashSignatureFires(t *testing.T) {
	m, reg, term, _ := newTestMonitor(t)
	s := runningSession(t, reg)

	var crashed []string
	m.SetOnCrash(func(id, capture string) { crashed = append(crashed, id) })

	term.SetPane(s.Pane(), "working on it")
	m.Sweep() // baseline
	term.SetPane(s.Pane(), "working on it\nRangeError: Maximum call stack size exceeded")
	m.Sweep()

	if len(crashed) != 1 || crashed[0] != s.ID {
		t.Errorf("crash events = %v, want one for %s", crashed, s.ID)
	}

	// Same content again: no change, no re-fire from the monitor side.
	m.Sweep()
	if len(crashed) != 1 {
		t.Errorf("crash re-fired on unchanged content: %v", crashed)
	}
}

func TestPermissionPromptDebouncedByHash(t *testing.T) {
	m, reg, term, _ := newTestMonitor(t)
	s := runningSession(t, reg)

	var prompts []string
	m.SetOnPermissionPrompt(func(id, prompt string) { prompts = append(prompts, prompt) })

	term.SetPane(s.Pane(), "booting")
	m.Sweep()
	term.SetPane(s.Pane(), "Do you want to proceed with this change?\n❯ 1. Yes")
	m.Sweep()
	m.Sweep() // same prompt still on screen

	if len(prompts) != 1 {
		t.Fatalf("prompt notifications = %d, want 1", len(prompts))
	}
	if !m.AwaitingPermission(s.ID) {
		t.Error("awaiting-permission not set while prompt is on screen")
	}

	// Fresh content clears the gate.
	term.SetPane(s.Pane(), "ok, running the command now")
	m.Sweep()
	if m.AwaitingPermission(s.ID) {
		t.Error("awaiting-permission survived new pane content")
	}

	// A different prompt fires again.
	term.SetPane(s.Pane(), "Do you want to run this command?\n❯ 1. Yes")
	m.Sweep()
	if len(prompts) != 2 {
		t.Errorf("prompt notifications = %d, want 2", len(prompts))
	}
}

func TestIdleSilenceOneShot(t *testing.T) {
	m, reg, term, clk := newTestMonitor(t)
	s := runningSession(t, reg)

	var idles int
	m.SetOnIdleSilence(func(string) { idles++ })

	term.SetPane(s.Pane(), "thinking...")
	m.Sweep() // baseline

	// At exactly the timeout nothing fires: strictly greater-than.
	clk.Advance(300 * time.Second)
	m.Sweep()
	if idles != 0 {
		t.Fatal("silence fired at exactly the threshold")
	}

	clk.Advance(time.Second)
	m.Sweep()
	if idles != 1 {
		t.Fatalf("silence notifications = %d, want 1", idles)
	}

	// Latched until new activity.
	clk.Advance(time.Hour)
	m.Sweep()
	if idles != 1 {
		t.Fatalf("silence re-fired while latched: %d", idles)
	}

	// New output re-arms the one-shot.
	term.SetPane(s.Pane(), "back to work")
	m.Sweep()
	clk.Advance(302 * time.Second)
	m.Sweep()
	if idles != 2 {
		t.Errorf("silence notifications = %d, want 2 after re-arm", idles)
	}
}

func TestOnlyRunningSessionsPolled(t *testing.T) {
	m, reg, term, _ := newTestMonitor(t)
	s, err := reg.Create(session.CreateOptions{WorkingDir: "/tmp"})
	if err != nil {
		t.Fatal(err)
	}
	// Still CREATED: a sweep must not classify it.
	var crashed int
	m.SetOnCrash(func(string, string) { crashed++ })
	term.SetPane(s.Pane(), "panic: runtime error")
	m.Sweep()
	m.Sweep()
	if crashed != 0 {
		t.Errorf("non-running session classified %d times", crashed)
	}
}

func codexSession(t *testing.T, reg *session.Registry) session.Session {
	t.Helper()
	s, err := reg.Create(session.CreateOptions{WorkingDir: "/tmp", Provider: session.ProviderCodexTmux})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPromptSignatureNeedsTwoSightings(t *testing.T) {
	m, reg, term, _ := newTestMonitor(t)
	s := codexSession(t, reg) // still CREATED: hookless sessions are watched anyway

	var idled []string
	m.SetOnPromptIdle(func(id string) { idled = append(idled, id) })

	term.SetPane(s.Pane(), "tokens used: 1234\n> ")
	m.Sweep()
	if len(idled) != 0 {
		t.Fatal("prompt idle fired on a single sighting")
	}
	m.Sweep()
	if len(idled) != 1 || idled[0] != s.ID {
		t.Fatalf("prompt idle events = %v, want one for %s", idled, s.ID)
	}
}

func TestPromptStreakResetByOutput(t *testing.T) {
	m, reg, term, _ := newTestMonitor(t)
	s := codexSession(t, reg)
	if err := reg.MarkActive(s.ID); err != nil {
		t.Fatal(err)
	}

	var idles int
	m.SetOnPromptIdle(func(string) { idles++ })

	term.SetPane(s.Pane(), "> ")
	m.Sweep()
	// Output resumed between sightings: not idle after all.
	term.SetPane(s.Pane(), "running tests...")
	m.Sweep()
	term.SetPane(s.Pane(), "running tests...\n> ")
	m.Sweep()
	if idles != 0 {
		t.Fatalf("prompt idle fired across an interrupted streak: %d", idles)
	}
	m.Sweep()
	if idles != 1 {
		t.Errorf("prompt idle events = %d, want 1", idles)
	}
}

func TestStopHookProvidersIgnorePromptSignature(t *testing.T) {
	m, reg, term, _ := newTestMonitor(t)
	s := runningSession(t, reg)

	var idles int
	m.SetOnPromptIdle(func(string) { idles++ })

	term.SetPane(s.Pane(), "> ")
	m.Sweep()
	m.Sweep()
	m.Sweep()
	if idles != 0 {
		t.Errorf("prompt idle fired for a stop-hook provider: %d", idles)
	}
}

func TestRunDrivesAfterSweep(t *testing.T) {
	m, _, _, _ := newTestMonitor(t)
	m.SetInterval(5 * time.Millisecond)

	fired := make(chan struct{})
	var once sync.Once
	m.SetAfterSweep(func() { once.Do(func() { close(fired) }) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("after-sweep hook never ran")
	}
}

func TestMatchPermissionPromptIgnoresScrollback(t *testing.T) {
	old := "Do you want to proceed with this change?\n"
	var filler string
	for i := 0; i < 30; i++ {
		filler += "tool output line\n"
	}
	if got := MatchPermissionPrompt(old + filler); got != "" {
		t.Errorf("matched stale prompt in scrollback: %q", got)
	}
}
