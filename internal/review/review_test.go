package review

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/config"
	"github.com/xcawolfe-amzn/switchboard/internal/queue"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *session.Registry, *tmux.FakeAdapter) {
	t.Helper()
	dir := t.TempDir()
	store := session.NewStore(filepath.Join(dir, "state.json"), filepath.Join(dir, "state.lock"))
	term := tmux.NewFakeAdapter()
	logger := log.New(io.Discard, "", 0)
	reg := session.NewRegistry(store, term, logger)
	q := queue.New(reg, term, logger)
	q.SetSleep(func(time.Duration) {})
	o := New(reg, q, term, config.Default("").Review, logger)
	o.SetSleep(func(time.Duration) {})
	o.SetBranchLister(func(string) ([]string, error) {
		return []string{"feature/x", "main", "develop"}, nil
	})
	return o, reg, term
}

func codexSession(t *testing.T, reg *session.Registry) session.Session {
	t.Helper()
	s, err := reg.Create(session.CreateOptions{
		WorkingDir: "/repo",
		Provider:   session.ProviderCodexTmux,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// paneOps returns the fake's operations scoped to one pane, op:payload form.
// Env writes from session creation are pane setup, not review keystrokes.
func paneOps(term *tmux.FakeAdapter, pane string) []string {
	var out []string
	for _, op := range term.SentOps() {
		if strings.HasPrefix(op, "env:") {
			continue
		}
		if strings.Contains(op, ":"+pane+":") {
			parts := strings.SplitN(op, ":", 3)
			out = append(out, parts[0]+":"+parts[2])
		}
	}
	return out
}

func TestBranchReviewArrowCount(t *testing.T) {
	o, reg, term := newTestOrchestrator(t)
	s := codexSession(t, reg)

	err := o.Start(s.ID, Request{Mode: session.ReviewBranch, Base: "develop"}, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"text:/review",
		"raw:Enter", // branch mode is the top option
		"raw:Down",  // develop is third in the picker
		"raw:Down",
		"raw:Enter",
	}
	got := paneOps(term, s.Pane())
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	updated, _ := reg.Get(s.ID)
	if updated.Review == nil || updated.Review.Mode != session.ReviewBranch || !updated.Review.Delivered {
		t.Errorf("review config not persisted: %+v", updated.Review)
	}
	if updated.Status != session.StatusRunning {
		t.Errorf("status = %s, want RUNNING", updated.Status)
	}
}

func TestCustomReviewSendsInstructions(t *testing.T) {
	o, reg, term := newTestOrchestrator(t)
	s := codexSession(t, reg)

	err := o.Start(s.ID, Request{
		Mode:   session.ReviewCustom,
		Custom: "focus on error handling",
		Steer:  "ignore generated files",
	}, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	got := paneOps(term, s.Pane())
	want := []string{
		"text:/review",
		"raw:Down", "raw:Down", "raw:Down", // custom is the fourth option
		"raw:Enter",
		"text:focus on error handling",
		"text:ignore generated files",
	}
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUnknownBaseBranchLeavesPaneUntouched(t *testing.T) {
	o, reg, term := newTestOrchestrator(t)
	s := codexSession(t, reg)

	err := o.Start(s.ID, Request{Mode: session.ReviewBranch, Base: "nope"}, "", 0)
	if err == nil {
		t.Fatal("unknown base branch accepted")
	}
	if ops := paneOps(term, s.Pane()); len(ops) != 0 {
		t.Errorf("keystrokes sent despite failed branch lookup: %v", ops)
	}
}

func TestNonCodexProviderRefused(t *testing.T) {
	o, reg, _ := newTestOrchestrator(t)
	s, err := reg.Create(session.CreateOptions{WorkingDir: "/repo", Provider: session.ProviderClaude})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Start(s.ID, Request{Mode: session.ReviewUncommitted}, "", 0); err == nil {
		t.Error("claude session accepted for in-pane review")
	}
}

func TestStartPRPostsAndWaits(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	posted := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	calls := 0
	o.SetGHRunner(func(ctx context.Context, args ...string) (string, error) {
		calls++
		if strings.Contains(args[1], "/issues/") {
			return fmt.Sprintf(`{"id": 9001, "created_at": %q}`, posted.Format(time.RFC3339)), nil
		}
		// First poll: nothing yet. Second poll: the bot has reviewed.
		if calls <= 2 {
			return `[]`, nil
		}
		return fmt.Sprintf(`[{"user":{"login":"codex-bot"},"submitted_at":%q}]`,
			posted.Add(time.Minute).Format(time.RFC3339)), nil
	})

	res, err := o.StartPR(context.Background(), 42, "acme/widgets", "the locking code", true, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if res.CommentID != 9001 || !res.PostedAt.Equal(posted) {
		t.Errorf("result = %+v", res)
	}
	if calls < 3 {
		t.Errorf("gh calls = %d, want comment post plus at least two polls", calls)
	}
}

func TestStartPRNoWait(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	calls := 0
	o.SetGHRunner(func(ctx context.Context, args ...string) (string, error) {
		calls++
		return `{"id": 7, "created_at": "2026-02-20T10:00:00Z"}`, nil
	})
	res, err := o.StartPR(context.Background(), 7, "acme/widgets", "", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.CommentID != 7 {
		t.Errorf("comment id = %d", res.CommentID)
	}
	if calls != 1 {
		t.Errorf("gh calls = %d, want 1 without wait", calls)
	}
}
