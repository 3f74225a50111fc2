package queue

import (
	"strings"
	"testing"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/session"
)

func TestWatchFiresOnIdleWithPrompt(t *testing.T) {
	q, reg, term := newTestQueue(t)
	target := mustCreate(t, reg, "worker")
	watcher := mustCreate(t, reg, "overseer")

	q.MarkSessionIdle(target.ID, false)
	term.SetPane(target.Pane(), "all done\n> ")

	q.Watch(target.ID, watcher.ID, time.Minute)

	waitFor(t, "idle notification", func() bool {
		return q.PendingCount(watcher.ID) > 0
	})
	pending := q.Pending(watcher.ID)
	if !strings.Contains(pending[0].Text, "is idle") {
		t.Errorf("watch message = %q", pending[0].Text)
	}
}

func TestWatchSuppressedWithoutPrompt(t *testing.T) {
	q, reg, term := newTestQueue(t)
	target := mustCreate(t, reg, "worker")

	q.MarkSessionIdle(target.ID, false)
	// Idle flag set but the pane shows mid-turn output, not a prompt.
	term.SetPane(target.Pane(), "still streaming tokens")

	consecutive := 0
	if fired := q.watchPoll(target.ID, &consecutive); fired {
		t.Error("poll fired without a visible prompt")
	}
}

func TestWatchPendingMessagesNeedTwoSightings(t *testing.T) {
	q, reg, term := newTestQueue(t)
	target := mustCreate(t, reg, "worker")
	sender := mustCreate(t, reg, "alice")

	q.MarkSessionIdle(target.ID, false)
	term.SetPane(target.Pane(), "> ")
	// A pending important message means a delivery may be about to land;
	// one prompt sighting is not proof of real idleness.
	st := q.state(target.ID, true)
	stripe := q.stripeFor(target.ID)
	stripe.Lock()
	st.pending = append(st.pending, &Message{TargetID: target.ID, SenderID: sender.ID, Text: "x", Mode: ModeSequential})
	stripe.Unlock()

	consecutive := 0
	if fired := q.watchPoll(target.ID, &consecutive); fired {
		t.Fatal("fired on first sighting with messages pending")
	}
	if fired := q.watchPoll(target.ID, &consecutive); !fired {
		t.Fatal("second consecutive sighting should fire")
	}
}

func TestWatchCodexPromptNeedsTwoSightings(t *testing.T) {
	q, reg, term := newTestQueue(t)
	target, err := reg.Create(session.CreateOptions{
		WorkingDir:   "/tmp",
		FriendlyName: "codex-worker",
		Provider:     session.ProviderCodexTmux,
	})
	if err != nil {
		t.Fatal(err)
	}
	term.SetPane(target.Pane(), "> ")

	consecutive := 0
	if fired := q.watchPoll(target.ID, &consecutive); fired {
		t.Fatal("codex prompt fired on first sighting")
	}
	if fired := q.watchPoll(target.ID, &consecutive); !fired {
		t.Fatal("codex prompt should fire on second consecutive sighting")
	}
}

func TestWatchTimeout(t *testing.T) {
	q, reg, term := newTestQueue(t)
	target := mustCreate(t, reg, "worker")
	watcher := mustCreate(t, reg, "overseer")
	term.SetPane(target.Pane(), "busy busy")
	if err := reg.MarkActive(target.ID); err != nil {
		t.Fatal(err)
	}

	q.Watch(target.ID, watcher.ID, 0)

	waitFor(t, "timeout notification", func() bool {
		return q.PendingCount(watcher.ID) > 0
	})
	pending := q.Pending(watcher.ID)
	if !strings.Contains(pending[0].Text, "timed out") {
		t.Errorf("watch message = %q", pending[0].Text)
	}
}

func TestWatchFiresWhenPaneGone(t *testing.T) {
	q, reg, term := newTestQueue(t)
	target := mustCreate(t, reg, "worker")
	if err := term.KillPane(target.Pane()); err != nil {
		t.Fatal(err)
	}

	consecutive := 0
	if fired := q.watchPoll(target.ID, &consecutive); !fired {
		t.Error("missing pane should fire the watcher")
	}
}

func TestCancelWatchers(t *testing.T) {
	q, reg, _ := newTestQueue(t)
	target := mustCreate(t, reg, "worker")
	watcher := mustCreate(t, reg, "overseer")
	if err := reg.MarkActive(target.ID); err != nil {
		t.Fatal(err)
	}

	q.Watch(target.ID, watcher.ID, time.Hour)
	q.CancelWatchersFor(target.ID)

	waitFor(t, "watcher teardown", func() bool {
		q.watchMu.Lock()
		defer q.watchMu.Unlock()
		return len(q.watchers[target.ID]) == 0
	})
	if n := q.PendingCount(watcher.ID); n != 0 {
		t.Errorf("cancelled watcher still fired: %d pending", n)
	}
}
