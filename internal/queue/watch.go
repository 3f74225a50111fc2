package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
)

// watcher is one registered watch task.
type watcher struct {
	watcherID string
	cancel    context.CancelFunc
}

// Watch starts a polling task that messages watcherID when target goes idle
// or the timeout elapses. Returns immediately.
func (q *Queue) Watch(targetID, watcherID string, timeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{watcherID: watcherID, cancel: cancel}

	q.watchMu.Lock()
	q.watchers[targetID] = append(q.watchers[targetID], w)
	q.watchMu.Unlock()

	go q.runWatch(ctx, targetID, w, timeout)
}

// CancelWatchersFor cancels every watch task on a target. Idempotent.
func (q *Queue) CancelWatchersFor(targetID string) {
	q.watchMu.Lock()
	ws := q.watchers[targetID]
	delete(q.watchers, targetID)
	q.watchMu.Unlock()
	for _, w := range ws {
		w.cancel()
	}
}

// dropWatcher removes one finished watcher from the table.
func (q *Queue) dropWatcher(targetID string, w *watcher) {
	q.watchMu.Lock()
	defer q.watchMu.Unlock()
	ws := q.watchers[targetID]
	for i, cur := range ws {
		if cur == w {
			q.watchers[targetID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(q.watchers[targetID]) == 0 {
		delete(q.watchers, targetID)
	}
}

func (q *Queue) runWatch(ctx context.Context, targetID string, w *watcher, timeout time.Duration) {
	defer q.dropWatcher(targetID, w)

	deadline := q.now().Add(timeout)
	consecutivePrompt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if q.now().After(deadline) {
			q.fireWatch(targetID, w.watcherID,
				fmt.Sprintf("[watch] timed out after %ds waiting for %s", int(timeout.Seconds()), q.displayName(targetID)))
			return
		}
		if q.watchPoll(targetID, &consecutivePrompt) {
			q.fireWatch(targetID, w.watcherID,
				fmt.Sprintf("[watch] %s is idle", q.displayName(targetID)))
			return
		}
		q.sleep(q.timing.WatchPollInterval)
	}
}

// watchPoll runs one poll and reports whether the watcher should fire.
//
// Idle is triangulated from three unreliable signals: the delivery-state
// flag, the registry status, and a prompt line scraped from the pane. The
// pane check requires two consecutive sightings when used as the primary
// signal or as a tiebreaker against pending messages, because a prompt
// flickers through the pane between turns.
func (q *Queue) watchPoll(targetID string, consecutivePrompt *int) bool {
	sess, err := q.reg.Get(targetID)
	if err != nil {
		return true // session gone counts as done
	}
	if alive, herr := q.term.HasPane(sess.Pane()); herr == nil && !alive {
		return true
	}

	if !q.IsIdle(targetID) {
		if sess.Capabilities().IdleDetection == session.IdleByPromptSignature {
			if q.paneShowsPrompt(sess.Pane()) {
				*consecutivePrompt++
			} else {
				*consecutivePrompt = 0
			}
			return *consecutivePrompt >= 2
		}
		return sess.Status == session.StatusIdle
	}

	// Delivery state says idle. Confirm against the pane: a batch may be
	// in flight, or the flag may predate new work.
	if !q.paneShowsPrompt(sess.Pane()) {
		*consecutivePrompt = 0
		return false // suppress this poll
	}
	if q.PendingCount(targetID) > 0 {
		*consecutivePrompt++
		return *consecutivePrompt >= 2
	}
	return true
}

// paneShowsPrompt reports whether the pane's last non-empty line is a bare
// input prompt. Capture errors read as no prompt.
func (q *Queue) paneShowsPrompt(pane string) bool {
	lines, err := q.term.CapturePaneLines(pane, constants.CaptureLines)
	if err != nil {
		return false
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return line == ">" || strings.HasPrefix(line, "> ")
	}
	return false
}

func (q *Queue) displayName(id string) string {
	if s, err := q.reg.Get(id); err == nil {
		return s.DisplayName() + " (" + session.ShortID(id) + ")"
	}
	return session.ShortID(id)
}

// fireWatch delivers the watch result to the watcher session.
func (q *Queue) fireWatch(targetID, watcherID, text string) {
	if !q.reg.Exists(watcherID) {
		return
	}
	q.Enqueue(Message{
		TargetID:   watcherID,
		SenderID:   targetID,
		SenderName: "watch",
		Mode:       ModeImportant,
		Text:       text,
	})
}
