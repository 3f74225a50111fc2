package queue

import (
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

const stripeCount = 64

// Timing collects the queue's configurable intervals.
type Timing struct {
	SkipFenceWindow   time.Duration
	InputPollInterval time.Duration
	InputStaleTimeout time.Duration
	WatchPollInterval time.Duration
}

// DefaultTiming returns the stock intervals.
func DefaultTiming() Timing {
	return Timing{
		SkipFenceWindow:   constants.SkipFenceWindow,
		InputPollInterval: constants.InputPollInterval,
		InputStaleTimeout: constants.InputStaleTimeout,
		WatchPollInterval: constants.WatchPollInterval,
	}
}

// deliveryState is the per-session runtime delivery state. Created lazily
// on first queue, invalidate, or idle signal.
type deliveryState struct {
	isIdle     bool
	lastIdleAt time.Time

	// pending is strict FIFO by queued-at. Appends preserve order.
	pending []*Message

	// delivering serializes injection: at most one in-flight delivery
	// per session regardless of how many passes are scheduled.
	delivering bool

	// savedUserInput holds a human draft displaced by a delivery, to be
	// restored after the injected batch completes.
	savedUserInput string

	// pendingUserInput tracks a live draft for stale detection.
	pendingUserInput   string
	pendingInputSeenAt time.Time

	// stopNotifySenderID is who to tell when this session next really
	// goes idle. pasteBufferedSenderID is the same thing recorded at
	// delivery time, promoted only on the next real idle transition so
	// an absorbed stop hook cannot trigger the notification early.
	stopNotifySenderID    string
	pasteBufferedSenderID string

	// pendingHandoffPath chains a continuation: the next stop hook
	// executes the handoff instead of going idle.
	pendingHandoffPath string

	// Skip fence: stop hooks arriving within the window are absorbed
	// without an idle transition. Armed by CacheInvalidate.
	skipCount   int
	skipArmedAt time.Time
}

// Queue is the per-session message queue and delivery engine.
//
// Session state is guarded by striped mutexes keyed by session id. Terminal
// calls are never made under a stripe: the delivering flag keeps injection
// single-flight while the stripe is released.
type Queue struct {
	mu     sync.RWMutex
	states map[string]*deliveryState

	stripes [stripeCount]sync.Mutex

	reg    *session.Registry
	term   tmux.Adapter
	logger *log.Logger
	timing Timing

	now   func() time.Time
	sleep func(time.Duration)

	// onRealIdle fires on every real (non-absorbed) idle transition.
	// The coordinator cancels reminders and parent-wakes and flushes
	// deferred crash recovery here.
	onRealIdle func(sessionID string)

	// handoff executes a chained continuation for a session.
	handoff func(sessionID, path string)

	watchMu  sync.Mutex
	watchers map[string][]*watcher
}

// New creates a queue over the given registry and terminal.
func New(reg *session.Registry, term tmux.Adapter, logger *log.Logger) *Queue {
	return &Queue{
		states:   make(map[string]*deliveryState),
		reg:      reg,
		term:     term,
		logger:   logger,
		timing:   DefaultTiming(),
		now:      time.Now,
		sleep:    time.Sleep,
		watchers: make(map[string][]*watcher),
	}
}

// SetTiming overrides the queue's intervals. Call before use.
func (q *Queue) SetTiming(t Timing) { q.timing = t }

// SetClock overrides the queue's clock. Test hook.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// SetSleep overrides the queue's sleeper. Test hook.
func (q *Queue) SetSleep(sleep func(time.Duration)) { q.sleep = sleep }

// SetOnRealIdle registers the real-idle callback.
func (q *Queue) SetOnRealIdle(fn func(sessionID string)) { q.onRealIdle = fn }

// SetHandoffRunner registers the handoff executor.
func (q *Queue) SetHandoffRunner(fn func(sessionID, path string)) { q.handoff = fn }

// stripeFor maps a session id onto its stripe.
func (q *Queue) stripeFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &q.stripes[h.Sum32()%stripeCount]
}

// state returns the session's delivery state, creating it when create is set.
func (q *Queue) state(id string, create bool) *deliveryState {
	q.mu.RLock()
	st := q.states[id]
	q.mu.RUnlock()
	if st != nil || !create {
		return st
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if st = q.states[id]; st == nil {
		st = &deliveryState{}
		q.states[id] = st
	}
	return st
}

// Enqueue appends a message to the target's queue and schedules a delivery
// pass. The returned message carries the allocated id and the effective
// notify-on-stop flag.
//
// Notify-on-stop is EM-gated and fails closed: the flag survives only when
// the sender session exists and carries is-em. An unknown sender gets the
// flag forced off, never an error.
func (q *Queue) Enqueue(m Message) Message {
	if m.ID == "" {
		m.ID = newMessageID()
	}
	if m.Mode == "" {
		m.Mode = ModeSequential
	}
	if m.QueuedAt.IsZero() {
		m.QueuedAt = q.now().UTC()
	}
	if m.NotifyOnStop {
		sender, err := q.reg.Get(m.SenderID)
		if err != nil || !sender.IsEM {
			m.NotifyOnStop = false
		}
	}

	st := q.state(m.TargetID, true)
	stripe := q.stripeFor(m.TargetID)
	stripe.Lock()
	msg := m
	st.pending = append(st.pending, &msg)
	stripe.Unlock()

	go q.deliver(m.TargetID, false)
	return m
}

// TryDeliver schedules an idle-gated delivery pass. Idempotent: concurrent
// invocations collapse onto at most one injection.
func (q *Queue) TryDeliver(id string) {
	go q.deliver(id, false)
}

// IsIdle reports the delivery-state idle flag.
func (q *Queue) IsIdle(id string) bool {
	st := q.state(id, false)
	if st == nil {
		return false
	}
	stripe := q.stripeFor(id)
	stripe.Lock()
	defer stripe.Unlock()
	return st.isIdle
}

// PendingCount returns the number of queued messages for a session.
func (q *Queue) PendingCount(id string) int {
	st := q.state(id, false)
	if st == nil {
		return 0
	}
	stripe := q.stripeFor(id)
	stripe.Lock()
	defer stripe.Unlock()
	return len(st.pending)
}

// Pending returns copies of the queued messages for a session, FIFO.
func (q *Queue) Pending(id string) []Message {
	st := q.state(id, false)
	if st == nil {
		return nil
	}
	stripe := q.stripeFor(id)
	stripe.Lock()
	defer stripe.Unlock()
	out := make([]Message, 0, len(st.pending))
	for _, m := range st.pending {
		out = append(out, *m)
	}
	return out
}

// MarkBusy clears the idle flag. Called when tool activity proves the
// session is mid-turn.
func (q *Queue) MarkBusy(id string) {
	st := q.state(id, true)
	stripe := q.stripeFor(id)
	stripe.Lock()
	st.isIdle = false
	stripe.Unlock()
}

// SetHandoff records a handoff continuation path for a session. The next
// stop hook executes the handoff instead of transitioning to idle.
func (q *Queue) SetHandoff(id, path string) {
	st := q.state(id, true)
	stripe := q.stripeFor(id)
	stripe.Lock()
	st.pendingHandoffPath = path
	stripe.Unlock()
}

// MarkSessionIdle processes an idle signal for a session.
//
// Stop-hook signals run the full gauntlet in order: handoff chaining first,
// then skip-fence absorption, then real completion. Non-hook signals
// (prompt-signature or status-only providers) skip straight to completion.
func (q *Queue) MarkSessionIdle(id string, fromStopHook bool) {
	st := q.state(id, true)
	stripe := q.stripeFor(id)
	stripe.Lock()

	if fromStopHook {
		// Handoff precedes absorption: the fence is not decremented
		// on a hook that triggers a handoff.
		if st.pendingHandoffPath != "" {
			path := st.pendingHandoffPath
			st.pendingHandoffPath = ""
			st.isIdle = false
			stripe.Unlock()
			if q.handoff != nil {
				go q.handoff(id, path)
			} else {
				q.logger.Printf("Warning: handoff path %s for %s with no runner", path, id)
			}
			return
		}

		if st.skipCount > 0 {
			if q.now().Sub(st.skipArmedAt) < q.timing.SkipFenceWindow {
				st.skipCount--
				stripe.Unlock()
				// Absorbed: no idle transition, no remind
				// cancellation, no back-notification. Important
				// messages still ride the stop hook.
				go q.deliver(id, true)
				return
			}
			q.logger.Printf("Warning: stale skip fence for %s (armed %v ago), treating stop as completion",
				id, q.now().Sub(st.skipArmedAt).Round(time.Second))
			st.skipCount = 0
		}
	}

	// Real completion.
	st.isIdle = true
	st.lastIdleAt = q.now().UTC()
	if st.pasteBufferedSenderID != "" {
		st.stopNotifySenderID = st.pasteBufferedSenderID
		st.pasteBufferedSenderID = ""
	}
	notify := st.stopNotifySenderID
	st.stopNotifySenderID = ""
	restore := ""
	if st.savedUserInput != "" && len(st.pending) == 0 {
		restore = st.savedUserInput
		st.savedUserInput = ""
	}
	stripe.Unlock()

	if err := q.reg.MarkIdle(id); err != nil {
		// Deleted mid-flight; the rest still runs so watchers fire.
		q.logger.Printf("Warning: marking %s idle: %v", id, err)
	}
	if q.onRealIdle != nil {
		q.onRealIdle(id)
	}
	if notify != "" {
		q.sendStopNotification(id, notify)
	}
	if restore != "" {
		q.restoreUserInput(id, restore)
	}
	go q.deliver(id, fromStopHook)
}

// sendStopNotification tells the recorded sender that the target stopped.
// A sender that no longer exists gets nothing; the target may be gone too.
func (q *Queue) sendStopNotification(targetID, senderID string) {
	if !q.reg.Exists(senderID) {
		return
	}
	name := targetID
	if target, err := q.reg.Get(targetID); err == nil {
		name = target.DisplayName()
	}
	q.Enqueue(Message{
		TargetID:   senderID,
		SenderID:   targetID,
		SenderName: name,
		Text:       "[agent stopped] " + name + " (" + session.ShortID(targetID) + ") finished its turn.",
		Mode:       ModeImportant,
	})
}

// restoreUserInput pastes a displaced draft back without submitting.
func (q *Queue) restoreUserInput(id, text string) {
	pane := session.PaneName(id)
	if err := q.term.SendTextNoSubmit(pane, text); err != nil {
		q.logger.Printf("Warning: restoring user input on %s: %v", pane, err)
	}
}

// CacheInvalidate arms the skip fence for a context clear and resets the
// session's stop-notify bookkeeping.
//
// Two slots are armed only when both signals agree the session is mid-turn:
// the delivery state says not idle AND the registry says RUNNING. Either
// signal alone can be stale, and over-arming eats a real completion.
func (q *Queue) CacheInvalidate(id string) {
	st := q.state(id, true)
	stripe := q.stripeFor(id)
	stripe.Lock()
	defer stripe.Unlock()

	slots := 1
	if !st.isIdle {
		if sess, err := q.reg.Get(id); err == nil && sess.Status == session.StatusRunning {
			slots = 2
		}
	}
	st.skipCount = slots
	st.skipArmedAt = q.now()
	st.stopNotifySenderID = ""
}

// Drop removes all queue state for a session: pending messages, delivery
// state, and watchers. Called on kill and on pane-gone.
func (q *Queue) Drop(id string) int {
	q.mu.Lock()
	st := q.states[id]
	delete(q.states, id)
	q.mu.Unlock()

	q.CancelWatchersFor(id)

	if st == nil {
		return 0
	}
	stripe := q.stripeFor(id)
	stripe.Lock()
	n := len(st.pending)
	st.pending = nil
	stripe.Unlock()
	if n > 0 {
		q.logger.Printf("Warning: dropped %d pending message(s) for %s", n, id)
	}
	return n
}
