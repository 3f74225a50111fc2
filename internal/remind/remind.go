// Package remind runs the periodic reminder and parent-wake schedulers.
//
// Registrations persist with the registry snapshot; the tasks themselves
// are respawned from the records on startup. Cancellation is idempotent:
// cancelling flips the record inactive and signals the task to exit on its
// next wake.
package remind

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xcawolfe-amzn/switchboard/internal/audit"
	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/queue"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
)

const softReminderText = `[remind] Update your status: sm status "message" — or if done: sm task-complete`
const hardReminderText = `[remind] Status overdue.`

// task is one running scheduler goroutine.
type task struct {
	cancel chan struct{}
	reset  chan struct{}
}

func newTask() *task {
	return &task{
		cancel: make(chan struct{}),
		reset:  make(chan struct{}, 1),
	}
}

// Scheduler owns reminder and parent-wake tasks.
type Scheduler struct {
	reg    *session.Registry
	q      *queue.Queue
	audit  *audit.Store
	logger *log.Logger

	now   func() time.Time
	sleep func(time.Duration)

	mu      sync.Mutex
	reminds map[string]*task // keyed by child id
	wakes   map[string]*task // keyed by registration id
}

// NewScheduler creates a scheduler. auditStore may be nil (digests then
// omit tool history).
func NewScheduler(reg *session.Registry, q *queue.Queue, auditStore *audit.Store, logger *log.Logger) *Scheduler {
	return &Scheduler{
		reg:     reg,
		q:       q,
		audit:   auditStore,
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
		reminds: make(map[string]*task),
		wakes:   make(map[string]*task),
	}
}

// SetClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// SetSleep overrides the compact-wait sleeper. Test hook.
func (s *Scheduler) SetSleep(sleep func(time.Duration)) { s.sleep = sleep }

// Resume respawns tasks for every active persisted registration. Called
// once by the startup reconciler.
func (s *Scheduler) Resume() {
	for _, rec := range s.reg.Reminds() {
		if rec.Active {
			s.spawnRemind(rec)
		}
	}
	for _, rec := range s.reg.ParentWakes() {
		if rec.Active {
			s.spawnWake(rec)
		}
	}
}

// --- reminders ---

// RegisterRemind installs the child's periodic status reminder, replacing
// any prior registration. Zero periods take the defaults.
func (s *Scheduler) RegisterRemind(childID string, soft, hard time.Duration) error {
	if !s.reg.Exists(childID) {
		return session.ErrNotFound
	}
	if soft <= 0 {
		soft = constants.RemindSoftDefault
	}
	if hard <= soft {
		hard = soft + (constants.RemindHardDefault - constants.RemindSoftDefault)
	}
	rec := session.RemindRecord{
		ChildID:    childID,
		SoftPeriod: int(soft.Seconds()),
		HardPeriod: int(hard.Seconds()),
		Active:     true,
		CreatedAt:  s.now().UTC(),
	}

	s.CancelRemind(childID)
	s.reg.PutRemind(rec)
	s.spawnRemind(rec)
	return nil
}

func (s *Scheduler) spawnRemind(rec session.RemindRecord) {
	t := newTask()
	s.mu.Lock()
	s.reminds[rec.ChildID] = t
	s.mu.Unlock()
	go s.runRemind(rec, t)
}

// ResetRemind restarts the child's reminder timer. Called on sm status and
// when a compact finishes.
func (s *Scheduler) ResetRemind(childID string) {
	s.mu.Lock()
	t := s.reminds[childID]
	s.mu.Unlock()
	if t == nil {
		return
	}
	select {
	case t.reset <- struct{}{}:
	default: // a reset is already queued
	}
}

// CancelRemind deactivates the child's reminder. Idempotent.
func (s *Scheduler) CancelRemind(childID string) {
	s.mu.Lock()
	t := s.reminds[childID]
	delete(s.reminds, childID)
	s.mu.Unlock()
	if t != nil {
		close(t.cancel)
	}
	s.reg.DropRemind(childID)
}

// dropRemindTask removes the task entry if it is still the current one.
func (s *Scheduler) dropRemindTask(childID string, t *task) {
	s.mu.Lock()
	if s.reminds[childID] == t {
		delete(s.reminds, childID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) runRemind(rec session.RemindRecord, t *task) {
	defer s.dropRemindTask(rec.ChildID, t)
	soft := time.Duration(rec.SoftPeriod) * time.Second
	hard := time.Duration(rec.HardPeriod) * time.Second

	for {
		windowStart := s.now()
		switch s.wait(soft, t) {
		case waitCancelled:
			return
		case waitReset:
			continue
		}
		s.waitOutCompact(rec.ChildID, t)
		if s.statusUpdatedSince(rec.ChildID, windowStart) {
			continue
		}
		s.q.Enqueue(queue.Message{
			TargetID:   rec.ChildID,
			SenderName: "remind",
			Text:       softReminderText,
			Mode:       queue.ModeImportant,
		})

		switch s.wait(hard-soft, t) {
		case waitCancelled:
			return
		case waitReset:
			continue
		}
		s.waitOutCompact(rec.ChildID, t)
		if s.statusUpdatedSince(rec.ChildID, windowStart) {
			continue
		}
		s.q.Enqueue(queue.Message{
			TargetID:   rec.ChildID,
			SenderName: "remind",
			Text:       hardReminderText,
			Mode:       queue.ModeImportant,
		})
		s.reg.DropRemind(rec.ChildID)
		return
	}
}

// statusUpdatedSince reports whether the child called status after t0.
func (s *Scheduler) statusUpdatedSince(childID string, t0 time.Time) bool {
	sess, err := s.reg.Get(childID)
	if err != nil {
		return false
	}
	return sess.StatusTextAt != nil && sess.StatusTextAt.After(t0)
}

// waitOutCompact bounded-waits while the child is compacting, so the
// reminder does not land in the middle of a context compaction.
func (s *Scheduler) waitOutCompact(childID string, t *task) {
	deadline := s.now().Add(constants.CompactWaitCap)
	for s.now().Before(deadline) {
		sess, err := s.reg.Get(childID)
		if err != nil || !sess.IsCompacting {
			return
		}
		select {
		case <-t.cancel:
			return
		default:
		}
		s.sleep(constants.CompactWaitPoll)
	}
}

type waitResult int

const (
	waitExpired waitResult = iota
	waitReset
	waitCancelled
)

// wait sleeps for d, interruptible by reset and cancel.
func (s *Scheduler) wait(d time.Duration, t *task) waitResult {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.cancel:
		return waitCancelled
	case <-t.reset:
		return waitReset
	case <-timer.C:
		return waitExpired
	}
}

// --- parent-wake ---

// RegisterParentWake installs a periodic digest from child to parent and
// returns the registration id.
func (s *Scheduler) RegisterParentWake(childID, parentID string, period time.Duration) (string, error) {
	if !s.reg.Exists(childID) || !s.reg.Exists(parentID) {
		return "", session.ErrNotFound
	}
	rec := session.ParentWakeRecord{
		ID:            uuid.NewString(),
		ChildID:       childID,
		ParentID:      parentID,
		PeriodSeconds: int(period.Seconds()),
		RegisteredAt:  s.now().UTC(),
		Active:        true,
	}
	s.reg.PutParentWake(rec)
	s.spawnWake(rec)
	return rec.ID, nil
}

func (s *Scheduler) spawnWake(rec session.ParentWakeRecord) {
	t := newTask()
	s.mu.Lock()
	s.wakes[rec.ID] = t
	s.mu.Unlock()
	go s.runWake(rec, t)
}

// CancelParentWake deactivates one registration. Idempotent.
func (s *Scheduler) CancelParentWake(regID string) {
	s.mu.Lock()
	t := s.wakes[regID]
	delete(s.wakes, regID)
	s.mu.Unlock()
	if t != nil {
		close(t.cancel)
	}
	s.reg.DropParentWake(regID)
}

// CancelParentWakeForChild deactivates every registration watching a child.
func (s *Scheduler) CancelParentWakeForChild(childID string) {
	for _, rec := range s.reg.ParentWakes() {
		if rec.ChildID == childID {
			s.CancelParentWake(rec.ID)
		}
	}
}

func (s *Scheduler) runWake(rec session.ParentWakeRecord, t *task) {
	period := time.Duration(rec.PeriodSeconds) * time.Second
	if period < time.Second {
		period = time.Second
	}
	for {
		if s.wait(period, t) == waitCancelled {
			return
		}
		child, err := s.reg.Get(rec.ChildID)
		if err != nil {
			// Child gone: the registration is dead weight.
			s.CancelParentWake(rec.ID)
			return
		}

		digest, escalated := s.buildDigest(child, rec)
		s.q.Enqueue(queue.Message{
			TargetID:   rec.ParentID,
			SenderID:   rec.ChildID,
			SenderName: child.DisplayName(),
			Text:       digest,
			Mode:       queue.ModeImportant,
		})

		now := s.now().UTC()
		rec.LastWakeAt = &now
		rec.LastStatusTextAt = child.StatusTextAt
		rec.Escalated = escalated
		s.reg.PutParentWake(rec)
	}
}

// --- EM resolution and task completion ---

// ResolveEM finds the session that should hear about a child's completion:
// an active parent-wake parent first, else the child's registry parent.
func (s *Scheduler) ResolveEM(childID string) (string, bool) {
	if rec, ok := s.reg.ActiveParentWakeFor(childID); ok {
		return rec.ParentID, true
	}
	sess, err := s.reg.Get(childID)
	if err != nil || sess.ParentID == "" {
		return "", false
	}
	return sess.ParentID, true
}

// TaskComplete handles a child reporting its work done: resolve the EM
// before cancelling parent-wake (the lookup needs the registration row),
// cancel both schedulers, then send one IMPORTANT notice.
func (s *Scheduler) TaskComplete(childID, note string) {
	emID, found := s.ResolveEM(childID)

	s.CancelRemind(childID)
	s.CancelParentWakeForChild(childID)

	if !found || !s.reg.Exists(emID) {
		s.logger.Printf("task-complete for %s: no EM to notify", childID)
		return
	}
	name := childID
	if child, err := s.reg.Get(childID); err == nil {
		name = child.DisplayName()
	}
	text := fmt.Sprintf("[task-complete] %s (%s) reports its task complete.", name, session.ShortID(childID))
	if note != "" {
		text += " " + note
	}
	s.q.Enqueue(queue.Message{
		TargetID:   emID,
		SenderID:   childID,
		SenderName: name,
		Text:       text,
		Mode:       queue.ModeImportant,
	})
}
