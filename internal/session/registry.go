package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

// Common errors
var (
	ErrNotFound     = errors.New("session not found")
	ErrNotPermitted = errors.New("not permitted")
	ErrPaneGone     = errors.New("pane gone")
)

// CreateOptions configures session creation.
type CreateOptions struct {
	WorkingDir   string
	FriendlyName string
	ParentID     string
	Provider     Provider
	ChatID       int64
	ThreadID     int64
	SpawnPrompt  string
}

// Registry is the in-memory session table plus the snapshot-level records
// that share its state file (reminders, parent-wakes, EM topic).
//
// Every mutation persists the snapshot immediately. There is no background
// snapshotter: a mutation that only lives in memory can be clobbered by a
// concurrently starting instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	emTopic  *EMTopic
	wakes    map[string]ParentWakeRecord // keyed by registration id
	reminds  map[string]RemindRecord     // keyed by child id

	store  *Store
	term   tmux.Adapter
	logger *log.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry backed by the given snapshot store.
func NewRegistry(store *Store, term tmux.Adapter, logger *log.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		wakes:    make(map[string]ParentWakeRecord),
		reminds:  make(map[string]RemindRecord),
		store:    store,
		term:     term,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the registry's clock. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Restore replaces registry contents from a loaded snapshot. Called once
// by the startup reconciler before the RPC surface binds.
func (r *Registry) Restore(snap *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Session, len(snap.Sessions))
	for _, s := range snap.Sessions {
		r.sessions[s.ID] = s
	}
	r.emTopic = snap.EMTopic
	r.wakes = make(map[string]ParentWakeRecord, len(snap.ParentWakes))
	for _, w := range snap.ParentWakes {
		r.wakes[w.ID] = w
	}
	r.reminds = make(map[string]RemindRecord, len(snap.Reminders))
	for _, rec := range snap.Reminders {
		r.reminds[rec.ChildID] = rec
	}
}

// snapshotLocked assembles a Snapshot. Caller holds at least a read lock.
func (r *Registry) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		EMTopic:     r.emTopic,
		ParentWakes: make([]ParentWakeRecord, 0, len(r.wakes)),
		Reminders:   make([]RemindRecord, 0, len(r.reminds)),
	}
	for _, s := range r.sessions {
		snap.Sessions = append(snap.Sessions, s)
	}
	for _, w := range r.wakes {
		snap.ParentWakes = append(snap.ParentWakes, w)
	}
	for _, rec := range r.reminds {
		snap.Reminders = append(snap.Reminders, rec)
	}
	return snap
}

// persistLocked writes the snapshot. Caller holds the write lock.
// Persistence failures are logged, not propagated: in-memory state is
// already mutated and the next successful save repairs the file.
func (r *Registry) persistLocked() {
	if err := r.store.Save(r.snapshotLocked()); err != nil {
		r.logger.Printf("Warning: persisting snapshot: %v", err)
	}
}

// Persist forces a snapshot write.
func (r *Registry) Persist() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistLocked()
}

// launchCommand returns the pane's initial process for a provider.
func launchCommand(p Provider) string {
	switch p {
	case ProviderClaude:
		return "claude"
	case ProviderCodexTmux:
		return "codex"
	default:
		return "" // codex-app panes host a plain shell; the app attaches itself
	}
}

// Create allocates a fresh session: unique 8-hex id, a materialized pane
// running the provider, identity environment variables, and a persisted
// snapshot entry.
func (r *Registry) Create(opts CreateOptions) (Session, error) {
	if opts.Provider == "" {
		opts.Provider = ProviderClaude
	}
	if opts.ThreadID != 0 && opts.ChatID == 0 {
		return Session{}, fmt.Errorf("thread id without chat id")
	}

	r.mu.Lock()
	id := NewID()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = NewID()
	}
	s := &Session{
		ID:            id,
		FriendlyName:  opts.FriendlyName,
		WorkingDir:    opts.WorkingDir,
		Provider:      opts.Provider,
		ParentID:      opts.ParentID,
		Status:        StatusCreated,
		SpawnPrompt:   opts.SpawnPrompt,
		CreatedAt:     r.now().UTC(),
		ForumChatID:   opts.ChatID,
		ForumThreadID: opts.ThreadID,
	}
	r.sessions[id] = s
	r.mu.Unlock()

	// Pane creation happens outside the lock: tmux calls can take seconds.
	if err := r.term.NewPane(s.Pane(), opts.WorkingDir, launchCommand(opts.Provider)); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return Session{}, fmt.Errorf("creating pane: %w", err)
	}
	if err := r.term.SetEnvironment(s.Pane(), constants.EnvSessionID, id); err != nil {
		r.logger.Printf("Warning: setting %s on %s: %v", constants.EnvSessionID, s.Pane(), err)
	}
	// Provider workaround; harmless for providers that ignore it.
	if err := r.term.SetEnvironment(s.Pane(), constants.EnvToolSearch, "false"); err != nil {
		r.logger.Printf("Warning: setting %s on %s: %v", constants.EnvToolSearch, s.Pane(), err)
	}

	r.mu.Lock()
	r.persistLocked()
	out := *s
	r.mu.Unlock()
	return out, nil
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// Exists reports whether a session id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// List returns copies of all sessions.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// ChildrenOf returns the sessions whose parent is the given id.
func (r *Registry) ChildrenOf(parentID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Session
	for _, s := range r.sessions {
		if s.ParentID == parentID {
			out = append(out, *s)
		}
	}
	return out
}

// Update applies fn to the session under the write lock and persists.
func (r *Registry) Update(id string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	r.persistLocked()
	return nil
}

// SetCompacting flips the runtime-only compacting flag without persisting.
func (r *Registry) SetCompacting(id string, v bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.IsCompacting = v
	return nil
}

// MarkActive records tool activity: status RUNNING, last-tool-call now.
func (r *Registry) MarkActive(id string) error {
	now := r.now().UTC()
	return r.Update(id, func(s *Session) {
		s.Status = StatusRunning
		s.LastToolCall = &now
	})
}

// MarkIdle sets lifecycle status IDLE.
func (r *Registry) MarkIdle(id string) error {
	return r.Update(id, func(s *Session) {
		s.Status = StatusIdle
	})
}

// MarkStopped sets STOPPED with a completion status.
func (r *Registry) MarkStopped(id string, completion CompletionStatus) error {
	return r.Update(id, func(s *Session) {
		s.Status = StatusStopped
		s.CompletionStatus = completion
	})
}

// SetStatusText records the agent-reported status line.
func (r *Registry) SetStatusText(id, text string) error {
	now := r.now().UTC()
	return r.Update(id, func(s *Session) {
		s.StatusText = text
		s.StatusTextAt = &now
	})
}

// Rename sets the friendly name.
func (r *Registry) Rename(id, name string) error {
	return r.Update(id, func(s *Session) { s.FriendlyName = name })
}

// SetThread records the forum thread id. Persisted immediately by Update:
// a thread id that only lives in memory can be clobbered by a concurrent
// instance's snapshot write.
func (r *Registry) SetThread(id string, chat, thread int64) error {
	return r.Update(id, func(s *Session) {
		s.ForumChatID = chat
		s.ForumThreadID = thread
	})
}

// Authorize enforces parent-scoped authorization for destructive
// operations. The operator (empty caller) may target anything; a session
// may only target its own children. Unknown callers are rejected.
func (r *Registry) Authorize(callerID, targetID string) error {
	if callerID == "" {
		return nil // operator context
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sessions[callerID]; !ok {
		return ErrNotPermitted // fail closed
	}
	t, ok := r.sessions[targetID]
	if !ok {
		return ErrNotFound
	}
	if t.ParentID != callerID {
		return ErrNotPermitted
	}
	return nil
}

// Delete removes the session from the table, persists, and kills the pane.
// A pane that is already gone is not an error; only in-memory and external
// state are cleaned up then. Cascading cleanup (pending messages,
// reminders, forum thread) is the coordinator's job.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	pane := s.Pane()
	delete(r.sessions, id)
	r.persistLocked()
	r.mu.Unlock()

	if alive, err := r.term.HasPane(pane); err == nil && alive {
		if err := r.term.KillPane(pane); err != nil {
			r.logger.Printf("Warning: killing pane %s: %v", pane, err)
		}
	}
	return nil
}

// --- EM topic ---

// EMTopic returns the persisted EM handoff topic, if any.
func (r *Registry) EMTopic() *EMTopic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.emTopic == nil {
		return nil
	}
	t := *r.emTopic
	return &t
}

// SetEMTopic persists the EM handoff topic.
func (r *Registry) SetEMTopic(chat, thread int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emTopic = &EMTopic{Chat: chat, Thread: thread}
	r.persistLocked()
}

// --- Reminder and parent-wake records (persisted with the snapshot) ---

// PutRemind stores a reminder record, replacing any prior one for the child.
func (r *Registry) PutRemind(rec RemindRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reminds[rec.ChildID] = rec
	r.persistLocked()
}

// DropRemind removes the child's reminder record, if any.
func (r *Registry) DropRemind(childID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reminds[childID]; !ok {
		return
	}
	delete(r.reminds, childID)
	r.persistLocked()
}

// Reminds returns all reminder records.
func (r *Registry) Reminds() []RemindRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RemindRecord, 0, len(r.reminds))
	for _, rec := range r.reminds {
		out = append(out, rec)
	}
	return out
}

// PutParentWake stores a parent-wake record by registration id.
func (r *Registry) PutParentWake(rec ParentWakeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakes[rec.ID] = rec
	r.persistLocked()
}

// DropParentWake removes a parent-wake record.
func (r *Registry) DropParentWake(regID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wakes[regID]; !ok {
		return
	}
	delete(r.wakes, regID)
	r.persistLocked()
}

// ParentWakes returns all parent-wake records.
func (r *Registry) ParentWakes() []ParentWakeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ParentWakeRecord, 0, len(r.wakes))
	for _, w := range r.wakes {
		out = append(out, w)
	}
	return out
}

// ActiveParentWakeFor returns the active parent-wake record for a child,
// if one exists. Used for EM discovery on task completion.
func (r *Registry) ActiveParentWakeFor(childID string) (ParentWakeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.wakes {
		if w.ChildID == childID && w.Active {
			return w, true
		}
	}
	return ParentWakeRecord{}, false
}
