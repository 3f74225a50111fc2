package coordinator

import (
	"context"

	"github.com/xcawolfe-amzn/switchboard/internal/session"
)

// orphan is a forum thread left behind by a session whose pane died while
// the coordinator was down.
type orphan struct {
	chat, thread int64
	name         string
}

// reconcile loads the snapshot, verifies each session's pane, and restores
// only the survivors into the registry. Dead sessions' forum threads are
// returned for cleanup after the RPC port binds. No side effects happen
// here: no forum calls, and the pruned snapshot stays in memory until the
// bind succeeds.
func (c *Coordinator) reconcile() ([]orphan, error) {
	snap, quarantined, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if quarantined != "" {
		c.logger.Printf("Warning: snapshot was corrupt, quarantined at %s", quarantined)
	}

	live := &session.Snapshot{EMTopic: snap.EMTopic}
	alive := make(map[string]bool)
	var orphans []orphan
	for _, s := range snap.Sessions {
		ok, err := c.term.HasPane(s.Pane())
		if err != nil {
			c.logger.Printf("Warning: checking pane %s: %v", s.Pane(), err)
		}
		if !ok {
			c.logger.Printf("Warning: dropping session %s (%s): pane gone", s.ID, s.DisplayName())
			if s.ForumChatID != 0 && s.ForumThreadID != 0 {
				orphans = append(orphans, orphan{s.ForumChatID, s.ForumThreadID, s.DisplayName()})
			}
			continue
		}
		alive[s.ID] = true
		// A restarted coordinator cannot know whether a compact was in
		// flight; the snapshot never carries the flag.
		live.Sessions = append(live.Sessions, s)
	}
	for _, rec := range snap.Reminders {
		if alive[rec.ChildID] {
			live.Reminders = append(live.Reminders, rec)
		}
	}
	for _, w := range snap.ParentWakes {
		if alive[w.ChildID] && alive[w.ParentID] {
			live.ParentWakes = append(live.ParentWakes, w)
		}
	}

	c.reg.Restore(live)
	return orphans, nil
}

// settleForum performs the deferred forum side effects from reconciliation:
// orphan thread deletion, default chat backfill, and missing-thread
// creation. Called only after the listener is bound.
func (c *Coordinator) settleForum(ctx context.Context, orphans []orphan) {
	for _, o := range orphans {
		if err := c.notifier.DeleteThread(ctx, o.chat, o.thread); err != nil {
			c.logger.Printf("Warning: deleting orphan thread %d/%d (%s): %v", o.chat, o.thread, o.name, err)
		}
	}

	for _, s := range c.reg.List() {
		chat := s.ForumChatID
		if chat == 0 {
			chat = c.cfg.DefaultForumChat
		}
		if chat == 0 || s.ForumThreadID != 0 {
			continue
		}
		thread, err := c.notifier.CreateThread(ctx, chat, s.DisplayName())
		if err != nil {
			c.logger.Printf("Warning: creating thread for %s: %v", s.ID, err)
			continue
		}
		if err := c.reg.SetThread(s.ID, chat, thread); err != nil {
			c.logger.Printf("Warning: recording thread for %s: %v", s.ID, err)
		}
	}
}
