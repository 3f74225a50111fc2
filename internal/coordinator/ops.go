package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/queue"
	"github.com/xcawolfe-amzn/switchboard/internal/review"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
)

// CreateParams configures session creation over RPC.
type CreateParams struct {
	WorkingDir   string `json:"working_dir"`
	FriendlyName string `json:"friendly_name,omitempty"`
	ParentID     string `json:"parent_id,omitempty"`
	Provider     string `json:"provider,omitempty"`
	ChatID       int64  `json:"chat_id,omitempty"`
	ThreadID     int64  `json:"thread_id,omitempty"`
	SpawnPrompt  string `json:"spawn_prompt,omitempty"`
}

// CreateSession registers a session, materializes its pane, and arranges a
// forum thread and spawn prompt. Thread creation failures do not fail the
// spawn: the session runs without a thread and the next reconcile retries.
func (c *Coordinator) CreateSession(p CreateParams) (session.Session, error) {
	if p.WorkingDir == "" {
		return session.Session{}, fmt.Errorf("%w: working_dir is required", errBadRequest)
	}
	if p.ParentID != "" && !c.reg.Exists(p.ParentID) {
		return session.Session{}, fmt.Errorf("parent %s: %w", p.ParentID, session.ErrNotFound)
	}
	chat := p.ChatID
	if chat == 0 {
		chat = c.cfg.DefaultForumChat
	}

	s, err := c.reg.Create(session.CreateOptions{
		WorkingDir:   p.WorkingDir,
		FriendlyName: p.FriendlyName,
		ParentID:     p.ParentID,
		Provider:     session.Provider(p.Provider),
		ChatID:       chat,
		ThreadID:     p.ThreadID,
		SpawnPrompt:  p.SpawnPrompt,
	})
	if err != nil {
		return session.Session{}, err
	}

	if chat != 0 && p.ThreadID == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), forumSendTimeout)
		thread, err := c.notifier.CreateThread(ctx, chat, s.DisplayName())
		cancel()
		if err != nil {
			c.logger.Printf("Warning: creating thread for %s: %v", s.ID, err)
		} else if err := c.reg.SetThread(s.ID, chat, thread); err != nil {
			c.logger.Printf("Warning: recording thread for %s: %v", s.ID, err)
		}
	}

	if p.SpawnPrompt != "" {
		go c.sendSpawnPrompt(s)
	}
	return c.reg.Get(s.ID)
}

// KillSession tears a session down: queue, watchers, reminders, wakes,
// recovery, monitor, locks, pane, registry entry, and forum thread.
// Parent-scoped: a session may only kill its own children.
func (c *Coordinator) KillSession(callerID, id string) error {
	if err := c.reg.Authorize(callerID, id); err != nil {
		return err
	}
	s, err := c.reg.Get(id)
	if err != nil {
		return err
	}

	if dropped := c.q.Drop(id); dropped > 0 {
		c.logger.Printf("Warning: killed %s with %d undelivered messages", id, dropped)
	}
	c.sched.CancelRemind(id)
	c.sched.CancelParentWakeForChild(id)
	c.rec.Forget(id)
	c.mon.Forget(id)
	c.hooks.Invalidate(id)
	if n := c.locks.ReleaseAllFor(id); n > 0 {
		c.logger.Printf("Warning: released %d workspace locks held by killed session %s", n, id)
	}

	if err := c.reg.Delete(id); err != nil {
		return err
	}

	if s.ForumChatID != 0 && s.ForumThreadID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), forumSendTimeout)
		defer cancel()
		if err := c.notifier.Send(ctx, s.ForumChatID, s.ForumThreadID,
			fmt.Sprintf("[killed] %s (%s)", s.DisplayName(), session.ShortID(id)), 0); err != nil {
			c.logger.Printf("Warning: forum send for killed %s: %v", id, err)
		}
		if err := c.notifier.CloseThread(ctx, s.ForumChatID, s.ForumThreadID); err != nil {
			c.logger.Printf("Warning: closing thread for killed %s: %v", id, err)
		}
	}
	return nil
}

// ClearSession invalidates cached delivery and output state, then sends the
// /clear command to the pane. The skip fence arms so the stop hooks the
// clear produces are absorbed.
func (c *Coordinator) ClearSession(callerID, id string) error {
	if err := c.reg.Authorize(callerID, id); err != nil {
		return err
	}
	s, err := c.reg.Get(id)
	if err != nil {
		return err
	}
	c.q.CacheInvalidate(id)
	c.hooks.Invalidate(id)
	return c.term.SendText(s.Pane(), "/clear")
}

// InvalidateCache drops cached state without touching the pane. Used when
// the operator cleared the context by hand inside the pane.
func (c *Coordinator) InvalidateCache(id string) error {
	if !c.reg.Exists(id) {
		return session.ErrNotFound
	}
	c.q.CacheInvalidate(id)
	c.hooks.Invalidate(id)
	return nil
}

// InputParams configures message enqueue over RPC.
type InputParams struct {
	Text               string `json:"text"`
	Mode               string `json:"mode,omitempty"`
	SenderID           string `json:"sender_id,omitempty"`
	SenderName         string `json:"sender_name,omitempty"`
	NotifyOnStop       bool   `json:"notify_on_stop,omitempty"`
	NotifyOnDelivery   bool   `json:"notify_on_delivery,omitempty"`
	NotifyAfterSeconds int    `json:"notify_after_seconds,omitempty"`
	DeadlineSeconds    int    `json:"timeout_seconds,omitempty"`
}

// QueueInput enqueues a message for a target session.
func (c *Coordinator) QueueInput(targetID string, p InputParams) (queue.Message, error) {
	if p.Text == "" {
		return queue.Message{}, fmt.Errorf("%w: text is required", errBadRequest)
	}
	if !c.reg.Exists(targetID) {
		return queue.Message{}, session.ErrNotFound
	}
	mode, err := queue.ParseMode(p.Mode)
	if err != nil {
		return queue.Message{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	senderName := p.SenderName
	if senderName == "" && p.SenderID != "" {
		if sender, err := c.reg.Get(p.SenderID); err == nil {
			senderName = sender.DisplayName()
		}
	}
	m := queue.Message{
		TargetID:         targetID,
		SenderID:         p.SenderID,
		SenderName:       senderName,
		Text:             p.Text,
		Mode:             mode,
		NotifyOnStop:     p.NotifyOnStop,
		NotifyOnDelivery: p.NotifyOnDelivery,
		NotifyAfter:      time.Duration(p.NotifyAfterSeconds) * time.Second,
	}
	if p.DeadlineSeconds > 0 {
		d := time.Now().UTC().Add(time.Duration(p.DeadlineSeconds) * time.Second)
		m.Deadline = &d
	}
	return c.q.Enqueue(m), nil
}

// WatchSession registers a one-shot idle watcher on a target.
func (c *Coordinator) WatchSession(watcherID, targetID string, timeout time.Duration) error {
	if !c.reg.Exists(targetID) {
		return session.ErrNotFound
	}
	if watcherID != "" && !c.reg.Exists(watcherID) {
		return fmt.Errorf("watcher %s: %w", watcherID, session.ErrNotFound)
	}
	c.q.Watch(targetID, watcherID, timeout)
	return nil
}

// TaskComplete marks the caller's task done: EM notice, reminder and wake
// cancellation, completion status, and thread closure. Self-scoped; only
// the session itself or the operator may report completion.
func (c *Coordinator) TaskComplete(callerID, id, note string) error {
	if callerID != "" && callerID != id {
		return session.ErrNotPermitted
	}
	s, err := c.reg.Get(id)
	if err != nil {
		return err
	}
	c.sched.TaskComplete(id, note)
	if err := c.reg.Update(id, func(s *session.Session) {
		s.CompletionStatus = session.CompletionCompleted
	}); err != nil {
		return err
	}
	if s.ForumChatID != 0 && s.ForumThreadID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), forumSendTimeout)
		defer cancel()
		if err := c.notifier.CloseThread(ctx, s.ForumChatID, s.ForumThreadID); err != nil {
			c.logger.Printf("Warning: closing thread for completed %s: %v", id, err)
		}
	}
	return nil
}

// SetStatus records the agent-reported status line and restarts the
// reminder window. Self-scoped.
func (c *Coordinator) SetStatus(callerID, id, text string) error {
	if callerID != "" && callerID != id {
		return session.ErrNotPermitted
	}
	if err := c.reg.SetStatusText(id, text); err != nil {
		return err
	}
	c.sched.ResetRemind(id)
	return nil
}

// RegisterRemind arms the periodic status reminder for a child. Zero
// periods fall back to the configured defaults.
func (c *Coordinator) RegisterRemind(callerID, childID string, soft, hard time.Duration) error {
	if err := c.reg.Authorize(callerID, childID); err != nil {
		return err
	}
	if soft <= 0 {
		soft = time.Duration(c.cfg.RemindSoftSeconds) * time.Second
	}
	if hard <= 0 {
		hard = time.Duration(c.cfg.RemindHardSeconds) * time.Second
	}
	return c.sched.RegisterRemind(childID, soft, hard)
}

// RegisterParentWake arms the periodic digest from a child to its parent.
// The parent is the caller when one is present.
func (c *Coordinator) RegisterParentWake(callerID, childID string, period time.Duration) (string, error) {
	parentID := callerID
	if parentID == "" {
		s, err := c.reg.Get(childID)
		if err != nil {
			return "", err
		}
		parentID = s.ParentID
	}
	if parentID == "" {
		return "", fmt.Errorf("%w: child has no parent to wake", errBadRequest)
	}
	if err := c.reg.Authorize(callerID, childID); err != nil {
		return "", err
	}
	return c.sched.RegisterParentWake(childID, parentID, period)
}

// PatchParams carries partial session updates.
type PatchParams struct {
	FriendlyName *string `json:"friendly_name,omitempty"`
	StatusText   *string `json:"status_text,omitempty"`
	ResumeToken  *string `json:"resume_token,omitempty"`
	IsEM         *bool   `json:"is_em,omitempty"`
}

// PatchSession applies partial updates. Granting EM inherits the persisted
// EM forum topic when one exists, so successive EMs share a thread; the
// first EM's own thread becomes the topic.
func (c *Coordinator) PatchSession(id string, p PatchParams) (session.Session, error) {
	s, err := c.reg.Get(id)
	if err != nil {
		return session.Session{}, err
	}

	if p.IsEM != nil && *p.IsEM && !s.IsEM {
		if t := c.reg.EMTopic(); t != nil {
			if err := c.reg.SetThread(id, t.Chat, t.Thread); err != nil {
				return session.Session{}, err
			}
		} else if s.ForumChatID != 0 && s.ForumThreadID != 0 {
			c.reg.SetEMTopic(s.ForumChatID, s.ForumThreadID)
		}
	}

	err = c.reg.Update(id, func(s *session.Session) {
		if p.FriendlyName != nil {
			s.FriendlyName = *p.FriendlyName
		}
		if p.ResumeToken != nil {
			s.ResumeToken = *p.ResumeToken
		}
		if p.IsEM != nil {
			s.IsEM = *p.IsEM
		}
	})
	if err != nil {
		return session.Session{}, err
	}
	if p.StatusText != nil {
		if err := c.SetStatus("", id, *p.StatusText); err != nil {
			return session.Session{}, err
		}
	}
	return c.reg.Get(id)
}

// StartReview kicks off an in-pane review on a target session, optionally
// watched by the caller.
func (c *Coordinator) StartReview(callerID, id string, req review.Request, watch bool, watchTimeout time.Duration) error {
	if err := c.reg.Authorize(callerID, id); err != nil {
		return err
	}
	watcherID := ""
	if watch {
		watcherID = callerID
	}
	return c.reviews.Start(id, req, watcherID, watchTimeout)
}

// StartPRReview posts a pull-request review trigger comment.
func (c *Coordinator) StartPRReview(ctx context.Context, pr int, repo, steer string, wait bool, timeout time.Duration) (review.PRResult, error) {
	return c.reviews.StartPR(ctx, pr, repo, steer, wait, timeout)
}
