package queue

import (
	"errors"
	"strings"

	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

// deliver is the single delivery entry point. It is idempotent: it returns
// immediately unless eligible messages exist and no delivery is in flight
// for the session.
//
// stopHookPass marks a pass scheduled by a stop hook, which makes IMPORTANT
// messages eligible even when the idle flag stayed false (absorbed stop).
func (q *Queue) deliver(id string, stopHookPass bool) {
	st := q.state(id, false)
	if st == nil {
		return
	}

	stripe := q.stripeFor(id)
	stripe.Lock()
	if st.delivering || len(st.pending) == 0 {
		stripe.Unlock()
		return
	}
	q.expireLocked(id, st)
	batch := q.takeEligibleLocked(st, stopHookPass)
	if len(batch) == 0 {
		stripe.Unlock()
		return
	}
	st.delivering = true
	stripe.Unlock()

	delivered := false
	sess, err := q.reg.Get(id)
	if err != nil {
		q.logger.Printf("Warning: discarding %d message(s) for nonexistent session %s", len(batch), id)
	} else {
		delivered = q.inject(sess, st, batch)
	}

	stripe.Lock()
	st.delivering = false
	stripe.Unlock()

	// Messages enqueued while injection was in flight saw delivering=true
	// and bailed; sweep them up now.
	if delivered {
		go q.deliver(id, false)
	}
}

// expireLocked drops messages past their deadline. Caller holds the stripe.
func (q *Queue) expireLocked(id string, st *deliveryState) {
	now := q.now()
	kept := st.pending[:0]
	for _, m := range st.pending {
		if m.Deadline != nil && now.After(*m.Deadline) {
			q.logger.Printf("Warning: message %s to %s expired before delivery", m.ID, id)
			continue
		}
		kept = append(kept, m)
	}
	st.pending = kept
}

// takeEligibleLocked removes and returns the deliverable messages, FIFO.
// Caller holds the stripe.
//
// Eligibility by mode: urgent and steer always; important when idle or on a
// stop-hook pass; sequential only when idle.
func (q *Queue) takeEligibleLocked(st *deliveryState, stopHookPass bool) []*Message {
	var batch []*Message
	kept := st.pending[:0]
	for _, m := range st.pending {
		eligible := false
		switch m.Mode {
		case ModeUrgent, ModeSteer:
			eligible = true
		case ModeImportant:
			eligible = st.isIdle || stopHookPass
		default:
			eligible = st.isIdle
		}
		if eligible {
			batch = append(batch, m)
		} else {
			kept = append(kept, m)
		}
	}
	st.pending = kept
	return batch
}

// renderBatch concatenates messages into one payload with per-sender headers.
func renderBatch(batch []*Message) string {
	var b strings.Builder
	for i, m := range batch {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.header())
		b.WriteString(" ")
		b.WriteString(m.Text)
	}
	return b.String()
}

// inject lands a batch on the session's pane and reports success. Runs
// outside the stripe; the delivering flag keeps it single-flight.
func (q *Queue) inject(sess session.Session, st *deliveryState, batch []*Message) bool {
	pane := sess.Pane()
	caps := sess.Capabilities()

	// Channel selection: any urgent message forces the interrupt path;
	// an all-steer batch uses the steer sequence when the provider
	// supports it, else falls back to urgent.
	urgent, steer := false, len(batch) > 0
	for _, m := range batch {
		if m.Mode == ModeUrgent {
			urgent = true
		}
		if m.Mode != ModeSteer {
			steer = false
		}
	}
	if steer && !caps.SupportsSteer {
		q.logger.Printf("Warning: steer to %s provider %s unsupported, using urgent", sess.ID, sess.Provider)
		steer, urgent = false, true
	}

	// Only the calm path respects a human draft on the prompt line.
	// Urgent overwrites it after the interrupt; steer lands mid-turn
	// where no draft exists.
	if !urgent && !steer {
		if !q.guardUserInput(sess.ID, st, pane) {
			q.requeue(st, sess.ID, batch)
			return false
		}
	}

	payload := renderBatch(batch)
	var err error
	switch {
	case urgent:
		if err = q.term.SendInterrupt(pane); err == nil {
			q.sleep(constants.InterruptSettleDelay)
			err = q.term.SendText(pane, payload)
		}
	case steer:
		if err = q.term.SendRaw(pane, "Enter"); err == nil {
			err = q.term.SendText(pane, payload)
		}
	default:
		err = q.term.SendText(pane, payload)
	}

	if err != nil {
		if errors.Is(err, tmux.ErrPaneNotFound) || errors.Is(err, tmux.ErrNoServer) {
			q.logger.Printf("Warning: pane gone for %s, dropping %d message(s)", sess.ID, len(batch))
			if merr := q.reg.MarkStopped(sess.ID, session.CompletionAbandoned); merr != nil {
				q.logger.Printf("Warning: marking %s stopped: %v", sess.ID, merr)
			}
			return false
		}
		q.logger.Printf("Warning: delivering to %s: %v (requeued)", sess.ID, err)
		q.requeue(st, sess.ID, batch)
		return false
	}

	q.sleep(constants.DeliverySettleDelay)
	q.finalize(sess, st, batch)
	return true
}

// requeue puts an undelivered batch back at the head, preserving FIFO.
func (q *Queue) requeue(st *deliveryState, id string, batch []*Message) {
	stripe := q.stripeFor(id)
	stripe.Lock()
	st.pending = append(batch, st.pending...)
	stripe.Unlock()
}

// finalize records a successful injection: delivered-at stamps, the target
// transitioning to RUNNING, paste-buffered notify enrollment, and delivery
// receipts.
func (q *Queue) finalize(sess session.Session, st *deliveryState, batch []*Message) {
	now := q.now().UTC()
	stripe := q.stripeFor(sess.ID)
	stripe.Lock()
	st.isIdle = false
	for _, m := range batch {
		t := now
		m.DeliveredAt = &t
		if m.NotifyOnStop && m.SenderID != "" {
			// Promotion to stop-notify happens on the next real
			// idle, not here: the stop hook for THIS batch is the
			// one that should notify.
			st.pasteBufferedSenderID = m.SenderID
		}
	}
	stripe.Unlock()

	if err := q.reg.Update(sess.ID, func(s *session.Session) {
		s.Status = session.StatusRunning
	}); err != nil {
		q.logger.Printf("Warning: marking %s running after delivery: %v", sess.ID, err)
	}

	for _, m := range batch {
		if !m.NotifyOnDelivery || m.SenderID == "" {
			continue
		}
		m := m
		go func() {
			if m.NotifyAfter > 0 {
				q.sleep(m.NotifyAfter)
			}
			if !q.reg.Exists(m.SenderID) {
				return
			}
			q.Enqueue(Message{
				TargetID:   m.SenderID,
				SenderID:   sess.ID,
				SenderName: sess.DisplayName(),
				Text:       "[delivered] your message to " + sess.DisplayName() + " (" + session.ShortID(sess.ID) + ") was delivered.",
				Mode:       ModeSequential,
			})
		}()
	}
}

// promptDraft returns any user-typed text sitting after the prompt marker
// on the pane's last non-empty line. Capture failures read as no draft.
func (q *Queue) promptDraft(pane string) string {
	lines, err := q.term.CapturePaneLines(pane, 5)
	if err != nil {
		return ""
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], " ")
		if line == "" {
			continue
		}
		trimmed := strings.TrimLeft(line, " ")
		if after, ok := strings.CutPrefix(trimmed, "> "); ok {
			return strings.TrimSpace(after)
		}
		return ""
	}
	return ""
}

// guardUserInput blocks delivery while a human draft sits on the prompt
// line. A draft unchanged for the stale timeout is saved and cleared; a
// draft that keeps changing holds delivery indefinitely. Returns false only
// when the session vanishes mid-guard.
func (q *Queue) guardUserInput(id string, st *deliveryState, pane string) bool {
	stripe := q.stripeFor(id)
	for {
		draft := q.promptDraft(pane)
		if draft == "" {
			// Final re-check right before the send: a draft begun
			// in the micro-window re-enters polling.
			if again := q.promptDraft(pane); again == "" {
				stripe.Lock()
				st.pendingUserInput = ""
				stripe.Unlock()
				return true
			}
			continue
		}

		stripe.Lock()
		if st.pendingUserInput != draft {
			st.pendingUserInput = draft
			st.pendingInputSeenAt = q.now()
			stripe.Unlock()
		} else if q.now().Sub(st.pendingInputSeenAt) >= q.timing.InputStaleTimeout {
			st.savedUserInput = draft
			st.pendingUserInput = ""
			stripe.Unlock()
			if err := q.term.ClearLine(pane); err != nil {
				q.logger.Printf("Warning: clearing draft on %s: %v", pane, err)
			}
			return true
		} else {
			stripe.Unlock()
		}

		if !q.reg.Exists(id) {
			return false
		}
		q.sleep(q.timing.InputPollInterval)
	}
}
