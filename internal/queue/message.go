// Package queue implements per-session message queues with an idle-gated
// delivery engine.
//
// Messages land on a target's pane as keystrokes. Delivery timing is the
// whole problem: a message injected while the agent is mid-turn is lost or,
// worse, misread as user steering. The queue tracks each session's idle
// state via stop hooks, batches pending messages per target, guards against
// clobbering a human draft on the prompt line, and reconciles context-clear
// side effects through a skip fence.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xcawolfe-amzn/switchboard/internal/session"
)

// Mode selects when a message lands on the target's pane.
type Mode string

const (
	// ModeSequential delivers when the target is idle with no pending
	// prompt draft. The default.
	ModeSequential Mode = "sequential"

	// ModeImportant delivers on the target's next stop hook even if the
	// target is chain-working through absorbed stops.
	ModeImportant Mode = "important"

	// ModeUrgent interrupts the target and delivers immediately.
	ModeUrgent Mode = "urgent"

	// ModeSteer injects into an in-progress turn on providers that
	// support it. Falls back to urgent elsewhere.
	ModeSteer Mode = "steer"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSequential, ModeImportant, ModeUrgent, ModeSteer:
		return Mode(s), nil
	case "":
		return ModeSequential, nil
	}
	return "", fmt.Errorf("unknown delivery mode %q", s)
}

// Message is one queued inter-agent message.
type Message struct {
	ID         string
	TargetID   string
	SenderID   string // empty for operator messages
	SenderName string
	Text       string
	Mode       Mode
	QueuedAt   time.Time

	// Deadline, when set, expires the message: an expired message is
	// dropped with a warning at the next delivery pass.
	Deadline *time.Time

	// NotifyOnStop asks for an "[agent stopped]" message back to the
	// sender when the target next really goes idle after delivery.
	// EM-gated at queue time; see Enqueue.
	NotifyOnStop bool

	// NotifyOnDelivery asks for a delivery receipt back to the sender.
	NotifyOnDelivery bool

	// NotifyAfter delays the delivery receipt.
	NotifyAfter time.Duration

	DeliveredAt *time.Time
}

// header renders the per-sender batch header.
func (m *Message) header() string {
	name := m.SenderName
	if name == "" {
		name = "operator"
	}
	short := m.SenderID
	if short == "" {
		short = "op"
	} else {
		short = session.ShortID(short)
	}
	return fmt.Sprintf("[From %s (%s)]", name, short)
}

// newMessageID allocates a message id.
func newMessageID() string {
	return uuid.NewString()
}
