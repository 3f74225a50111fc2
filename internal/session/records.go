package session

import "time"

// RemindRecord is the persisted form of a periodic reminder registration.
// At most one per session.
type RemindRecord struct {
	ChildID    string    `json:"child_id"`
	SoftPeriod int       `json:"soft_period_seconds"`
	HardPeriod int       `json:"hard_period_seconds"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// ParentWakeRecord is the persisted form of a parent-wake registration.
type ParentWakeRecord struct {
	ID            string     `json:"id"`
	ChildID       string     `json:"child_id"`
	ParentID      string     `json:"parent_id"`
	PeriodSeconds int        `json:"period_seconds"`
	RegisteredAt  time.Time  `json:"registered_at"`
	LastWakeAt    *time.Time `json:"last_wake_at,omitempty"`
	// LastStatusTextAt records when the child's status text last changed as
	// of the previous wake, so a digest can flag a silent child.
	LastStatusTextAt *time.Time `json:"last_status_text_at_prev_wake,omitempty"`
	Escalated        bool       `json:"escalated"`
	Active           bool       `json:"is_active"`
}

// EMTopic remembers the last EM session's forum thread so a successor EM
// can inherit it.
type EMTopic struct {
	Chat   int64 `json:"chat"`
	Thread int64 `json:"thread"`
}
