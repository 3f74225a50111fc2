package remind

import (
	"fmt"
	"strings"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/session"
)

// digestToolEvents is how many recent tool events a digest includes.
const digestToolEvents = 5

// relAge renders a relative age in minutes. Both sides are forced to UTC:
// the audit store keeps UTC-naive timestamps, and comparing those against
// local time yields negative ages on westward timezones.
func relAge(now, then time.Time) string {
	diff := now.UTC().Sub(then.UTC())
	m := int(diff.Minutes())
	if m <= 0 {
		return "just now"
	}
	return fmt.Sprintf("%dm ago", m)
}

// buildDigest assembles the parent-wake digest for a child and reports
// whether the wake escalated (no status change since the previous wake).
func (s *Scheduler) buildDigest(child session.Session, rec session.ParentWakeRecord) (string, bool) {
	now := s.now().UTC()
	var b strings.Builder
	fmt.Fprintf(&b, "[parent-wake] %s (%s) is %s.\n",
		child.DisplayName(), session.ShortID(child.ID), child.Status)

	if child.StatusText != "" && child.StatusTextAt != nil {
		fmt.Fprintf(&b, "status: %q (%s)\n", child.StatusText, relAge(now, *child.StatusTextAt))
	} else {
		b.WriteString("status: none reported\n")
	}
	if child.LastToolCall != nil {
		fmt.Fprintf(&b, "last tool call: %s\n", relAge(now, *child.LastToolCall))
	}

	escalated := false
	if rec.LastWakeAt != nil && sameTimestamp(child.StatusTextAt, rec.LastStatusTextAt) {
		escalated = true
		b.WriteString("no status change since the previous wake.\n")
	}

	if s.audit != nil {
		events, err := s.audit.LastEvents(child.ID, digestToolEvents)
		if err != nil {
			s.logger.Printf("Warning: reading tool events for %s: %v", child.ID, err)
		} else if len(events) > 0 {
			b.WriteString("recent tools:\n")
			for _, e := range events {
				detail := e.TargetFile
				if e.BashCommand != "" {
					detail = e.BashCommand
				}
				if detail != "" {
					fmt.Fprintf(&b, "  - %s %s (%s)\n", e.ToolName, detail, relAge(now, e.Timestamp))
				} else {
					fmt.Fprintf(&b, "  - %s (%s)\n", e.ToolName, relAge(now, e.Timestamp))
				}
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), escalated
}

func sameTimestamp(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
