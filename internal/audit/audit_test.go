package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndReadBack(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	code := 0
	err := s.Record(Event{
		Timestamp:     ts,
		SessionID:     "1a2b3c4d",
		ToolName:      "Bash",
		IsDestructive: true,
		BashCommand:   "rm -rf build/",
		ExitCode:      &code,
	})
	if err != nil {
		t.Fatal(err)
	}

	events, err := s.LastEvents("1a2b3c4d", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	e := events[0]
	if !e.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, ts)
	}
	if e.Timestamp.Location() != time.UTC {
		t.Error("timestamp not read back as UTC")
	}
	if !e.IsDestructive || e.BashCommand != "rm -rf build/" {
		t.Errorf("event = %+v", e)
	}
	if e.ExitCode == nil || *e.ExitCode != 0 {
		t.Errorf("exit code = %v", e.ExitCode)
	}
}

func TestLastEventsNewestFirstAndScoped(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.Record(Event{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			SessionID: "1a2b3c4d",
			ToolName:  "Edit",
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Record(Event{Timestamp: base, SessionID: "ffffffff", ToolName: "Write"}); err != nil {
		t.Fatal(err)
	}

	events, err := s.LastEvents("1a2b3c4d", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.After(events[i-1].Timestamp) {
			t.Errorf("events not newest first: %v then %v", events[i-1].Timestamp, events[i].Timestamp)
		}
	}
	for _, e := range events {
		if e.SessionID != "1a2b3c4d" {
			t.Errorf("foreign session row leaked: %+v", e)
		}
	}
}

func TestZeroTimestampFilledWithNow(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	if err := s.Record(Event{SessionID: "1a2b3c4d", ToolName: "Read"}); err != nil {
		t.Fatal(err)
	}
	events, err := s.LastEvents("1a2b3c4d", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !events[0].Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", events[0].Timestamp, fixed)
	}
}
