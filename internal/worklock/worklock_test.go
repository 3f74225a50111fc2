package worklock

import (
	"errors"
	"testing"
)

func TestAcquireConflicts(t *testing.T) {
	m := NewManager()
	if err := m.Acquire("/work/a", "s1", "schema"); err != nil {
		t.Fatal(err)
	}
	if err := m.Acquire("/work/a", "s2", ""); !errors.Is(err, ErrHeld) {
		t.Errorf("second owner err = %v, want ErrHeld", err)
	}
	// Re-entry by the same owner is also refused.
	if err := m.Acquire("/work/a", "s1", ""); !errors.Is(err, ErrHeld) {
		t.Errorf("re-entry err = %v, want ErrHeld", err)
	}
	// A trailing slash is the same directory.
	if err := m.Acquire("/work/a/", "s2", ""); !errors.Is(err, ErrHeld) {
		t.Errorf("uncleaned path err = %v, want ErrHeld", err)
	}
}

func TestReleaseOwnership(t *testing.T) {
	m := NewManager()
	if err := m.Acquire("/work/a", "s1", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Release("/work/a", "s2"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("non-owner release err = %v, want ErrNotHeld", err)
	}
	if err := m.Release("/work/a", "s1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Release("/work/a", "s1"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("double release err = %v, want ErrNotHeld", err)
	}
}

func TestOwnerOf(t *testing.T) {
	m := NewManager()
	if _, held := m.OwnerOf("/work/a"); held {
		t.Error("empty manager reports a holder")
	}
	m.Acquire("/work/a", "s1", "migrating")
	l, held := m.OwnerOf("/work/a")
	if !held || l.OwnerID != "s1" || l.Reason != "migrating" {
		t.Errorf("lock = %+v held=%v", l, held)
	}
}

func TestReleaseAllFor(t *testing.T) {
	m := NewManager()
	m.Acquire("/work/a", "s1", "")
	m.Acquire("/work/b", "s1", "")
	m.Acquire("/work/c", "s2", "")

	if n := m.ReleaseAllFor("s1"); n != 2 {
		t.Errorf("released %d, want 2", n)
	}
	if locks := m.All(); len(locks) != 1 || locks[0].OwnerID != "s2" {
		t.Errorf("remaining locks = %+v", locks)
	}
}
