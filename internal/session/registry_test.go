package session

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func newTestRegistry(t *testing.T) (*Registry, *Store, *tmux.FakeAdapter) {
	t.Helper()
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"), filepath.Join(dir, "state.lock"))
	term := tmux.NewFakeAdapter()
	return NewRegistry(store, term, log.New(io.Discard, "", 0)), store, term
}

func TestCreateMaterializesPaneAndPersists(t *testing.T) {
	reg, store, term := newTestRegistry(t)

	s, err := reg.Create(CreateOptions{WorkingDir: "/work", FriendlyName: "builder"})
	if err != nil {
		t.Fatal(err)
	}
	if !ValidID(s.ID) {
		t.Errorf("id = %q, want 8-hex", s.ID)
	}
	if s.Status != StatusCreated || s.Provider != ProviderClaude {
		t.Errorf("session = %+v", s)
	}
	if alive, _ := term.HasPane(s.Pane()); !alive {
		t.Error("pane not created")
	}

	snap, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Sessions) != 1 || snap.Sessions[0].ID != s.ID {
		t.Errorf("snapshot sessions = %+v", snap.Sessions)
	}
}

func TestCreateThreadWithoutChatRejected(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	_, err := reg.Create(CreateOptions{WorkingDir: "/work", ThreadID: 9})
	if err == nil {
		t.Error("thread id without chat id accepted")
	}
}

func TestAuthorizeParentScope(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	parent, _ := reg.Create(CreateOptions{WorkingDir: "/work"})
	child, _ := reg.Create(CreateOptions{WorkingDir: "/work", ParentID: parent.ID})
	stranger, _ := reg.Create(CreateOptions{WorkingDir: "/work"})

	if err := reg.Authorize("", child.ID); err != nil {
		t.Errorf("operator refused: %v", err)
	}
	if err := reg.Authorize(parent.ID, child.ID); err != nil {
		t.Errorf("parent refused: %v", err)
	}
	if err := reg.Authorize(stranger.ID, child.ID); !errors.Is(err, ErrNotPermitted) {
		t.Errorf("stranger err = %v, want ErrNotPermitted", err)
	}
	if err := reg.Authorize("ghost000", child.ID); !errors.Is(err, ErrNotPermitted) {
		t.Errorf("unknown caller err = %v, want ErrNotPermitted (fail closed)", err)
	}
	if err := reg.Authorize(parent.ID, "ghost000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown target err = %v, want ErrNotFound", err)
	}
}

func TestDeleteKillsPaneAndPersists(t *testing.T) {
	reg, store, term := newTestRegistry(t)
	s, _ := reg.Create(CreateOptions{WorkingDir: "/work"})

	if err := reg.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if alive, _ := term.HasPane(s.Pane()); alive {
		t.Error("pane survived delete")
	}
	snap, _, _ := store.Load()
	if len(snap.Sessions) != 0 {
		t.Errorf("snapshot sessions after delete = %+v", snap.Sessions)
	}

	if err := reg.Delete(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	reg, store, term := newTestRegistry(t)
	s, _ := reg.Create(CreateOptions{WorkingDir: "/work", FriendlyName: "builder"})
	reg.SetEMTopic(42, 700)
	reg.PutRemind(RemindRecord{ChildID: s.ID, SoftPeriod: 210, HardPeriod: 420, Active: true})

	snap, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	fresh := NewRegistry(store, term, log.New(io.Discard, "", 0))
	fresh.Restore(snap)

	got, err := fresh.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FriendlyName != "builder" {
		t.Errorf("restored session = %+v", got)
	}
	if topic := fresh.EMTopic(); topic == nil || topic.Chat != 42 || topic.Thread != 700 {
		t.Errorf("restored EM topic = %+v", topic)
	}
	if reminds := fresh.Reminds(); len(reminds) != 1 || reminds[0].ChildID != s.ID {
		t.Errorf("restored reminders = %+v", reminds)
	}
}

func TestCompactingFlagNotPersisted(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	s, _ := reg.Create(CreateOptions{WorkingDir: "/work"})
	if err := reg.SetCompacting(s.ID, true); err != nil {
		t.Fatal(err)
	}
	reg.Persist()

	snap, _, _ := store.Load()
	if snap.Sessions[0].IsCompacting {
		t.Error("compacting flag leaked into the snapshot")
	}
}

func TestCorruptSnapshotQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := NewStore(path, filepath.Join(dir, "state.lock"))
	if err := writeFile(path, "{not json"); err != nil {
		t.Fatal(err)
	}
	snap, quarantine, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if quarantine == "" {
		t.Error("corrupt file not quarantined")
	}
	if len(snap.Sessions) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}
