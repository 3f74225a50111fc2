package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/config"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

// recordingNotifier captures forum calls as "op:chat:thread" strings.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) record(op string, chat, thread int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf("%s:%d:%d", op, chat, thread))
}

func (n *recordingNotifier) CreateThread(ctx context.Context, chat int64, title string) (int64, error) {
	n.record("create", chat, 0)
	return 700, nil
}

func (n *recordingNotifier) CloseThread(ctx context.Context, chat, thread int64) error {
	n.record("close", chat, thread)
	return nil
}

func (n *recordingNotifier) DeleteThread(ctx context.Context, chat, thread int64) error {
	n.record("delete", chat, thread)
	return nil
}

func (n *recordingNotifier) Send(ctx context.Context, chat, thread int64, text string, replyTo int64) error {
	n.record("send", chat, thread)
	return nil
}

func (n *recordingNotifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	copy(out, n.calls)
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, *tmux.FakeAdapter, *recordingNotifier) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	term := tmux.NewFakeAdapter()
	notifier := &recordingNotifier{}
	c, err := New(cfg, term, notifier, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.auditlog.Close() })
	return c, term, notifier
}

func postJSON(t *testing.T, srv *httptest.Server, path, callerID string, body any) *http.Response {
	t.Helper()
	return doJSON(t, srv, http.MethodPost, path, callerID, body)
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, callerID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if callerID != "" {
		req.Header.Set(callerHeader, callerID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestCreateGetAndList(t *testing.T) {
	c, _, notifier := newTestCoordinator(t)
	srv := httptest.NewServer(c.routes())
	defer srv.Close()

	resp := postJSON(t, srv, "/sessions", "", CreateParams{
		WorkingDir:   "/work",
		FriendlyName: "builder",
		ChatID:       42,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var s session.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if s.FriendlyName != "builder" || s.Status != session.StatusCreated {
		t.Errorf("created session = %+v", s)
	}
	if s.ForumChatID != 42 || s.ForumThreadID != 700 {
		t.Errorf("forum thread not recorded: chat=%d thread=%d", s.ForumChatID, s.ForumThreadID)
	}
	if calls := notifier.Calls(); len(calls) != 1 || calls[0] != "create:42:0" {
		t.Errorf("notifier calls = %v", calls)
	}

	resp = doJSON(t, srv, http.MethodGet, "/sessions/"+s.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodGet, "/sessions/nope0000", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
	var eb errorBody
	json.NewDecoder(resp.Body).Decode(&eb)
	resp.Body.Close()
	if eb.Kind != KindUnknownSession {
		t.Errorf("error kind = %s", eb.Kind)
	}
}

func TestKillIsParentScoped(t *testing.T) {
	c, term, _ := newTestCoordinator(t)
	srv := httptest.NewServer(c.routes())
	defer srv.Close()

	parent, err := c.CreateSession(CreateParams{WorkingDir: "/work"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := c.CreateSession(CreateParams{WorkingDir: "/work", ParentID: parent.ID})
	if err != nil {
		t.Fatal(err)
	}
	stranger, err := c.CreateSession(CreateParams{WorkingDir: "/work"})
	if err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, srv, http.MethodDelete, "/sessions/"+child.ID, stranger.ID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("stranger kill status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodDelete, "/sessions/"+child.ID, parent.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("parent kill status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	if c.reg.Exists(child.ID) {
		t.Error("child still registered after kill")
	}
	if alive, _ := term.HasPane(child.Pane()); alive {
		t.Error("child pane still alive after kill")
	}
}

func TestKillReleasesLocksAndQueue(t *testing.T) {
	c, _, notifier := newTestCoordinator(t)

	s, err := c.CreateSession(CreateParams{WorkingDir: "/work", ChatID: 42})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.locks.Acquire("/work", s.ID, "migrating"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.QueueInput(s.ID, InputParams{Text: "pending message"}); err != nil {
		t.Fatal(err)
	}

	if err := c.KillSession("", s.ID); err != nil {
		t.Fatal(err)
	}
	if _, held := c.locks.OwnerOf("/work"); held {
		t.Error("workspace lock survived the kill")
	}
	if n := c.q.PendingCount(s.ID); n != 0 {
		t.Errorf("pending count after kill = %d", n)
	}

	var closed bool
	for _, call := range notifier.Calls() {
		if call == "close:42:700" {
			closed = true
		}
	}
	if !closed {
		t.Errorf("thread not closed on kill: %v", notifier.Calls())
	}
}

func TestReconcileDropsDeadPanesWithoutForumCalls(t *testing.T) {
	c, term, notifier := newTestCoordinator(t)

	alive, err := c.CreateSession(CreateParams{WorkingDir: "/work", ChatID: 42})
	if err != nil {
		t.Fatal(err)
	}
	dead, err := c.CreateSession(CreateParams{WorkingDir: "/work", ChatID: 42})
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a pane that died while the coordinator was down.
	if err := term.KillPane(session.PaneName(dead.ID)); err != nil {
		t.Fatal(err)
	}

	before := len(notifier.Calls())
	orphans, err := c.reconcile()
	if err != nil {
		t.Fatal(err)
	}
	if got := len(notifier.Calls()); got != before {
		t.Fatalf("reconcile made %d forum calls before bind", got-before)
	}
	if len(orphans) != 1 || orphans[0].thread != 700 {
		t.Fatalf("orphans = %+v", orphans)
	}
	if !c.reg.Exists(alive.ID) {
		t.Error("live session dropped by reconcile")
	}
	if c.reg.Exists(dead.ID) {
		t.Error("dead session survived reconcile")
	}

	c.settleForum(context.Background(), orphans)
	var deleted bool
	for _, call := range notifier.Calls() {
		if call == "delete:42:700" {
			deleted = true
		}
	}
	if !deleted {
		t.Errorf("orphan thread not deleted after bind: %v", notifier.Calls())
	}
}

func TestPromptIdleDeliversToCodexSession(t *testing.T) {
	c, term, _ := newTestCoordinator(t)

	s, err := c.CreateSession(CreateParams{WorkingDir: "/work", Provider: "codex-tmux"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.QueueInput(s.ID, InputParams{Text: "pick up the next task"}); err != nil {
		t.Fatal(err)
	}
	term.SetPane(session.PaneName(s.ID), "tokens used: 1234\n> ")

	c.mon.Sweep()
	if n := c.q.PendingCount(s.ID); n != 1 {
		t.Fatalf("delivered on a single prompt sighting (pending=%d)", n)
	}

	// Second sighting confirms idle; the queue delivers and the session
	// transitions back to RUNNING.
	c.mon.Sweep()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := c.reg.Get(s.ID)
		if c.q.PendingCount(s.ID) == 0 && got.Status == session.StatusRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := c.q.PendingCount(s.ID); n != 0 {
		t.Fatalf("message still pending after confirmed prompt (pending=%d)", n)
	}
	var sent bool
	for _, op := range term.SentOps() {
		if strings.HasPrefix(op, "text:"+session.PaneName(s.ID)+":") &&
			strings.Contains(op, "pick up the next task") {
			sent = true
		}
	}
	if !sent {
		t.Errorf("queued text never reached the pane: %v", term.SentOps())
	}
	if got, _ := c.reg.Get(s.ID); got.Status != session.StatusRunning {
		t.Errorf("status after delivery = %s, want RUNNING", got.Status)
	}
}

func TestBindRaceLoserLeavesSnapshotAlone(t *testing.T) {
	c, term, _ := newTestCoordinator(t)

	dead, err := c.CreateSession(CreateParams{WorkingDir: "/work"})
	if err != nil {
		t.Fatal(err)
	}
	if err := term.KillPane(session.PaneName(dead.ID)); err != nil {
		t.Fatal(err)
	}

	if _, err := c.reconcile(); err != nil {
		t.Fatal(err)
	}
	// The prune stays in memory until the port binds: an instance that
	// loses the bind race must not have rewritten the winner's snapshot.
	raw, err := os.ReadFile(c.cfg.SnapshotPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), dead.ID) {
		t.Fatal("snapshot rewritten before the port bind")
	}

	c.reg.Persist()
	raw, err = os.ReadFile(c.cfg.SnapshotPath())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), dead.ID) {
		t.Error("dead session survived the post-bind persist")
	}
}

func TestEMThreadInheritance(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	first, err := c.CreateSession(CreateParams{WorkingDir: "/work", ChatID: 42})
	if err != nil {
		t.Fatal(err)
	}
	em := true
	if _, err := c.PatchSession(first.ID, PatchParams{IsEM: &em}); err != nil {
		t.Fatal(err)
	}
	topic := c.reg.EMTopic()
	if topic == nil || topic.Chat != 42 || topic.Thread != 700 {
		t.Fatalf("EM topic = %+v", topic)
	}

	// A successor EM inherits the first EM's thread instead of keeping its own.
	second, err := c.CreateSession(CreateParams{WorkingDir: "/work"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.PatchSession(second.ID, PatchParams{IsEM: &em})
	if err != nil {
		t.Fatal(err)
	}
	if got.ForumChatID != 42 || got.ForumThreadID != 700 {
		t.Errorf("successor EM thread = %d/%d, want 42/700", got.ForumChatID, got.ForumThreadID)
	}
}

func TestLockEndpoints(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	srv := httptest.NewServer(c.routes())
	defer srv.Close()

	s, err := c.CreateSession(CreateParams{WorkingDir: "/work"})
	if err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv, "/locks", s.ID, lockParams{WorkingDir: "/work", Reason: "schema"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("acquire status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv, "/locks", "", lockParams{WorkingDir: "/work"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second acquire status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodDelete, "/locks", "", lockParams{WorkingDir: "/work"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("release by non-owner status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodDelete, "/locks", s.ID, lockParams{WorkingDir: "/work"})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("release status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHookEndpointAlwaysOK(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	srv := httptest.NewServer(c.routes())
	defer srv.Close()

	// Unknown session, garbage kind: still 200.
	resp := postJSON(t, srv, "/hooks/agent", "", map[string]string{
		"session_id": "nope0000",
		"kind":       "stop",
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("hook status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestQueueInputValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	s, err := c.CreateSession(CreateParams{WorkingDir: "/work"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.QueueInput(s.ID, InputParams{}); err == nil {
		t.Error("empty text accepted")
	}
	if _, err := c.QueueInput(s.ID, InputParams{Text: "hi", Mode: "yelling"}); err == nil {
		t.Error("unknown mode accepted")
	}
	if _, err := c.QueueInput("nope0000", InputParams{Text: "hi"}); err == nil {
		t.Error("unknown target accepted")
	}
	m, err := c.QueueInput(s.ID, InputParams{Text: "hi", Mode: "important", DeadlineSeconds: 60})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || m.Deadline == nil {
		t.Errorf("message = %+v", m)
	}
}

func TestTaskCompleteIsSelfScoped(t *testing.T) {
	c, _, notifier := newTestCoordinator(t)

	s, err := c.CreateSession(CreateParams{WorkingDir: "/work", ChatID: 42})
	if err != nil {
		t.Fatal(err)
	}
	other, err := c.CreateSession(CreateParams{WorkingDir: "/work"})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.TaskComplete(other.ID, s.ID, ""); err == nil {
		t.Error("another session reported completion on s's behalf")
	}
	if err := c.TaskComplete(s.ID, s.ID, "done"); err != nil {
		t.Fatal(err)
	}
	got, _ := c.reg.Get(s.ID)
	if got.CompletionStatus != session.CompletionCompleted {
		t.Errorf("completion = %q", got.CompletionStatus)
	}
	var closed bool
	for _, call := range notifier.Calls() {
		if call == "close:42:700" {
			closed = true
		}
	}
	if !closed {
		t.Errorf("thread not closed on completion: %v", notifier.Calls())
	}
}

func TestRealIdleCancelsRemindAndWake(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	parent, err := c.CreateSession(CreateParams{WorkingDir: "/work"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := c.CreateSession(CreateParams{WorkingDir: "/work", ParentID: parent.ID})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterRemind("", child.ID, time.Hour, 2*time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RegisterParentWake(parent.ID, child.ID, time.Hour); err != nil {
		t.Fatal(err)
	}

	c.q.MarkSessionIdle(child.ID, true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.reg.Reminds()) == 0 && len(activeWakes(c)) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("records after real idle: reminds=%d wakes=%d",
		len(c.reg.Reminds()), len(activeWakes(c)))
}

func activeWakes(c *Coordinator) []session.ParentWakeRecord {
	var out []session.ParentWakeRecord
	for _, w := range c.reg.ParentWakes() {
		if w.Active {
			out = append(out, w)
		}
	}
	return out
}
