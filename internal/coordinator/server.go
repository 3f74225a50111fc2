package coordinator

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/hookevent"
	"github.com/xcawolfe-amzn/switchboard/internal/review"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
)

// callerHeader carries the requesting session's id. Empty means operator.
const callerHeader = "X-Switchboard-Session"

// routes builds the RPC mux.
func (c *Coordinator) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", c.handleHealth)

	mux.HandleFunc("POST /sessions", c.handleCreateSession)
	mux.HandleFunc("GET /sessions", c.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", c.handleGetSession)
	mux.HandleFunc("PATCH /sessions/{id}", c.handlePatchSession)
	mux.HandleFunc("DELETE /sessions/{id}", c.handleKillSession)

	mux.HandleFunc("POST /sessions/{id}/input", c.handleInput)
	mux.HandleFunc("POST /sessions/{id}/watch", c.handleWatch)
	mux.HandleFunc("POST /sessions/{id}/clear", c.handleClear)
	mux.HandleFunc("POST /sessions/{id}/invalidate-cache", c.handleInvalidateCache)
	mux.HandleFunc("POST /sessions/{id}/task-complete", c.handleTaskComplete)
	mux.HandleFunc("POST /sessions/{id}/remind", c.handleRemind)
	mux.HandleFunc("POST /sessions/{id}/parent-wake", c.handleParentWake)
	mux.HandleFunc("POST /sessions/{id}/review", c.handleReview)
	mux.HandleFunc("GET /sessions/{id}/queue", c.handleQueue)
	mux.HandleFunc("GET /sessions/{id}/peek", c.handlePeek)
	mux.HandleFunc("GET /sessions/{id}/tools", c.handleTools)

	mux.HandleFunc("POST /reviews/pr", c.handlePRReview)

	mux.HandleFunc("POST /hooks/agent", c.handleHook)

	mux.HandleFunc("GET /locks", c.handleListLocks)
	mux.HandleFunc("POST /locks", c.handleAcquireLock)
	mux.HandleFunc("DELETE /locks", c.handleReleaseLock)

	return mux
}

func caller(r *http.Request) string { return r.Header.Get(callerHeader) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform RPC error shape.
type errorBody struct {
	Error string    `json:"error"`
	Kind  ErrorKind `json:"kind"`
}

func writeErr(w http.ResponseWriter, err error) {
	kind := kindOf(err)
	writeJSON(w, httpStatus(kind), errorBody{Error: err.Error(), Kind: kind})
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errBadRequest
	}
	return nil
}

func (c *Coordinator) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"pid":            os.Getpid(),
		"started_at":     c.startedAt.UTC().Format(time.RFC3339),
		"sessions":       len(c.reg.List()),
		"uptime_seconds": int(time.Since(c.startedAt).Seconds()),
	})
}

func (c *Coordinator) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var p CreateParams
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	if p.ParentID == "" {
		p.ParentID = caller(r)
	}
	s, err := c.CreateSession(p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (c *Coordinator) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.reg.List())
}

func (c *Coordinator) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := c.reg.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (c *Coordinator) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	var p PatchParams
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	s, err := c.PatchSession(r.PathValue("id"), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (c *Coordinator) handleKillSession(w http.ResponseWriter, r *http.Request) {
	if err := c.KillSession(caller(r), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleInput(w http.ResponseWriter, r *http.Request) {
	var p InputParams
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	if p.SenderID == "" {
		p.SenderID = caller(r)
	}
	m, err := c.QueueInput(r.PathValue("id"), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "queued",
		"mode":       string(m.Mode),
		"message_id": m.ID,
	})
}

func (c *Coordinator) handleWatch(w http.ResponseWriter, r *http.Request) {
	var p struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	if err := c.WatchSession(caller(r), r.PathValue("id"), timeout); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Coordinator) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := c.ClearSession(caller(r), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	if err := c.InvalidateCache(r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Note string `json:"note,omitempty"`
	}
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	if err := c.TaskComplete(caller(r), r.PathValue("id"), p.Note); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleRemind(w http.ResponseWriter, r *http.Request) {
	var p struct {
		SoftSeconds int `json:"soft_seconds,omitempty"`
		HardSeconds int `json:"hard_seconds,omitempty"`
	}
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	err := c.RegisterRemind(caller(r), r.PathValue("id"),
		time.Duration(p.SoftSeconds)*time.Second,
		time.Duration(p.HardSeconds)*time.Second)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Coordinator) handleParentWake(w http.ResponseWriter, r *http.Request) {
	var p struct {
		PeriodSeconds int `json:"period_seconds"`
	}
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	regID, err := c.RegisterParentWake(caller(r), r.PathValue("id"),
		time.Duration(p.PeriodSeconds)*time.Second)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"registration_id": regID})
}

func (c *Coordinator) handleReview(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Mode           string `json:"mode"`
		Base           string `json:"base,omitempty"`
		Commit         string `json:"commit,omitempty"`
		Custom         string `json:"custom,omitempty"`
		Steer          string `json:"steer,omitempty"`
		Watch          bool   `json:"watch,omitempty"`
		TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	}
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	req := review.Request{
		Mode:   session.ReviewMode(p.Mode),
		Base:   p.Base,
		Commit: p.Commit,
		Custom: p.Custom,
		Steer:  p.Steer,
	}
	err := c.StartReview(caller(r), r.PathValue("id"), req, p.Watch,
		time.Duration(p.TimeoutSeconds)*time.Second)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Coordinator) handleQueue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !c.reg.Exists(id) {
		writeErr(w, session.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"is_idle": c.q.IsIdle(id),
		"pending": c.q.Pending(id),
	})
}

func (c *Coordinator) handlePeek(w http.ResponseWriter, r *http.Request) {
	s, err := c.reg.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	lines := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && n > 0 {
		lines = n
	}
	capture, err := c.term.CapturePane(s.Pane(), lines)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"capture": capture})
}

func (c *Coordinator) handleTools(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !c.reg.Exists(id) {
		writeErr(w, session.ErrNotFound)
		return
	}
	n := 20
	if q, err := strconv.Atoi(r.URL.Query().Get("n")); err == nil && q > 0 {
		n = q
	}
	events, err := c.auditlog.LastEvents(id, n)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (c *Coordinator) handlePRReview(w http.ResponseWriter, r *http.Request) {
	var p struct {
		PR             int    `json:"pr"`
		Repo           string `json:"repo"`
		Steer          string `json:"steer,omitempty"`
		Wait           bool   `json:"wait,omitempty"`
		TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	}
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	res, err := c.StartPRReview(r.Context(), p.PR, p.Repo, p.Steer, p.Wait,
		time.Duration(p.TimeoutSeconds)*time.Second)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleHook receives agent runtime hook callbacks. Always 200: hook
// processing is fire-and-forget and a failing coordinator must never block
// the agent's own turn.
func (c *Coordinator) handleHook(w http.ResponseWriter, r *http.Request) {
	var e hookevent.Event
	if err := decode(r, &e); err != nil {
		writeJSON(w, http.StatusOK, hookevent.Response{})
		return
	}
	writeJSON(w, http.StatusOK, c.hooks.Handle(e))
}

func (c *Coordinator) handleListLocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.locks.All())
}

type lockParams struct {
	WorkingDir string `json:"working_dir"`
	Reason     string `json:"reason,omitempty"`
}

func (c *Coordinator) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	var p lockParams
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	if p.WorkingDir == "" {
		writeErr(w, errBadRequest)
		return
	}
	owner := caller(r)
	if owner == "" {
		owner = "operator"
	}
	if err := c.locks.Acquire(p.WorkingDir, owner, p.Reason); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (c *Coordinator) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	var p lockParams
	if err := decode(r, &p); err != nil {
		writeErr(w, err)
		return
	}
	owner := caller(r)
	if owner == "" {
		owner = "operator"
	}
	if err := c.locks.Release(p.WorkingDir, owner); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
