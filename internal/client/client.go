// Package client is the CLI-side RPC client for the coordinator.
//
// Every command in the sm binary except serve goes through here. Transport
// failures are distinguished from coordinator-reported errors so the CLI
// can exit 2 when the coordinator simply is not running.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/audit"
	"github.com/xcawolfe-amzn/switchboard/internal/constants"
	"github.com/xcawolfe-amzn/switchboard/internal/coordinator"
	"github.com/xcawolfe-amzn/switchboard/internal/hookevent"
	"github.com/xcawolfe-amzn/switchboard/internal/review"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/worklock"
)

// ErrUnavailable means the coordinator could not be reached at all.
var ErrUnavailable = errors.New("coordinator unavailable")

// APIError is a coordinator-reported failure.
type APIError struct {
	Status  int
	Kind    coordinator.ErrorKind
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("coordinator returned %d", e.Status)
}

// ExitCode maps an error onto the CLI exit convention: 0 success, 2 when
// the coordinator is unreachable, 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUnavailable):
		return 2
	default:
		return 1
	}
}

// Client talks to one coordinator instance.
type Client struct {
	base      string
	sessionID string
	http      *http.Client
}

// New creates a client for the coordinator at addr (host:port). The
// caller's session identity, when present, rides on every request.
func New(addr, sessionID string) *Client {
	return &Client{
		base:      "http://" + addr,
		sessionID: sessionID,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

// do issues one request. body and out may be nil.
func (c *Client) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		req.Header.Set("X-Switchboard-Session", c.sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb struct {
			Error string                `json:"error"`
			Kind  coordinator.ErrorKind `json:"kind"`
		}
		json.NewDecoder(resp.Body).Decode(&eb)
		return &APIError{Status: resp.StatusCode, Kind: eb.Kind, Message: eb.Error}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// Health describes a live coordinator.
type Health struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int    `json:"uptime_seconds"`
}

func (c *Client) Health() (Health, error) {
	var h Health
	err := c.do(http.MethodGet, "/health", nil, &h)
	return h, err
}

func (c *Client) CreateSession(p coordinator.CreateParams) (session.Session, error) {
	var s session.Session
	err := c.do(http.MethodPost, "/sessions", p, &s)
	return s, err
}

func (c *Client) ListSessions() ([]session.Session, error) {
	var out []session.Session
	err := c.do(http.MethodGet, "/sessions", nil, &out)
	return out, err
}

func (c *Client) GetSession(id string) (session.Session, error) {
	var s session.Session
	err := c.do(http.MethodGet, "/sessions/"+id, nil, &s)
	return s, err
}

func (c *Client) PatchSession(id string, p coordinator.PatchParams) (session.Session, error) {
	var s session.Session
	err := c.do(http.MethodPatch, "/sessions/"+id, p, &s)
	return s, err
}

func (c *Client) KillSession(id string) error {
	return c.do(http.MethodDelete, "/sessions/"+id, nil, nil)
}

// SendInput queues a message for a target and returns the message id.
func (c *Client) SendInput(id string, p coordinator.InputParams) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.do(http.MethodPost, "/sessions/"+id+"/input", p, &out)
	return out.MessageID, err
}

func (c *Client) Watch(id string, timeout time.Duration) error {
	p := struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}{int(timeout.Seconds())}
	return c.do(http.MethodPost, "/sessions/"+id+"/watch", p, nil)
}

func (c *Client) Clear(id string) error {
	return c.do(http.MethodPost, "/sessions/"+id+"/clear", nil, nil)
}

func (c *Client) InvalidateCache(id string) error {
	return c.do(http.MethodPost, "/sessions/"+id+"/invalidate-cache", nil, nil)
}

func (c *Client) TaskComplete(id, note string) error {
	p := struct {
		Note string `json:"note,omitempty"`
	}{note}
	return c.do(http.MethodPost, "/sessions/"+id+"/task-complete", p, nil)
}

// SetStatus records the calling session's status line.
func (c *Client) SetStatus(id, text string) error {
	_, err := c.PatchSession(id, coordinator.PatchParams{StatusText: &text})
	return err
}

func (c *Client) Remind(id string, soft, hard time.Duration) error {
	p := struct {
		SoftSeconds int `json:"soft_seconds,omitempty"`
		HardSeconds int `json:"hard_seconds,omitempty"`
	}{int(soft.Seconds()), int(hard.Seconds())}
	return c.do(http.MethodPost, "/sessions/"+id+"/remind", p, nil)
}

func (c *Client) ParentWake(id string, period time.Duration) (string, error) {
	p := struct {
		PeriodSeconds int `json:"period_seconds"`
	}{int(period.Seconds())}
	var out struct {
		RegistrationID string `json:"registration_id"`
	}
	err := c.do(http.MethodPost, "/sessions/"+id+"/parent-wake", p, &out)
	return out.RegistrationID, err
}

// ReviewParams configures an in-pane review request.
type ReviewParams struct {
	Mode           string `json:"mode"`
	Base           string `json:"base,omitempty"`
	Commit         string `json:"commit,omitempty"`
	Custom         string `json:"custom,omitempty"`
	Steer          string `json:"steer,omitempty"`
	Watch          bool   `json:"watch,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (c *Client) Review(id string, p ReviewParams) error {
	return c.do(http.MethodPost, "/sessions/"+id+"/review", p, nil)
}

// PRReviewParams configures a pull-request review request.
type PRReviewParams struct {
	PR             int    `json:"pr"`
	Repo           string `json:"repo"`
	Steer          string `json:"steer,omitempty"`
	Wait           bool   `json:"wait,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (c *Client) PRReview(p PRReviewParams) (review.PRResult, error) {
	var res review.PRResult
	err := c.do(http.MethodPost, "/reviews/pr", p, &res)
	return res, err
}

// Hook forwards an agent runtime hook event.
func (c *Client) Hook(e hookevent.Event) (hookevent.Response, error) {
	var resp hookevent.Response
	err := c.do(http.MethodPost, "/hooks/agent", e, &resp)
	return resp, err
}

// QueueState is a target's delivery-state summary.
type QueueState struct {
	IsIdle  bool            `json:"is_idle"`
	Pending json.RawMessage `json:"pending"`
}

func (c *Client) Queue(id string) (QueueState, error) {
	var qs QueueState
	err := c.do(http.MethodGet, "/sessions/"+id+"/queue", nil, &qs)
	return qs, err
}

// Peek captures the last n lines of a session's pane. n <= 0 uses the
// coordinator default.
func (c *Client) Peek(id string, n int) (string, error) {
	path := "/sessions/" + id + "/peek"
	if n > 0 {
		path += "?lines=" + strconv.Itoa(n)
	}
	var out struct {
		Capture string `json:"capture"`
	}
	err := c.do(http.MethodGet, path, nil, &out)
	return out.Capture, err
}

// Tools returns the last n recorded tool events for a session.
func (c *Client) Tools(id string, n int) ([]audit.Event, error) {
	path := "/sessions/" + id + "/tools"
	if n > 0 {
		path += "?n=" + strconv.Itoa(n)
	}
	var out []audit.Event
	err := c.do(http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Locks() ([]worklock.Lock, error) {
	var out []worklock.Lock
	err := c.do(http.MethodGet, "/locks", nil, &out)
	return out, err
}

func (c *Client) AcquireLock(workingDir, reason string) error {
	p := struct {
		WorkingDir string `json:"working_dir"`
		Reason     string `json:"reason,omitempty"`
	}{workingDir, reason}
	return c.do(http.MethodPost, "/locks", p, nil)
}

func (c *Client) ReleaseLock(workingDir string) error {
	p := struct {
		WorkingDir string `json:"working_dir"`
	}{workingDir}
	return c.do(http.MethodDelete, "/locks", p, nil)
}

// SelfID returns the session identity from the pane environment. Empty in
// operator shells.
func SelfID(getenv func(string) string) string {
	return getenv(constants.EnvSessionID)
}
