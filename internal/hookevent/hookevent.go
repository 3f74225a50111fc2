// Package hookevent processes out-of-band callbacks from agent runtimes.
//
// Hooks are fire-and-forget from the agent's point of view: processing
// never returns an error to the caller. Failures are logged locally and the
// HTTP layer always answers 200.
package hookevent

import (
	"encoding/json"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/audit"
	"github.com/xcawolfe-amzn/switchboard/internal/queue"
	"github.com/xcawolfe-amzn/switchboard/internal/session"
	"github.com/xcawolfe-amzn/switchboard/internal/worklock"
)

// Kind names a hook callback.
type Kind string

const (
	KindPreToolUse   Kind = "pre-tool-use"
	KindPostToolUse  Kind = "post-tool-use"
	KindStop         Kind = "stop"
	KindSessionStart Kind = "session-start-after-compact"
	KindPreCompact   Kind = "pre-compact"
)

// Event is one hook callback payload.
type Event struct {
	SessionID      string          `json:"session_id"`
	Kind           Kind            `json:"kind"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse   json.RawMessage `json:"tool_response,omitempty"`
	ToolUseID      string          `json:"tool_use_id,omitempty"`
	CWD            string          `json:"cwd,omitempty"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
}

// Response is the hook reply. Block is only honored for pre-tool-use, where
// a workspace lock held by another session denies a destructive tool.
type Response struct {
	Block  bool   `json:"block,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Processor applies hook effects to the registry and queue.
type Processor struct {
	reg    *session.Registry
	q      *queue.Queue
	audit  *audit.Store
	locks  *worklock.Manager
	logger *log.Logger

	mu sync.Mutex
	// lastOutput caches the latest assistant message per session,
	// invalidated by a context clear.
	lastOutput map[string]string
	// pendingStop holds sessions whose stop hook arrived before the
	// transcript carried a final message; drained when one appears.
	pendingStop map[string]bool

	// onStopMessage forwards a session's final message downstream
	// (forum thread). Optional.
	onStopMessage func(sessionID, text string)

	// onCompactDone resets the session's reminder timer. Optional.
	onCompactDone func(sessionID string)
}

// NewProcessor creates a hook processor. audit may be nil (auditing off).
func NewProcessor(reg *session.Registry, q *queue.Queue, auditStore *audit.Store, locks *worklock.Manager, logger *log.Logger) *Processor {
	return &Processor{
		reg:         reg,
		q:           q,
		audit:       auditStore,
		locks:       locks,
		logger:      logger,
		lastOutput:  make(map[string]string),
		pendingStop: make(map[string]bool),
	}
}

// SetOnStopMessage registers the final-message consumer.
func (p *Processor) SetOnStopMessage(fn func(sessionID, text string)) { p.onStopMessage = fn }

// SetOnCompactDone registers the compact-finished callback.
func (p *Processor) SetOnCompactDone(fn func(sessionID string)) { p.onCompactDone = fn }

// Handle applies one hook event. Never fails; unknown sessions and unknown
// kinds are logged and acknowledged.
func (p *Processor) Handle(e Event) Response {
	if e.SessionID == "" {
		p.logger.Printf("Warning: hook %s without session id", e.Kind)
		return Response{}
	}
	switch e.Kind {
	case KindPreToolUse:
		return p.preToolUse(e)
	case KindPostToolUse:
		p.postToolUse(e)
	case KindStop:
		p.stop(e)
	case KindPreCompact:
		if err := p.reg.SetCompacting(e.SessionID, true); err != nil {
			p.logger.Printf("Warning: pre-compact for %s: %v", e.SessionID, err)
		}
	case KindSessionStart:
		if err := p.reg.SetCompacting(e.SessionID, false); err != nil {
			p.logger.Printf("Warning: session-start for %s: %v", e.SessionID, err)
		}
		if p.onCompactDone != nil {
			p.onCompactDone(e.SessionID)
		}
	default:
		p.logger.Printf("Warning: unknown hook kind %q from %s", e.Kind, e.SessionID)
	}
	return Response{}
}

func (p *Processor) preToolUse(e Event) Response {
	if err := p.reg.MarkActive(e.SessionID); err != nil {
		p.logger.Printf("Warning: mark-active for %s: %v", e.SessionID, err)
	}
	p.q.MarkBusy(e.SessionID)

	rec := classify(e)
	if p.audit != nil {
		if err := p.audit.Record(rec); err != nil {
			p.logger.Printf("Warning: recording tool event for %s: %v", e.SessionID, err)
		}
	}

	// A destructive tool aimed at a workspace locked by someone else is
	// denied. Lock-free directories and self-owned locks pass.
	if rec.IsDestructive && p.locks != nil {
		dir := rec.CWD
		if rec.TargetFile != "" {
			dir = filepath.Dir(rec.TargetFile)
		}
		if l, held := p.locks.OwnerOf(dir); held && l.OwnerID != e.SessionID {
			p.logger.Printf("blocked destructive %s by %s: %s locked by %s",
				rec.ToolName, e.SessionID, dir, l.OwnerID)
			return Response{
				Block:  true,
				Reason: "workspace " + dir + " is locked by session " + l.OwnerID,
			}
		}
	}
	return Response{}
}

func (p *Processor) postToolUse(e Event) {
	now := time.Now().UTC()
	if err := p.reg.Update(e.SessionID, func(s *session.Session) {
		s.LastToolCall = &now
	}); err != nil {
		p.logger.Printf("Warning: post-tool-use for %s: %v", e.SessionID, err)
	}
	if e.TranscriptPath == "" {
		return
	}
	text, err := lastAssistantMessage(e.TranscriptPath)
	if err != nil {
		p.logger.Printf("Warning: reading transcript for %s: %v", e.SessionID, err)
		return
	}
	if text != "" {
		p.recordOutput(e.SessionID, text, false)
	}
}

func (p *Processor) stop(e Event) {
	text := ""
	if e.TranscriptPath != "" {
		var err error
		text, err = lastAssistantMessage(e.TranscriptPath)
		if err != nil {
			p.logger.Printf("Warning: reading transcript for %s: %v", e.SessionID, err)
		}
	}
	if text != "" {
		p.recordOutput(e.SessionID, text, true)
	} else {
		// No final message yet: defer the notification until a later
		// signal provides one.
		p.mu.Lock()
		p.pendingStop[e.SessionID] = true
		p.mu.Unlock()
	}
	p.q.MarkSessionIdle(e.SessionID, true)
}

// recordOutput caches the latest assistant message. The stop notification
// goes downstream when the message arrives with a stop hook, or when it
// drains a deferred stop that was waiting for one.
func (p *Processor) recordOutput(id, text string, fromStop bool) {
	p.mu.Lock()
	p.lastOutput[id] = text
	deferred := p.pendingStop[id]
	delete(p.pendingStop, id)
	p.mu.Unlock()

	if p.onStopMessage != nil && (fromStop || deferred) {
		p.onStopMessage(id, text)
	}
}

// LastOutput returns the cached final assistant message for a session.
func (p *Processor) LastOutput(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOutput[id]
}

// Invalidate drops the cached output and any deferred stop notification.
// Part of the cache-invalidate path driven by a context clear.
func (p *Processor) Invalidate(id string) {
	p.mu.Lock()
	delete(p.lastOutput, id)
	delete(p.pendingStop, id)
	p.mu.Unlock()
}
