// Package session provides the coordinator's session registry.
//
// A session is one long-lived agent process hosted in a tmux pane. The
// registry is the in-memory table of sessions keyed by 8-hex id, persisted
// as a single JSON snapshot under an advisory file lock.
package session

import (
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/constants"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusRunning Status = "RUNNING"
	StatusIdle    Status = "IDLE"
	StatusStopped Status = "STOPPED"
	StatusError   Status = "ERROR"
)

// CompletionStatus records how a session ended. Empty while live.
type CompletionStatus string

const (
	CompletionNone      CompletionStatus = ""
	CompletionCompleted CompletionStatus = "COMPLETED"
	CompletionError     CompletionStatus = "ERROR"
	CompletionAbandoned CompletionStatus = "ABANDONED"
	CompletionKilled    CompletionStatus = "KILLED"
)

// Provider identifies the agent runtime hosted in the pane.
type Provider string

const (
	ProviderClaude    Provider = "claude"
	ProviderCodexTmux Provider = "codex-tmux"
	ProviderCodexApp  Provider = "codex-app"
)

// IdleStrategy selects how the coordinator learns a session went idle.
type IdleStrategy int

const (
	// IdleByStopHook trusts the runtime's stop hook.
	IdleByStopHook IdleStrategy = iota
	// IdleByPromptSignature scrapes the pane for a prompt line.
	IdleByPromptSignature
	// IdleByStatusOnly trusts only the registry status field.
	IdleByStatusOnly
)

// Capabilities describes what a provider's runtime supports. The delivery
// engine, watchers, and crash recovery branch on these, never on the raw
// provider string.
type Capabilities struct {
	SupportsStopHook    bool
	SupportsSteer       bool
	SupportsResumeToken bool
	IdleDetection       IdleStrategy
}

// CapabilitiesFor resolves the capability set for a provider tag.
// Unknown tags get the most conservative set (no hooks, status-only idle).
func CapabilitiesFor(p Provider) Capabilities {
	switch p {
	case ProviderClaude:
		return Capabilities{
			SupportsStopHook:    true,
			SupportsResumeToken: true,
			IdleDetection:       IdleByStopHook,
		}
	case ProviderCodexTmux:
		return Capabilities{
			SupportsSteer: true,
			IdleDetection: IdleByPromptSignature,
		}
	case ProviderCodexApp:
		return Capabilities{
			IdleDetection: IdleByStatusOnly,
		}
	default:
		return Capabilities{IdleDetection: IdleByStatusOnly}
	}
}

// ReviewMode selects a review workflow.
type ReviewMode string

const (
	ReviewBranch      ReviewMode = "branch"
	ReviewUncommitted ReviewMode = "uncommitted"
	ReviewCommit      ReviewMode = "commit"
	ReviewCustom      ReviewMode = "custom"
	ReviewPR          ReviewMode = "pr"
)

// ReviewConfig is the review slot persisted on a session.
type ReviewConfig struct {
	Mode        ReviewMode `json:"mode"`
	Base        string     `json:"base,omitempty"`
	Commit      string     `json:"commit,omitempty"`
	Custom      string     `json:"custom,omitempty"`
	Steer       string     `json:"steer,omitempty"`
	Delivered   bool       `json:"delivered"`
	PRNumber    int        `json:"pr_number,omitempty"`
	PRRepo      string     `json:"pr_repo,omitempty"`
	PRCommentID int64      `json:"pr_comment_id,omitempty"`
}

// Session is one registered agent.
type Session struct {
	ID           string   `json:"id"`
	FriendlyName string   `json:"friendly_name,omitempty"`
	WorkingDir   string   `json:"working_dir"`
	Provider     Provider `json:"provider"`
	ParentID     string   `json:"parent_id,omitempty"`

	Status           Status           `json:"status"`
	CompletionStatus CompletionStatus `json:"completion_status,omitempty"`

	StatusText   string     `json:"status_text,omitempty"`
	StatusTextAt *time.Time `json:"status_text_at,omitempty"`
	LastToolCall *time.Time `json:"last_tool_call,omitempty"`

	SpawnPrompt string    `json:"spawn_prompt,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	IsEM bool `json:"is_em"`

	ForumChatID   int64 `json:"forum_chat_id,omitempty"`
	ForumThreadID int64 `json:"forum_thread_id,omitempty"`

	Review *ReviewConfig `json:"review,omitempty"`

	// ResumeToken is the provider's crash-recovery resume handle.
	ResumeToken string `json:"resume_token,omitempty"`

	// IsCompacting is runtime-only and never persisted: a restarted
	// coordinator cannot know whether a compact is still in flight.
	IsCompacting bool `json:"-"`
}

// PaneName derives the tmux pane name for a session id.
func PaneName(id string) string {
	return constants.PanePrefix + id
}

// Pane returns the session's pane name.
func (s *Session) Pane() string {
	return PaneName(s.ID)
}

// DisplayName returns the friendly name when set, else the id.
func (s *Session) DisplayName() string {
	if s.FriendlyName != "" {
		return s.FriendlyName
	}
	return s.ID
}

// Capabilities resolves the session's provider capability set.
func (s *Session) Capabilities() Capabilities {
	return CapabilitiesFor(s.Provider)
}

// Live reports whether the session is still expected to have a pane.
func (s *Session) Live() bool {
	return s.Status != StatusStopped && s.Status != StatusError
}
