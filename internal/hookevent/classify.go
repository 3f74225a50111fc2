package hookevent

import (
	"encoding/json"
	"regexp"

	"github.com/xcawolfe-amzn/switchboard/internal/audit"
)

// destructiveBash matches shell commands that modify or remove files.
var destructiveBash = regexp.MustCompile(`(^|[;&|]\s*)(rm|rmdir|mv|truncate|shred|dd)\b|>\s*\S|git\s+(push\s+.*--force|reset\s+--hard|clean)`)

// fileWritingTools are tool names that write a target file directly.
var fileWritingTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// classify turns a pre-tool-use event into an audit row, extracting the
// target file or shell command and flagging destructive operations.
func classify(e Event) audit.Event {
	rec := audit.Event{
		SessionID:    e.SessionID,
		ToolName:     e.ToolName,
		ToolInput:    string(e.ToolInput),
		ToolResponse: string(e.ToolResponse),
		ToolUseID:    e.ToolUseID,
		CWD:          e.CWD,
	}

	var input struct {
		FilePath     string `json:"file_path"`
		NotebookPath string `json:"notebook_path"`
		Command      string `json:"command"`
	}
	if len(e.ToolInput) > 0 {
		// Malformed input still gets audited, just unclassified.
		_ = json.Unmarshal(e.ToolInput, &input)
	}

	if fileWritingTools[e.ToolName] {
		rec.IsDestructive = true
		rec.TargetFile = input.FilePath
		if rec.TargetFile == "" {
			rec.TargetFile = input.NotebookPath
		}
	}
	if e.ToolName == "Bash" {
		rec.BashCommand = input.Command
		if destructiveBash.MatchString(input.Command) {
			rec.IsDestructive = true
		}
	}
	return rec
}
