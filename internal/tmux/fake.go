package tmux

import (
	"strings"
	"sync"
)

// FakeAdapter is an in-memory Adapter for tests. It records every keystroke
// send and serves scripted pane content.
type FakeAdapter struct {
	mu sync.Mutex

	// Panes maps pane name -> scripted capture content.
	Panes map[string]string

	// Commands maps pane name -> scripted pane command.
	Commands map[string]string

	// Sends records keystroke operations as "op:pane:payload".
	Sends []string

	// CaptureErr, when set, is returned by capture calls.
	CaptureErr error

	// SendErr, when set, is returned by keystroke sends.
	SendErr error
}

var _ Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter creates an empty fake terminal.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		Panes:    make(map[string]string),
		Commands: make(map[string]string),
	}
}

func (f *FakeAdapter) record(op, pane, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sends = append(f.Sends, op+":"+pane+":"+payload)
	return nil
}

// SentOps returns a copy of the recorded operations.
func (f *FakeAdapter) SentOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Sends))
	copy(out, f.Sends)
	return out
}

// SetPane scripts the capture content for a pane, creating it if needed.
func (f *FakeAdapter) SetPane(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Panes[name] = content
}

func (f *FakeAdapter) NewPane(name, workDir, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Panes[name]; ok {
		return ErrPaneExists
	}
	f.Panes[name] = ""
	return nil
}

func (f *FakeAdapter) KillPane(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Panes[name]; !ok {
		return ErrPaneNotFound
	}
	delete(f.Panes, name)
	return nil
}

func (f *FakeAdapter) HasPane(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Panes[name]
	return ok, nil
}

func (f *FakeAdapter) ListPanes() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.Panes {
		out = append(out, name)
	}
	return out, nil
}

func (f *FakeAdapter) SendText(name, text string) error {
	return f.record("text", name, text)
}

func (f *FakeAdapter) SendTextNoSubmit(name, text string) error {
	return f.record("paste", name, text)
}

func (f *FakeAdapter) SendRaw(name, key string) error {
	return f.record("raw", name, key)
}

func (f *FakeAdapter) SendInterrupt(name string) error {
	return f.record("interrupt", name, "")
}

func (f *FakeAdapter) ClearLine(name string) error {
	return f.record("clearline", name, "")
}

func (f *FakeAdapter) CapturePane(name string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return "", f.CaptureErr
	}
	content, ok := f.Panes[name]
	if !ok {
		return "", ErrPaneNotFound
	}
	return content, nil
}

func (f *FakeAdapter) CapturePaneLines(name string, lines int) ([]string, error) {
	out, err := f.CapturePane(name, lines)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (f *FakeAdapter) SetEnvironment(name, key, value string) error {
	return f.record("env", name, key+"="+value)
}

func (f *FakeAdapter) PaneCommand(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd, ok := f.Commands[name]
	if !ok {
		return "claude", nil
	}
	return cmd, nil
}
