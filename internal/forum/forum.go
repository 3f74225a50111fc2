// Package forum abstracts the external chat/thread system that receives
// session lifecycle and message events.
//
// The coordinator treats the forum as a best-effort downstream consumer:
// notifier failures are logged and never abort the invoking operation.
package forum

import "context"

// Notifier is the forum contract. The registry owns single-ownership of
// thread creation on session creation; everything else is fire-and-forget.
type Notifier interface {
	// CreateThread creates a per-session thread and returns its id.
	CreateThread(ctx context.Context, chat int64, title string) (int64, error)

	// CloseThread marks a thread finished (kept for history).
	CloseThread(ctx context.Context, chat, thread int64) error

	// DeleteThread removes a thread entirely (orphan cleanup).
	DeleteThread(ctx context.Context, chat, thread int64) error

	// Send posts text to a chat, optionally inside a thread (thread > 0)
	// and optionally as a reply (replyTo > 0).
	Send(ctx context.Context, chat, thread int64, text string, replyTo int64) error
}
