package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Telegram implements Notifier against the Telegram Bot API, using forum
// topics as threads. Thin by design: the coordinator only needs four calls,
// so a full bot framework would be dead weight.
type Telegram struct {
	token  string
	client *http.Client
	base   string
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram creates a Telegram notifier for a bot token.
func NewTelegram(token string) *Telegram {
	return &Telegram{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		base:   "https://api.telegram.org",
	}
}

// SetBaseURL overrides the API endpoint. Test hook.
func (t *Telegram) SetBaseURL(base string) { t.base = base }

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// call posts a JSON body to a Bot API method and decodes the result.
func (t *Telegram) call(ctx context.Context, method string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !api.OK {
		return fmt.Errorf("%s: %s", method, api.Description)
	}
	if result != nil {
		if err := json.Unmarshal(api.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// CreateThread creates a forum topic and returns its message-thread id.
func (t *Telegram) CreateThread(ctx context.Context, chat int64, title string) (int64, error) {
	var result struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	err := t.call(ctx, "createForumTopic", map[string]any{
		"chat_id": chat,
		"name":    title,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.MessageThreadID, nil
}

// CloseThread closes a forum topic.
func (t *Telegram) CloseThread(ctx context.Context, chat, thread int64) error {
	return t.call(ctx, "closeForumTopic", map[string]any{
		"chat_id":           chat,
		"message_thread_id": thread,
	}, nil)
}

// DeleteThread deletes a forum topic.
func (t *Telegram) DeleteThread(ctx context.Context, chat, thread int64) error {
	return t.call(ctx, "deleteForumTopic", map[string]any{
		"chat_id":           chat,
		"message_thread_id": thread,
	}, nil)
}

// Send posts a message, optionally inside a thread and as a reply.
func (t *Telegram) Send(ctx context.Context, chat, thread int64, text string, replyTo int64) error {
	body := map[string]any{
		"chat_id": chat,
		"text":    text,
	}
	if thread > 0 {
		body["message_thread_id"] = thread
	}
	if replyTo > 0 {
		body["reply_to_message_id"] = replyTo
	}
	return t.call(ctx, "sendMessage", body, nil)
}

// LogOnly is a Notifier that records calls to a logger. Used when no forum
// token is configured, and as the test double.
type LogOnly struct {
	Logger *log.Logger

	// nextThread hands out fake thread ids so the registry's thread
	// bookkeeping stays exercised without a backend.
	nextThread int64
}

var _ Notifier = (*LogOnly)(nil)

// NewLogOnly creates a log-only notifier.
func NewLogOnly(logger *log.Logger) *LogOnly {
	return &LogOnly{Logger: logger, nextThread: 1000}
}

func (l *LogOnly) CreateThread(ctx context.Context, chat int64, title string) (int64, error) {
	l.nextThread++
	l.Logger.Printf("forum: create thread chat=%d title=%q -> %d", chat, title, l.nextThread)
	return l.nextThread, nil
}

func (l *LogOnly) CloseThread(ctx context.Context, chat, thread int64) error {
	l.Logger.Printf("forum: close thread chat=%d thread=%d", chat, thread)
	return nil
}

func (l *LogOnly) DeleteThread(ctx context.Context, chat, thread int64) error {
	l.Logger.Printf("forum: delete thread chat=%d thread=%d", chat, thread)
	return nil
}

func (l *LogOnly) Send(ctx context.Context, chat, thread int64, text string, replyTo int64) error {
	l.Logger.Printf("forum: send chat=%d thread=%d reply=%d text=%q", chat, thread, replyTo, text)
	return nil
}
