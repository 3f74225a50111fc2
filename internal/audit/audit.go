// Package audit provides the append-only tool-audit store.
//
// Every pre-tool-use hook appends one row. The parent-wake digest reads the
// most recent rows back. Timestamps are stored as UTC-naive strings, so all
// reads and age calculations must be done in UTC; comparing against local
// time yields negative ages on westward timezones.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// TimeLayout is the UTC-naive timestamp format used in the store.
const TimeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS tool_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_utc TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	tool_name     TEXT NOT NULL,
	tool_input    TEXT,
	tool_response TEXT,
	tool_use_id   TEXT,
	cwd           TEXT,
	is_destructive INTEGER NOT NULL DEFAULT 0,
	target_file   TEXT,
	bash_command  TEXT,
	exit_code     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tool_events_session_time
	ON tool_events(session_id, timestamp_utc);
`

// Event is one recorded tool invocation.
type Event struct {
	ID            int64
	Timestamp     time.Time // always UTC
	SessionID     string
	ToolName      string
	ToolInput     string
	ToolResponse  string
	ToolUseID     string
	CWD           string
	IsDestructive bool
	TargetFile    string
	BashCommand   string
	ExitCode      *int
}

// Store is the audit database. Single-writer, append-only.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	// The store is single-writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record appends a tool event. A zero Timestamp is filled with now (UTC).
func (s *Store) Record(e Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	var exit any
	if e.ExitCode != nil {
		exit = *e.ExitCode
	}
	_, err := s.db.Exec(`
		INSERT INTO tool_events
			(timestamp_utc, session_id, tool_name, tool_input, tool_response,
			 tool_use_id, cwd, is_destructive, target_file, bash_command, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(TimeLayout), e.SessionID, e.ToolName, e.ToolInput,
		e.ToolResponse, e.ToolUseID, e.CWD, boolToInt(e.IsDestructive),
		e.TargetFile, e.BashCommand, exit)
	if err != nil {
		return fmt.Errorf("recording tool event: %w", err)
	}
	return nil
}

// LastEvents returns the most recent n events for a session, newest first.
func (s *Store) LastEvents(sessionID string, n int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp_utc, session_id, tool_name,
		       COALESCE(tool_input, ''), COALESCE(tool_response, ''),
		       COALESCE(tool_use_id, ''), COALESCE(cwd, ''),
		       is_destructive, COALESCE(target_file, ''),
		       COALESCE(bash_command, ''), exit_code
		FROM tool_events
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("querying tool events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		var destructive int
		var exit sql.NullInt64
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.ToolName, &e.ToolInput,
			&e.ToolResponse, &e.ToolUseID, &e.CWD, &destructive,
			&e.TargetFile, &e.BashCommand, &exit); err != nil {
			return nil, fmt.Errorf("scanning tool event: %w", err)
		}
		// Stored timestamps are UTC-naive; parse them back as UTC.
		t, err := time.ParseInLocation(TimeLayout, ts, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing tool event timestamp %q: %w", ts, err)
		}
		e.Timestamp = t
		e.IsDestructive = destructive != 0
		if exit.Valid {
			code := int(exit.Int64)
			e.ExitCode = &code
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
