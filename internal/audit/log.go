// Package audit records CLI and API activity in an append-only SQLite table.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// EnvDBPath overrides the audit database location when no path is configured.
const EnvDBPath = "KPITRACK_AUDIT_DB"

const defaultAuditPath = "audit/audit.sqlite"

// Event is one stored audit record.
type Event struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"ts"`
	Actor       string    `json:"actor"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload"`
}

// Logger writes audit events to a SQLite database.
type Logger struct {
	DBPath string
}

// NewLogger returns a Logger bound to dbPath. An empty path falls back to
// $KPITRACK_AUDIT_DB, then audit/audit.sqlite under the working directory.
func NewLogger(dbPath string) *Logger {
	return &Logger{DBPath: dbPath}
}

// LogEvent appends an event. payload is stored as JSON.
func (l *Logger) LogEvent(actor, eventType string, payload any) error {
	db, err := l.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = db.Exec(
		"INSERT INTO events (ts, actor, type, payload_json) VALUES (?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano),
		actor,
		eventType,
		string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Logger) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	db, err := l.open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.Query(
		"SELECT id, ts, actor, type, payload_json FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev Event
			ts string
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.Actor, &ev.Type, &ev.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func (l *Logger) open() (*sql.DB, error) {
	var configured string
	if l != nil {
		configured = l.DBPath
	}
	path, err := resolveDBPath(configured)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			actor TEXT NOT NULL,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

func resolveDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		dbPath = os.Getenv(EnvDBPath)
	}
	if dbPath == "" {
		dbPath = defaultAuditPath
	}
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve audit db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure audit db dir: %w", err)
	}
	return absPath, nil
}
