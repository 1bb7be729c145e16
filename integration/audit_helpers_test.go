package integration_test

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func auditDBPath(workspace string) string {
	return filepath.Join(workspace, "audit", "audit.sqlite")
}

// auditCounts returns the number of events per type in the workspace audit log.
func auditCounts(t *testing.T, workspace string) map[string]int {
	t.Helper()
	db, err := sql.Open("sqlite", auditDBPath(workspace))
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query("SELECT type, COUNT(*) FROM events GROUP BY type")
	if err != nil {
		t.Fatalf("query audit events: %v", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			t.Fatalf("scan audit event: %v", err)
		}
		counts[eventType] = n
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate audit events: %v", err)
	}
	return counts
}

// requireCommandsAudited checks that every command left matching
// <cmd>_started and <cmd>_finished events, one finished per start.
func requireCommandsAudited(t *testing.T, workspace string, commands ...string) map[string]int {
	t.Helper()
	counts := auditCounts(t, workspace)
	for _, name := range commands {
		started, finished := counts[name+"_started"], counts[name+"_finished"]
		if started == 0 {
			t.Fatalf("missing audit event %s_started; have %s", name, describeCounts(counts))
		}
		if started != finished {
			t.Fatalf("command %s started %d times but finished %d times", name, started, finished)
		}
	}
	return counts
}

func describeCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for k := range counts {
		parts = append(parts, k)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
