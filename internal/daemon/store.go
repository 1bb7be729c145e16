package daemon

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job is one unit of background work.
type Job struct {
	ID             string
	Type           string
	Status         JobStatus
	ScheduledAt    time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	PayloadJSON    string
	ResultJSON     string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
}

// DecodePayload unmarshals the job payload into dst. An empty payload leaves
// dst untouched.
func (j *Job) DecodePayload(dst any) error {
	if j.PayloadJSON == "" || j.PayloadJSON == "null" || j.PayloadJSON == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(j.PayloadJSON), dst); err != nil {
		return fmt.Errorf("job %s: parse payload: %w", j.ID, err)
	}
	return nil
}

// Store is the daemon's job queue and key-value state, kept in its own
// SQLite database next to the KPI store.
type Store struct {
	DBPath string
	db     *sql.DB
	now    func() time.Time
}

const jobColumns = `id, type, status, scheduled_at, started_at, finished_at,
	payload_json, result_json, lease_owner, lease_expires_at`

// Open opens or creates the daemon state database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve daemon db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure daemon db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open daemon db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{DBPath: absPath, db: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	payload_json TEXT,
	result_json TEXT,
	lease_owner TEXT,
	lease_expires_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON jobs(status, scheduled_at);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create daemon schema: %w", err)
	}
	return nil
}

// JobID derives the id for a job of jobType at scheduledAt. key separates
// jobs of the same type and time, such as imports of different files.
func JobID(jobType, key string, scheduledAt time.Time) string {
	id := fmt.Sprintf("%s_%s", jobType, scheduledAt.UTC().Format("2006-01-02T15:04:05"))
	if key != "" {
		sum := sha256.Sum256([]byte(key))
		id += "_" + hex.EncodeToString(sum[:4])
	}
	return id
}

// EnqueueUnique inserts a queued job unless one with the same id already
// exists. created reports whether a row was inserted.
func (s *Store) EnqueueUnique(ctx context.Context, jobType, key string, scheduledAt time.Time, payload any) (id string, created bool, err error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}
	id = JobID(jobType, key, scheduledAt)
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO jobs (id, type, status, scheduled_at, payload_json)
		VALUES (?, ?, ?, ?, ?)
	`, id, jobType, StatusQueued, formatTime(scheduledAt), string(payloadJSON))
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	return id, n > 0, nil
}

// ClaimNext leases the oldest queued job scheduled at or before now.
// It returns nil when nothing is ready.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, leaseOwner string, leaseFor time.Duration) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, id ASC
		LIMIT 1
	`, StatusQueued, formatTime(now)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, started_at = ?, lease_owner = ?, lease_expires_at = ?
		WHERE id = ?
	`, StatusRunning, formatTime(now), leaseOwner, formatTime(now.Add(leaseFor)), id); err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

// ReleaseExpired requeues running jobs whose lease ended before now, so a
// crashed daemon's work is picked up again. It returns the number requeued.
func (s *Store) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, lease_owner = NULL, lease_expires_at = NULL
		WHERE status = ? AND lease_expires_at < ?
	`, StatusQueued, StatusRunning, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	return int(n), nil
}

// GetJob returns the job with id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return job, err
}

// Succeed records a job's result.
func (s *Store) Succeed(ctx context.Context, id string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.finish(ctx, id, StatusSucceeded, string(resultJSON))
}

// Fail records a job's error.
func (s *Store) Fail(ctx context.Context, id string, jobErr error) error {
	resultJSON, err := json.Marshal(map[string]string{"error": jobErr.Error()})
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	return s.finish(ctx, id, StatusFailed, string(resultJSON))
}

func (s *Store) finish(ctx context.Context, id string, status JobStatus, resultJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, finished_at = ?, result_json = ?, lease_expires_at = NULL
		WHERE id = ?
	`, status, formatTime(s.now()), resultJSON, id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	return nil
}

// ListRunning returns leased jobs, oldest first.
func (s *Store) ListRunning(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "WHERE status = ? ORDER BY scheduled_at ASC", StatusRunning)
}

// ListQueued returns up to limit queued jobs, oldest first.
func (s *Store) ListQueued(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "WHERE status = ? ORDER BY scheduled_at ASC, id ASC LIMIT ?", StatusQueued, limit)
}

// ListRecentCompleted returns up to limit finished jobs, newest first.
func (s *Store) ListRecentCompleted(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "WHERE status IN (?, ?) ORDER BY finished_at DESC, id DESC LIMIT ?",
		StatusSucceeded, StatusFailed, limit)
}

func (s *Store) queryJobs(ctx context.Context, where string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                                   Job
		status                                string
		scheduledAt                           string
		startedAt, finishedAt, leaseExpiresAt sql.NullString
		payloadJSON, resultJSON, leaseOwner   sql.NullString
	)
	if err := row.Scan(
		&job.ID, &job.Type, &status, &scheduledAt,
		&startedAt, &finishedAt, &payloadJSON, &resultJSON,
		&leaseOwner, &leaseExpiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = JobStatus(status)
	job.ScheduledAt, _ = time.Parse(time.RFC3339Nano, scheduledAt)
	job.StartedAt = parseNullTime(startedAt)
	job.FinishedAt = parseNullTime(finishedAt)
	job.LeaseExpiresAt = parseNullTime(leaseExpiresAt)
	job.PayloadJSON = payloadJSON.String
	job.ResultJSON = resultJSON.String
	job.LeaseOwner = leaseOwner.String
	return &job, nil
}

// GetKV returns the value stored under key, or "" when unset.
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv %s: %w", key, err)
	}
	return value, nil
}

// SetKV stores value under key.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

// Timestamps are stored as fixed-width UTC strings so that text comparison
// in SQL matches time order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}
