package queue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// TaskStatus is the lifecycle state of a dispatch task.
type TaskStatus string

const (
	// TaskStatusPending means the task is enqueued and unclaimed.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning means a worker has claimed the task.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusSucceeded means the phase process exited cleanly.
	TaskStatusSucceeded TaskStatus = "succeeded"

	// TaskStatusFailed means the launch or the phase process failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Task is one durable dispatch of a phase against an instance.
type Task struct {
	ID          string
	InstanceID  string
	Family      string
	Phase       string
	IssueNumber int
	Model       string
	Status      TaskStatus
	Attempts    int
	Error       *string
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Decision is one routing-audit record for an inbound webhook delivery.
type Decision struct {
	ID          int64
	Event       string
	Outcome     string
	Reason      string
	Family      string
	Phase       string
	InstanceID  string
	IssueNumber int
	Timestamp   time.Time
}

// ErrTaskNotFound is returned when a task id does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Store implements the durable task queue and routing audit log on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new queue store instance.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database connection and enables WAL mode. The pragmas use
// the modernc driver's _pragma form; the webhook handler and the worker pool
// share this database, so the busy timeout must actually be in effect.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded FS.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Enqueue inserts a new pending task, assigning it an id when unset.
func (s *Store) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = TaskStatusPending
	task.EnqueuedAt = time.Now().UTC()

	query := `
		INSERT INTO tasks (id, instance_id, family, phase, issue_number, model, status, attempts, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.InstanceID,
		task.Family,
		task.Phase,
		task.IssueNumber,
		task.Model,
		task.Status,
		task.EnqueuedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// Claim atomically picks the oldest pending task whose instance has no
// running task, marks it running, and returns it. Returns nil when nothing
// is claimable. Skipping instances with a running task serializes phases
// of one instance while distinct instances run in parallel.
func (s *Store) Claim(ctx context.Context) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT id, instance_id, family, phase, issue_number, model, status, attempts, error, enqueued_at, started_at, completed_at
		FROM tasks
		WHERE status = 'pending'
		  AND instance_id NOT IN (SELECT instance_id FROM tasks WHERE status = 'running')
		ORDER BY enqueued_at ASC
		LIMIT 1
	`

	task, err := scanTask(tx.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select claimable task: %w", err)
	}

	now := time.Now().UTC()
	update := `UPDATE tasks SET status = 'running', attempts = attempts + 1, started_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, now, task.ID); err != nil {
		return nil, fmt.Errorf("failed to claim task %s: %w", task.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	task.Status = TaskStatusRunning
	task.Attempts++
	task.StartedAt = &now
	return task, nil
}

// Complete marks a running task succeeded or failed.
func (s *Store) Complete(ctx context.Context, taskID string, taskErr error) error {
	status := TaskStatusSucceeded
	var errMsg *string
	if taskErr != nil {
		status = TaskStatusFailed
		msg := taskErr.Error()
		errMsg = &msg
	}

	query := `UPDATE tasks SET status = ?, error = ?, completed_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, status, errMsg, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	return nil
}

// ResetRunning re-queues every task left in running, returning how many were
// reset. Run at startup: a task stranded in running by a crash or hard kill
// would otherwise block its instance from ever claiming again.
func (s *Store) ResetRunning(ctx context.Context) (int, error) {
	query := `UPDATE tasks SET status = 'pending', started_at = NULL WHERE status = 'running'`
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running tasks: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// Retry re-queues a failed task. The router never retries on its own; this
// backs the operator-facing retry command.
func (s *Store) Retry(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET status = 'pending', error = NULL, started_at = NULL, completed_at = NULL WHERE id = ? AND status = 'failed'`
	result, err := s.db.ExecContext(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("failed to retry task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w or not failed: %s", ErrTaskNotFound, taskID)
	}

	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	query := `
		SELECT id, instance_id, family, phase, issue_number, model, status, attempts, error, enqueued_at, started_at, completed_at
		FROM tasks
		WHERE id = ?
	`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// ListTasks lists tasks, optionally filtered by status, newest first.
func (s *Store) ListTasks(ctx context.Context, status *TaskStatus, limit, offset int) ([]*Task, error) {
	query := `
		SELECT id, instance_id, family, phase, issue_number, model, status, attempts, error, enqueued_at, started_at, completed_at
		FROM tasks
		WHERE (? IS NULL OR status = ?)
		ORDER BY enqueued_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// CountByStatus returns the number of tasks in the given status.
func (s *Store) CountByStatus(ctx context.Context, status TaskStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// RecordDecision appends a routing-audit record.
func (s *Store) RecordDecision(ctx context.Context, d *Decision) error {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO routing_audit (event, outcome, reason, family, phase, instance_id, issue_number, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		d.Event,
		d.Outcome,
		d.Reason,
		d.Family,
		d.Phase,
		d.InstanceID,
		d.IssueNumber,
		d.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get decision id: %w", err)
	}

	d.ID = id
	return nil
}

// ListDecisions lists audit records, newest first.
func (s *Store) ListDecisions(ctx context.Context, limit, offset int) ([]*Decision, error) {
	query := `
		SELECT id, event, outcome, COALESCE(reason, ''), COALESCE(family, ''), COALESCE(phase, ''), COALESCE(instance_id, ''), COALESCE(issue_number, 0), timestamp
		FROM routing_audit
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	decisions := []*Decision{}
	for rows.Next() {
		d := &Decision{}
		err := rows.Scan(
			&d.ID,
			&d.Event,
			&d.Outcome,
			&d.Reason,
			&d.Family,
			&d.Phase,
			&d.InstanceID,
			&d.IssueNumber,
			&d.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var model sql.NullString
	err := row.Scan(
		&task.ID,
		&task.InstanceID,
		&task.Family,
		&task.Phase,
		&task.IssueNumber,
		&model,
		&task.Status,
		&task.Attempts,
		&task.Error,
		&task.EnqueuedAt,
		&task.StartedAt,
		&task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Model = model.String
	return task, nil
}
