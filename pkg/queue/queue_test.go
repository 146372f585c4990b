package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

// The connection pragmas must survive the round trip through the DSN. A
// busy timeout that silently fails to apply surfaces as SQLITE_BUSY under
// handler and worker contention.
func TestInitAppliesPragmas(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var timeout int
	if err := store.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout error = %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}

	var journal string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}
	if journal != "wal" {
		t.Errorf("journal_mode = %q, want wal", journal)
	}
}

func TestEnqueueAndClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &Task{
		InstanceID:  "app-1a2b3c4d",
		Family:      "app",
		Phase:       "plan",
		IssueNumber: 42,
		Model:       "opus",
	}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if task.ID == "" {
		t.Fatal("Enqueue() did not assign an id")
	}

	claimed, err := store.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed == nil {
		t.Fatal("Claim() = nil, want the enqueued task")
	}
	if claimed.ID != task.ID {
		t.Errorf("claimed id = %s, want %s", claimed.ID, task.ID)
	}
	if claimed.Status != TaskStatusRunning {
		t.Errorf("Status = %s, want running", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", claimed.Attempts)
	}
	if claimed.StartedAt == nil {
		t.Error("StartedAt not set")
	}
	if claimed.Model != "opus" {
		t.Errorf("Model = %q", claimed.Model)
	}

	// The queue is now empty of claimable work.
	again, err := store.Claim(ctx)
	if err != nil {
		t.Fatalf("second Claim() error = %v", err)
	}
	if again != nil {
		t.Errorf("second Claim() = %v, want nil", again)
	}
}

func TestClaimOrderIsFIFO(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ids := []string{}
	for _, inst := range []string{"app-11111111", "app-22222222", "app-33333333"} {
		task := &Task{InstanceID: inst, Family: "app", Phase: "plan", IssueNumber: 1}
		if err := store.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		ids = append(ids, task.ID)
	}

	for i, want := range ids {
		claimed, err := store.Claim(ctx)
		if err != nil {
			t.Fatalf("Claim() #%d error = %v", i, err)
		}
		if claimed == nil || claimed.ID != want {
			t.Fatalf("Claim() #%d = %v, want %s", i, claimed, want)
		}
	}
}

// Two tasks for the same instance never run at once: the second becomes
// claimable only after the first completes.
func TestClaimSerializesPerInstance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Task{InstanceID: "app-1a2b3c4d", Family: "app", Phase: "build", IssueNumber: 1}
	second := &Task{InstanceID: "app-1a2b3c4d", Family: "app", Phase: "test", IssueNumber: 1}
	other := &Task{InstanceID: "app-ffffffff", Family: "app", Phase: "plan", IssueNumber: 2}

	for _, task := range []*Task{first, second, other} {
		if err := store.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	claimed, err := store.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed.ID != first.ID {
		t.Fatalf("claimed %s, want first task", claimed.ID)
	}

	// The same instance is blocked, the other instance is not.
	claimed, err = store.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed == nil || claimed.ID != other.ID {
		t.Fatalf("Claim() = %v, want the other instance's task", claimed)
	}

	if err := store.Complete(ctx, first.ID, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	claimed, err = store.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed == nil || claimed.ID != second.ID {
		t.Fatalf("Claim() after completion = %v, want second task", claimed)
	}
}

func TestCompleteRecordsStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &Task{InstanceID: "infra-0badf00d", Family: "infra", Phase: "ship", IssueNumber: 9}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if err := store.Complete(ctx, task.ID, errors.New("exit status 1")); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != TaskStatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.Error == nil || *got.Error != "exit status 1" {
		t.Errorf("Error = %v", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	if err := store.Complete(ctx, "no-such-task", nil); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Complete(unknown) error = %v, want ErrTaskNotFound", err)
	}
}

func TestRetryRequeuesFailedTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &Task{InstanceID: "app-1a2b3c4d", Family: "app", Phase: "build", IssueNumber: 3}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := store.Complete(ctx, task.ID, errors.New("boom")); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if err := store.Retry(ctx, task.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	claimed, err := store.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim() after retry error = %v", err)
	}
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("Claim() after retry = %v, want the retried task", claimed)
	}
	if claimed.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", claimed.Attempts)
	}

	// Only failed tasks can be retried.
	if err := store.Retry(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Retry(running) error = %v, want ErrTaskNotFound", err)
	}
}

// Tasks stranded in running by a crash must be re-queued at startup, or
// their instance can never claim another task.
func TestResetRunningRequeuesStrandedTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stranded := &Task{InstanceID: "app-1a2b3c4d", Family: "app", Phase: "build", IssueNumber: 42}
	if err := store.Enqueue(ctx, stranded); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	done := &Task{InstanceID: "app-5e6f7a8b", Family: "app", Phase: "plan", IssueNumber: 7}
	if err := store.Enqueue(ctx, done); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := store.Claim(ctx); err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
	}
	if err := store.Complete(ctx, done.ID, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	reset, err := store.ResetRunning(ctx)
	if err != nil {
		t.Fatalf("ResetRunning() error = %v", err)
	}
	if reset != 1 {
		t.Errorf("ResetRunning() = %d, want 1", reset)
	}

	got, err := store.GetTask(ctx, stranded.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != TaskStatusPending {
		t.Errorf("stranded task status = %s, want pending", got.Status)
	}
	if got.StartedAt != nil {
		t.Errorf("StartedAt = %v, want nil", got.StartedAt)
	}

	finished, err := store.GetTask(ctx, done.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if finished.Status != TaskStatusSucceeded {
		t.Errorf("finished task status = %s, want succeeded", finished.Status)
	}

	claimed, err := store.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed == nil || claimed.ID != stranded.ID {
		t.Fatalf("Claim() = %+v, want re-queued task %s", claimed, stranded.ID)
	}
}

func TestListTasksFiltersByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, inst := range []string{"app-11111111", "app-22222222"} {
		if err := store.Enqueue(ctx, &Task{InstanceID: inst, Family: "app", Phase: "plan", IssueNumber: 1}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	pending := TaskStatusPending
	list, err := store.ListTasks(ctx, &pending, 10, 0)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("pending tasks = %d, want 1", len(list))
	}

	all, err := store.ListTasks(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListTasks(nil) error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all tasks = %d, want 2", len(all))
	}

	count, err := store.CountByStatus(ctx, TaskStatusRunning)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if count != 1 {
		t.Errorf("running count = %d, want 1", count)
	}
}

func TestRecordAndListDecisions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	decisions := []*Decision{
		{Event: "issues", Outcome: "accepted", Family: "app", Phase: "plan", InstanceID: "app-11111111", IssueNumber: 1},
		{Event: "issue_comment", Outcome: "rejected", Reason: "missing instance id", Family: "app", Phase: "ship", IssueNumber: 2},
		{Event: "issue_comment", Outcome: "ignored", Reason: "bot marker present"},
	}
	for _, d := range decisions {
		if err := store.RecordDecision(ctx, d); err != nil {
			t.Fatalf("RecordDecision() error = %v", err)
		}
		if d.ID == 0 {
			t.Error("RecordDecision() did not assign an id")
		}
	}

	list, err := store.ListDecisions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListDecisions() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("ListDecisions() returned %d, want 3", len(list))
	}
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
