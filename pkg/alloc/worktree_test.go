package alloc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/workflow"
)

// initGitRepo creates a repo with one commit on main so worktrees can be
// added from it.
func initGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "init")
	return dir
}

func TestWorktreeCreateAndRemove(t *testing.T) {
	repo := initGitRepo(t)
	treeDir := t.TempDir()

	mgr, err := NewWorktreeManager(repo, treeDir)
	if err != nil {
		t.Fatalf("NewWorktreeManager() error = %v", err)
	}

	path, err := mgr.Create("app-1a2b3c4d", "app/app-1a2b3c4d-login-fix", "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if path != filepath.Join(treeDir, "app-1a2b3c4d") {
		t.Errorf("worktree path = %q", path)
	}
	if _, err := os.Stat(filepath.Join(path, "README")); err != nil {
		t.Errorf("worktree not checked out: %v", err)
	}

	// Same instance id cannot get a second worktree.
	if _, err := mgr.Create("app-1a2b3c4d", "app/other", "main"); err == nil {
		t.Error("duplicate Create() succeeded")
	}

	if err := mgr.Remove("app-1a2b3c4d"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("worktree still present after Remove()")
	}

	// Removing again is idempotent.
	if err := mgr.Remove("app-1a2b3c4d"); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
}

func TestWorktreeRejectsUnsafeIDs(t *testing.T) {
	repo := initGitRepo(t)
	mgr, err := NewWorktreeManager(repo, t.TempDir())
	if err != nil {
		t.Fatalf("NewWorktreeManager() error = %v", err)
	}

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		if _, err := mgr.Path(id); err == nil {
			t.Errorf("Path(%q) accepted an unsafe id", id)
		}
	}
}

func TestAllocatorReserveAndRelease(t *testing.T) {
	repo := initGitRepo(t)

	ports, err := NewPortTable(t.TempDir())
	if err != nil {
		t.Fatalf("NewPortTable() error = %v", err)
	}
	trees, err := NewWorktreeManager(repo, t.TempDir())
	if err != nil {
		t.Fatalf("NewWorktreeManager() error = %v", err)
	}
	allocator := NewAllocator(zerolog.Nop(), ports, trees, "main")
	ctx := context.Background()

	allocation, err := allocator.Reserve(ctx, workflow.FamilyApp, "app-1a2b3c4d", "Login is broken")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if allocation.BranchName != "app/app-1a2b3c4d-login-is-broken" {
		t.Errorf("BranchName = %q", allocation.BranchName)
	}
	if allocation.Ports == nil || allocation.Ports.Agent != 8100 {
		t.Errorf("Ports = %+v", allocation.Ports)
	}
	if _, err := os.Stat(allocation.WorktreePath); err != nil {
		t.Errorf("worktree missing: %v", err)
	}

	inst := &instance.Instance{
		InstanceID: "app-1a2b3c4d",
		Family:     workflow.FamilyApp,
		Ports:      allocation.Ports,
	}
	if err := allocator.Release(ctx, inst); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	count, err := allocator.ReservedSlots(workflow.FamilyApp)
	if err != nil {
		t.Fatalf("ReservedSlots() error = %v", err)
	}
	if count != 0 {
		t.Errorf("ReservedSlots() = %d after release", count)
	}
}

// A worktree failure must give back the port slot.
func TestAllocatorRollsBackPortsOnWorktreeFailure(t *testing.T) {
	ports, err := NewPortTable(t.TempDir())
	if err != nil {
		t.Fatalf("NewPortTable() error = %v", err)
	}
	// Not a git repository, so worktree creation fails.
	trees, err := NewWorktreeManager(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("NewWorktreeManager() error = %v", err)
	}
	allocator := NewAllocator(zerolog.Nop(), ports, trees, "main")

	_, err = allocator.Reserve(context.Background(), workflow.FamilyApp, "app-1a2b3c4d", "title")
	if err == nil {
		t.Fatal("Reserve() succeeded without a git repository")
	}

	count, err := allocator.ReservedSlots(workflow.FamilyApp)
	if err != nil {
		t.Fatalf("ReservedSlots() error = %v", err)
	}
	if count != 0 {
		t.Errorf("port slot leaked on failed reserve: %d", count)
	}
}
