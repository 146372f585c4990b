package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/queue"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func testTask(instanceID string) *queue.Task {
	return &queue.Task{
		ID:          "task-1",
		InstanceID:  instanceID,
		Family:      "app",
		Phase:       "plan",
		IssueNumber: 42,
		Model:       "opus",
	}
}

func TestScriptPath(t *testing.T) {
	runner := NewRunner("/opt/phases", 0)
	if got := runner.ScriptPath("infra", "build-ami"); got != "/opt/phases/infra-build-ami" {
		t.Errorf("ScriptPath() = %q", got)
	}
}

func TestRunExecutesInWorktree(t *testing.T) {
	scriptDir := t.TempDir()
	worktree := t.TempDir()

	// The script records its working directory and instance context.
	writeScript(t, scriptDir, "app-plan", `printf '%s %s %s' "$PWD" "$DISPATCHD_INSTANCE_ID" "$DISPATCHD_AGENT_PORT" > out.txt`)

	runner := NewRunner(scriptDir, time.Minute)
	inst := &instance.Instance{
		InstanceID:   "app-1a2b3c4d",
		WorktreePath: worktree,
		Ports:        &instance.PortPair{Agent: 8100, Preview: 8101},
	}

	if err := runner.Run(context.Background(), testTask("app-1a2b3c4d"), inst); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(worktree, "out.txt"))
	if err != nil {
		t.Fatalf("script output missing: %v", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) != 3 {
		t.Fatalf("unexpected script output %q", data)
	}
	if fields[0] != worktree {
		t.Errorf("script cwd = %q, want worktree", fields[0])
	}
	if fields[1] != "app-1a2b3c4d" {
		t.Errorf("instance id env = %q", fields[1])
	}
	if fields[2] != "8100" {
		t.Errorf("agent port env = %q", fields[2])
	}
}

func TestRunMissingScript(t *testing.T) {
	runner := NewRunner(t.TempDir(), 0)
	inst := &instance.Instance{InstanceID: "app-1a2b3c4d", WorktreePath: t.TempDir()}

	err := runner.Run(context.Background(), testTask("app-1a2b3c4d"), inst)
	if err == nil {
		t.Fatal("Run() = nil, want error for missing entry point")
	}
}

func TestRunFailureIncludesStderr(t *testing.T) {
	scriptDir := t.TempDir()
	writeScript(t, scriptDir, "app-plan", `echo "terraform exploded" >&2; exit 3`)

	runner := NewRunner(scriptDir, time.Minute)
	inst := &instance.Instance{InstanceID: "app-1a2b3c4d", WorktreePath: t.TempDir()}

	err := runner.Run(context.Background(), testTask("app-1a2b3c4d"), inst)
	if err == nil {
		t.Fatal("Run() = nil, want error")
	}
	if !strings.Contains(err.Error(), "terraform exploded") {
		t.Errorf("error lacks stderr tail: %v", err)
	}
}

func TestTaskEnvOmitsOptionalFields(t *testing.T) {
	task := &queue.Task{ID: "t", InstanceID: "app-1a2b3c4d", Family: "app", Phase: "plan", IssueNumber: 1}
	inst := &instance.Instance{InstanceID: "app-1a2b3c4d"}

	env := taskEnv(task, inst)
	for _, entry := range env {
		if strings.HasPrefix(entry, "DISPATCHD_MODEL=") {
			t.Errorf("model env present without override: %s", entry)
		}
		if strings.HasPrefix(entry, "DISPATCHD_AGENT_PORT=") {
			t.Errorf("port env present without allocation: %s", entry)
		}
	}
}

func TestLastLines(t *testing.T) {
	out := lastLines("a\nb\n\nc\n", 2)
	if out != "b\nc" {
		t.Errorf("lastLines() = %q", out)
	}
	if lastLines("", 5) != "" {
		t.Error("lastLines of empty input should be empty")
	}
}
