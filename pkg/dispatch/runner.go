package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/queue"
)

// Runner executes one phase process per task. The entry point for a task is
// the executable named <family>-<phase> in the script directory, run inside
// the instance's worktree with the instance context in the environment.
type Runner struct {
	scriptDir string
	timeout   time.Duration
}

// NewRunner creates a runner over the given script directory. A zero
// timeout leaves phase processes unbounded.
func NewRunner(scriptDir string, timeout time.Duration) *Runner {
	return &Runner{scriptDir: scriptDir, timeout: timeout}
}

// ScriptPath returns the entry point executable for a family and phase.
func (r *Runner) ScriptPath(family, phase string) string {
	return filepath.Join(r.scriptDir, family+"-"+phase)
}

// Run executes the task's phase process to completion and returns its
// error, with trailing stderr included for diagnostics.
func (r *Runner) Run(ctx context.Context, task *queue.Task, inst *instance.Instance) error {
	script := r.ScriptPath(task.Family, task.Phase)
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("phase entry point %s: %w", script, err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = inst.WorktreePath
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), taskEnv(task, inst)...)

	if err := cmd.Run(); err != nil {
		tail := lastLines(stderr.String(), 20)
		if tail != "" {
			return fmt.Errorf("phase %s-%s: %w\n%s", task.Family, task.Phase, err, tail)
		}
		return fmt.Errorf("phase %s-%s: %w", task.Family, task.Phase, err)
	}
	return nil
}

// taskEnv builds the environment contract seen by phase processes.
func taskEnv(task *queue.Task, inst *instance.Instance) []string {
	env := []string{
		"DISPATCHD_TASK_ID=" + task.ID,
		"DISPATCHD_INSTANCE_ID=" + inst.InstanceID,
		"DISPATCHD_FAMILY=" + task.Family,
		"DISPATCHD_PHASE=" + task.Phase,
		"DISPATCHD_ISSUE_NUMBER=" + strconv.Itoa(task.IssueNumber),
		"DISPATCHD_BRANCH=" + inst.BranchName,
		"DISPATCHD_WORKTREE=" + inst.WorktreePath,
	}
	if task.Model != "" {
		env = append(env, "DISPATCHD_MODEL="+task.Model)
	}
	if inst.Ports != nil {
		env = append(env,
			"DISPATCHD_AGENT_PORT="+strconv.Itoa(inst.Ports.Agent),
			"DISPATCHD_PREVIEW_PORT="+strconv.Itoa(inst.Ports.Preview),
		)
	}
	return env
}

// lastLines returns up to n trailing non-empty lines of s.
func lastLines(s string, n int) string {
	if s == "" {
		return ""
	}
	lines := []string{}
	for _, line := range bytes.Split([]byte(s), []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, string(line))
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	var out bytes.Buffer
	for i, line := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(line)
	}
	return out.String()
}
