package alloc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WorktreeManager creates and removes per-instance git worktrees.
type WorktreeManager struct {
	repoRoot string
	treeDir  string
}

// NewWorktreeManager constructs a manager creating worktrees of repoRoot
// under treeDir.
func NewWorktreeManager(repoRoot, treeDir string) (*WorktreeManager, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	if strings.TrimSpace(treeDir) == "" {
		return nil, errors.New("worktree dir is required")
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root %s: %w", repoRoot, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat repo root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo root %s is not a directory", absRoot)
	}
	absTree, err := filepath.Abs(treeDir)
	if err != nil {
		return nil, fmt.Errorf("resolve worktree dir %s: %w", treeDir, err)
	}
	return &WorktreeManager{repoRoot: absRoot, treeDir: absTree}, nil
}

// Path returns the deterministic worktree path for an instance id.
func (m *WorktreeManager) Path(instanceID string) (string, error) {
	if err := validateInstanceID(instanceID); err != nil {
		return "", err
	}
	return filepath.Join(m.treeDir, instanceID), nil
}

// Create checks out a new worktree for the instance on branch, creating the
// branch from baseBranch when it does not exist yet.
func (m *WorktreeManager) Create(instanceID, branch, baseBranch string) (string, error) {
	path, err := m.Path(instanceID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(branch) == "" {
		return "", errors.New("branch is required")
	}
	if err := os.MkdirAll(m.treeDir, 0o755); err != nil {
		return "", fmt.Errorf("create worktree dir %s: %w", m.treeDir, err)
	}
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("worktree %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat worktree path %s: %w", path, err)
	}

	exists, err := m.branchExists(branch)
	if err != nil {
		return "", err
	}
	if exists {
		if _, err := m.runGit("worktree", "add", path, branch); err != nil {
			return "", err
		}
		return path, nil
	}

	if strings.TrimSpace(baseBranch) == "" {
		return "", fmt.Errorf("branch %q does not exist; base branch is required", branch)
	}
	if _, err := m.runGit("worktree", "add", "-b", branch, path, baseBranch); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes the instance's worktree and prunes git's bookkeeping.
// Removing a worktree that is already gone is not an error.
func (m *WorktreeManager) Remove(instanceID string) error {
	path, err := m.Path(instanceID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := m.runGit("worktree", "remove", "--force", path); err != nil {
		// Fall back to a plain delete plus prune when git refuses,
		// e.g. after a crashed phase left the tree locked.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: %w", path, rmErr)
		}
		_, _ = m.runGit("worktree", "prune")
	}
	return nil
}

// branchExists reports whether a local branch exists in the repository.
func (m *WorktreeManager) branchExists(branch string) (bool, error) {
	_, err := m.runGit("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if isExitStatus(err, 1) {
		return false, nil
	}
	return false, err
}

// runGit executes a git command in the repo root.
func (m *WorktreeManager) runGit(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = m.repoRoot
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// validateInstanceID ensures the id is safe for filesystem use.
func validateInstanceID(instanceID string) error {
	if strings.TrimSpace(instanceID) == "" {
		return errors.New("instance id is required")
	}
	if strings.ContainsAny(instanceID, "/\\") || strings.Contains(instanceID, "..") {
		return fmt.Errorf("instance id %q must not contain path separators", instanceID)
	}
	return nil
}

// isExitStatus reports whether the error is an exec.ExitError with the given status.
func isExitStatus(err error, status int) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == status
}
