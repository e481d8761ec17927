// Package worktree wraps the git command-line tool to create and destroy
// isolated working copies of the target repository.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"orchestrator/pkg/logx"
)

// Manager creates and destroys worktrees rooted alongside the target repo.
//
//nolint:govet // logical grouping preferred over memory optimization
type Manager struct {
	repoPath string
	rootDir  string
	logger   *logx.Logger
}

// NewManager builds a Manager for a target repository and worktree root.
func NewManager(repoPath, rootDir string) *Manager {
	return &Manager{repoPath: repoPath, rootDir: rootDir, logger: logx.NewLogger("worktree")}
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s failed: %w\noutput: %s", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}

// EnsureRepoUpdated fetches origin and fast-forwards baseBranch on the
// target repository. Fails closed if the base isn't fast-forwardable;
// the caller must surface this, not auto-resolve it.
func (m *Manager) EnsureRepoUpdated(ctx context.Context, baseBranch string) error {
	if _, err := m.git(ctx, m.repoPath, "fetch", "origin"); err != nil {
		return fmt.Errorf("failed to fetch origin: %w", err)
	}
	if _, err := m.git(ctx, m.repoPath, "checkout", baseBranch); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", baseBranch, err)
	}
	if _, err := m.git(ctx, m.repoPath, "merge", "--ff-only", "origin/"+baseBranch); err != nil {
		return fmt.Errorf("base branch %s is not fast-forwardable: %w", baseBranch, err)
	}
	return nil
}

// CreateForImplement deletes any stale fix/issue-{N} branch on the target
// repository, then creates a worktree rooted at a new branch of that name
// forked from baseBranch.
func (m *Manager) CreateForImplement(ctx context.Context, issueNumber int, baseBranch string) (path, branch string, err error) {
	branch = fmt.Sprintf("fix/issue-%d", issueNumber)
	path = filepath.Join(m.rootDir, fmt.Sprintf("issue-%d", issueNumber))

	// Delete stale branch and any lingering worktree at this path first;
	// every operation must write no partial state the caller has to undo.
	_, _ = m.git(ctx, m.repoPath, "worktree", "remove", "--force", path)
	_, _ = m.git(ctx, m.repoPath, "branch", "-D", branch)

	if err := os.MkdirAll(m.rootDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create worktree root %s: %w", m.rootDir, err)
	}

	if _, err := m.git(ctx, m.repoPath, "worktree", "add", "-B", branch, path, baseBranch); err != nil {
		return "", "", fmt.Errorf("failed to create implement worktree for issue %d: %w", issueNumber, err)
	}

	return path, branch, nil
}

// CreateForFix creates a worktree checked out to the PR's branch, then
// hard-resets to origin/{branch} to guarantee freshness.
func (m *Manager) CreateForFix(ctx context.Context, prNumber int, branchName string) (string, error) {
	path := filepath.Join(m.rootDir, fmt.Sprintf("pr-fix-%d", prNumber))

	_, _ = m.git(ctx, m.repoPath, "worktree", "remove", "--force", path)

	if err := os.MkdirAll(m.rootDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create worktree root %s: %w", m.rootDir, err)
	}

	if _, err := m.git(ctx, m.repoPath, "fetch", "origin", branchName); err != nil {
		return "", fmt.Errorf("failed to fetch branch %s: %w", branchName, err)
	}

	if _, err := m.git(ctx, m.repoPath, "worktree", "add", path, branchName); err != nil {
		return "", fmt.Errorf("failed to create fix worktree for pr %d: %w", prNumber, err)
	}

	if _, err := m.git(ctx, path, "reset", "--hard", "origin/"+branchName); err != nil {
		return "", fmt.Errorf("failed to reset fix worktree for pr %d to origin/%s: %w", prNumber, branchName, err)
	}

	return path, nil
}

// Cleanup force-removes a worktree, tolerating an already-removed path.
func (m *Manager) Cleanup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.logger.Debug("worktree %s already removed", path)
		return nil
	}

	if _, err := m.git(ctx, m.repoPath, "worktree", "remove", "--force", path); err != nil {
		m.logger.Warn("git worktree remove failed for %s, falling back to rm -rf: %v", path, err)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("failed to remove worktree %s: %w", path, rmErr)
		}
		_, _ = m.git(ctx, m.repoPath, "worktree", "prune")
	}

	return nil
}

// BranchPushed reports whether branch exists on origin.
func (m *Manager) BranchPushed(ctx context.Context, branch string) (bool, error) {
	_, err := m.git(ctx, m.repoPath, "ls-remote", "--exit-code", "--heads", "origin", branch)
	if err != nil {
		if strings.Contains(err.Error(), "exit status 2") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check remote branch %s: %w", branch, err)
	}
	return true, nil
}

// HasUnpushedCommits reports whether branch has local commits not present
// on origin/branch (or is entirely local, with no such remote ref yet).
func (m *Manager) HasUnpushedCommits(ctx context.Context, branch string) (bool, error) {
	if _, err := m.git(ctx, m.repoPath, "rev-parse", "--verify", branch); err != nil {
		return false, nil
	}
	out, err := m.git(ctx, m.repoPath, "log", "origin/"+branch+".."+branch, "--oneline")
	if err != nil {
		// origin/{branch} doesn't exist locally yet; any local commit counts as unpushed.
		out, err2 := m.git(ctx, m.repoPath, "log", branch, "--oneline", "-1")
		if err2 != nil {
			return false, nil
		}
		return strings.TrimSpace(out) != "", nil
	}
	return strings.TrimSpace(out) != "", nil
}

// PushBranch pushes branch to origin, creating the upstream tracking ref.
func (m *Manager) PushBranch(ctx context.Context, branch string) error {
	if _, err := m.git(ctx, m.repoPath, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("failed to push %s: %w", branch, err)
	}
	return nil
}

// ListWorktrees returns the paths of all worktrees currently registered
// against the target repository, for diagnostics and orphan sweeps.
func (m *Manager) ListWorktrees(ctx context.Context) ([]string, error) {
	out, err := m.git(ctx, m.repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths, nil
}
