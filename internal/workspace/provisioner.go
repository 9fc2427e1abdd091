// Package workspace provisions isolated git working copies, one per
// task, by shelling out to the git CLI.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/logging"
)

const defaultGitTimeout = 120 * time.Second

// Provisioner implements core.WorkspaceProvisioner on the git CLI.
// Each task gets its own clone under baseDir keyed by task ID.
type Provisioner struct {
	baseDir string
	timeout time.Duration
	logger  *logging.Logger
}

var _ core.WorkspaceProvisioner = (*Provisioner)(nil)

// NewProvisioner creates a provisioner rooted at baseDir.
func NewProvisioner(baseDir string, logger *logging.Logger) (*Provisioner, error) {
	if baseDir == "" {
		return nil, core.ErrValidation("WORKSPACE_DIR_REQUIRED", "workspace base directory cannot be empty")
	}
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provisioner{baseDir: absDir, timeout: defaultGitTimeout, logger: logger}, nil
}

// WorktreePath returns the clone directory for the task. The directory
// may not exist yet.
func (p *Provisioner) WorktreePath(taskID core.TaskID) string {
	return filepath.Join(p.baseDir, string(taskID))
}

// SetupWorktree clones the repository for the task (or reuses an
// existing clone) and checks out the task branch.
func (p *Provisioner) SetupWorktree(ctx context.Context, taskID core.TaskID, repoURL, branch string) (*core.Workspace, error) {
	path := p.WorktreePath(taskID)

	reused := p.WorktreeExists(taskID)
	if !reused {
		p.logger.Info("cloning repository", "task_id", taskID, "repo", repoURL)
		if _, err := p.run(ctx, p.baseDir, "clone", repoURL, path); err != nil {
			return nil, fmt.Errorf("cloning repository: %w", err)
		}
	} else {
		p.logger.Info("reusing existing workspace", "task_id", taskID, "path", path)
		// Pick up remote changes; a detached or offline remote is not
		// fatal for a reused clone.
		if _, err := p.run(ctx, path, "fetch", "--all", "--prune"); err != nil {
			p.logger.Warn("fetch failed for reused workspace", "task_id", taskID, "error", err)
		}
	}

	empty := p.isEmptyRepo(ctx, path)

	if branch != "" {
		if err := p.checkoutBranch(ctx, path, branch); err != nil {
			if !reused {
				_ = os.RemoveAll(path)
			}
			return nil, err
		}
	}

	return &core.Workspace{Path: path, Reused: reused, IsEmptyRepo: empty}, nil
}

// WorktreeExists reports whether a clone exists for the task.
func (p *Provisioner) WorktreeExists(taskID core.TaskID) bool {
	info, err := os.Stat(filepath.Join(p.WorktreePath(taskID), ".git"))
	return err == nil && info.IsDir()
}

// CleanupWorktree removes the clone for the task.
func (p *Provisioner) CleanupWorktree(ctx context.Context, taskID core.TaskID) error {
	path := p.WorktreePath(taskID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	p.logger.Info("removed workspace", "task_id", taskID, "path", path)
	return nil
}

// ChangedFiles lists files changed relative to baseBranch, including
// untracked files.
func (p *Provisioner) ChangedFiles(ctx context.Context, path, baseBranch string) ([]string, error) {
	seen := map[string]struct{}{}
	var files []string

	add := func(output string) {
		for _, line := range strings.Split(output, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, ok := seen[line]; ok {
				continue
			}
			seen[line] = struct{}{}
			files = append(files, line)
		}
	}

	if baseBranch != "" && p.refExists(ctx, path, baseBranch) {
		diffed, err := p.run(ctx, path, "diff", "--name-only", baseBranch)
		if err != nil {
			return nil, err
		}
		add(diffed)
	}

	untracked, err := p.run(ctx, path, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	add(untracked)

	return files, nil
}

// Diff returns the unified diff relative to baseBranch.
func (p *Provisioner) Diff(ctx context.Context, path, baseBranch string) (string, error) {
	if baseBranch == "" || !p.refExists(ctx, path, baseBranch) {
		return p.run(ctx, path, "diff", "HEAD")
	}
	return p.run(ctx, path, "diff", baseBranch)
}

// checkoutBranch switches to branch, creating it when it does not
// exist locally or on a remote.
func (p *Provisioner) checkoutBranch(ctx context.Context, path, branch string) error {
	if _, err := p.run(ctx, path, "checkout", branch); err == nil {
		return nil
	}
	if _, err := p.run(ctx, path, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("creating branch %s: %w", branch, err)
	}
	return nil
}

// isEmptyRepo reports whether the repository has no commits yet.
func (p *Provisioner) isEmptyRepo(ctx context.Context, path string) bool {
	_, err := p.run(ctx, path, "rev-parse", "HEAD")
	return err != nil
}

func (p *Provisioner) refExists(ctx context.Context, path, ref string) bool {
	_, err := p.run(ctx, path, "rev-parse", "--verify", ref)
	return err == nil
}

// run executes a git command in dir.
func (p *Provisioner) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout(fmt.Sprintf("git %s timed out", args[0]))
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
