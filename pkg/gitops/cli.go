package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CLI implements Git by shelling out to the git binary.
type CLI struct {
	// Dir is the repository root.
	Dir string

	// Timeout bounds each individual git invocation.
	Timeout time.Duration
}

// NewCLI returns a CLI bound to the repository at dir.
func NewCLI(dir string) *CLI {
	return &CLI{Dir: dir, Timeout: 60 * time.Second}
}

type runResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// run executes one git command with a bounded timeout, capturing output.
func (g *CLI) run(ctx context.Context, args ...string) (runResult, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	// Rebase continue must never drop into an editor.
	cmd.Env = append(os.Environ(), "GIT_EDITOR=true", "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := runResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
		}
		if ctx.Err() == context.DeadlineExceeded {
			return res, &OperationError{Op: args[0], Err: fmt.Errorf("timed out after %s", g.Timeout)}
		}
	}
	return res, err
}

func (g *CLI) Fetch(ctx context.Context, remote string) error {
	if _, err := g.run(ctx, "fetch", remote); err != nil {
		return &OperationError{Op: "fetch", Err: err}
	}
	return nil
}

func (g *CLI) Head(ctx context.Context) (string, error) {
	res, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", &OperationError{Op: "rev-parse HEAD", Err: err}
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (g *CLI) RemoteHead(ctx context.Context, remote, branch string) (string, error) {
	res, err := g.run(ctx, "rev-parse", remote+"/"+branch)
	if err != nil {
		return "", &OperationError{Op: "rev-parse remote head", Err: err}
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (g *CLI) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	res, err := g.run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err != nil {
		// Exit code 1 is the documented "no" answer, anything else is a failure.
		if res.ExitCode == 1 {
			return false, nil
		}
		return false, &OperationError{Op: "merge-base", Err: err}
	}
	return true, nil
}

func (g *CLI) RebaseOnto(ctx context.Context, commit string) (bool, error) {
	_, err := g.run(ctx, "rebase", commit)
	if err == nil {
		return false, nil
	}
	inProgress, stateErr := g.RebaseInProgress()
	if stateErr == nil && inProgress {
		return true, nil
	}
	return false, &OperationError{Op: "rebase", Err: err}
}

// RebaseInProgress checks the on-disk rebase markers directly; it must work
// even when no rebase-related command has run in this process (stale state
// from a cancelled CI run).
func (g *CLI) RebaseInProgress() (bool, error) {
	for _, marker := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(g.Dir, ".git", marker)); err == nil {
			return true, nil
		} else if !os.IsNotExist(err) {
			return false, err
		}
	}
	return false, nil
}

func (g *CLI) ConflictedFiles(ctx context.Context) ([]string, error) {
	res, err := g.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, &OperationError{Op: "diff --diff-filter=U", Err: err}
	}
	var files []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ReadStages reads index stages 2 and 3 of a conflicted path. During a
// rebase, stage 2 holds the side being rebased onto (the remote) and stage 3
// the local commit being replayed.
func (g *CLI) ReadStages(ctx context.Context, path string) (string, string, error) {
	ours, err := g.run(ctx, "show", ":2:"+path)
	if err != nil {
		return "", "", &OperationError{Op: "show :2:" + path, Err: err}
	}
	theirs, err := g.run(ctx, "show", ":3:"+path)
	if err != nil {
		return "", "", &OperationError{Op: "show :3:" + path, Err: err}
	}
	return ours.Stdout, theirs.Stdout, nil
}

func (g *CLI) WriteResolved(path, content string) error {
	return os.WriteFile(filepath.Join(g.Dir, path), []byte(content), 0o644)
}

func (g *CLI) StageFile(ctx context.Context, path string) error {
	if _, err := g.run(ctx, "add", "--", path); err != nil {
		return &OperationError{Op: "add " + path, Err: err}
	}
	return nil
}

func (g *CLI) ContinueRebase(ctx context.Context) (bool, error) {
	_, err := g.run(ctx, "rebase", "--continue")
	if err == nil {
		return false, nil
	}
	inProgress, stateErr := g.RebaseInProgress()
	if stateErr == nil && inProgress {
		return true, nil
	}
	return false, &OperationError{Op: "rebase --continue", Err: err}
}

func (g *CLI) AbortRebase(ctx context.Context) error {
	if _, err := g.run(ctx, "rebase", "--abort"); err != nil {
		return &OperationError{Op: "rebase --abort", Err: err}
	}
	return nil
}

func (g *CLI) CommitAll(ctx context.Context, message string, paths []string) (bool, error) {
	// Not every artifact exists on every run (the archive only appears once
	// something resolves) and git rejects unmatched pathspecs.
	var present []string
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(g.Dir, p)); err == nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return false, nil
	}

	args := append([]string{"add", "--"}, present...)
	if _, err := g.run(ctx, args...); err != nil {
		return false, &OperationError{Op: "add", Err: err}
	}

	status, err := g.run(ctx, append([]string{"status", "--porcelain", "--"}, present...)...)
	if err != nil {
		return false, &OperationError{Op: "status", Err: err}
	}
	if strings.TrimSpace(status.Stdout) == "" {
		return false, nil
	}

	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return false, &OperationError{Op: "commit", Err: err}
	}
	return true, nil
}

func (g *CLI) Push(ctx context.Context, remote, branch string) error {
	res, err := g.run(ctx, "push", remote, "HEAD:"+branch)
	if err == nil {
		return nil
	}
	combined := res.Stdout + res.Stderr
	if strings.Contains(combined, "non-fast-forward") ||
		strings.Contains(combined, "fetch first") ||
		strings.Contains(combined, "[rejected]") {
		return ErrPushRejected
	}
	return &OperationError{Op: "push", Err: err}
}
