// Package gitops syncs the working tree with the remote: fetch, rebase,
// auto-resolution of timestamp-only conflicts, and push. The state machine in
// resolver.go operates over the narrow Git interface below so the conflict
// logic is testable without a git binary.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Git is the minimal set of repository operations the resolver needs.
type Git interface {
	// Fetch retrieves the remote's refs.
	Fetch(ctx context.Context, remote string) error

	// Head returns the local HEAD commit hash.
	Head(ctx context.Context) (string, error)

	// RemoteHead returns the commit hash of remote/branch after a fetch.
	RemoteHead(ctx context.Context, remote, branch string) (string, error)

	// IsAncestor reports whether ancestor is reachable from descendant.
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)

	// RebaseOnto rebases the current branch onto commit. conflicted is true
	// when the rebase stopped on conflicts and is left in progress.
	RebaseOnto(ctx context.Context, commit string) (conflicted bool, err error)

	// RebaseInProgress reports whether a rebase is mid-flight.
	RebaseInProgress() (bool, error)

	// ConflictedFiles lists paths with unresolved conflicts.
	ConflictedFiles(ctx context.Context) ([]string, error)

	// ReadStages returns both sides of a conflicted file: ours is the side
	// being rebased onto (the remote's content during a rebase), theirs the
	// local commit being replayed.
	ReadStages(ctx context.Context, path string) (ours, theirs string, err error)

	// WriteResolved replaces a conflicted file's content, markers gone.
	WriteResolved(path, content string) error

	// StageFile marks a resolved file as staged.
	StageFile(ctx context.Context, path string) error

	// ContinueRebase resumes after staging resolutions. conflicted is true
	// when the next commit in the rebase also stopped on conflicts.
	ContinueRebase(ctx context.Context) (conflicted bool, err error)

	// AbortRebase restores the pre-rebase working tree.
	AbortRebase(ctx context.Context) error

	// CommitAll stages the given paths and commits them. Returns false when
	// there was nothing to commit.
	CommitAll(ctx context.Context, message string, paths []string) (bool, error)

	// Push updates remote/branch; ErrPushRejected when the remote moved.
	Push(ctx context.Context, remote, branch string) error
}

// ErrPushRejected signals a non-fast-forward rejection: the remote gained
// commits since our fetch, so the whole fetch/rebase/push cycle must rerun.
var ErrPushRejected = errors.New("push rejected: remote has new commits")

// OperationError wraps a transient git/network failure. The coordinator
// retries these with backoff before surfacing them.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("git %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// FileConflict carries both sides of an unresolvable conflict for human
// diagnosis.
type FileConflict struct {
	Path   string
	Ours   string
	Theirs string
}

// ContentConflictError is fatal for a run: at least one rebase conflict was
// not timestamp-only, the rebase was aborted, and a human has to reconcile.
type ContentConflictError struct {
	Conflicts []FileConflict
}

func (e *ContentConflictError) Error() string {
	paths := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		paths[i] = c.Path
	}
	return "content conflict in: " + strings.Join(paths, ", ")
}
