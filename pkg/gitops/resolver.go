package gitops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/secsync/pkg/logging"
)

// State names the resolver's position in the sync cycle. Exported mostly for
// logging and tests.
type State string

const (
	StateIdle             State = "Idle"
	StateFetching         State = "Fetching"
	StateRebasing         State = "Rebasing"
	StateClean            State = "Clean"
	StateConflictDetected State = "ConflictDetected"
	StateAutoResolving    State = "AutoResolving"
	StateContinuing       State = "Continuing"
	StateAborting         State = "Aborting"
	StatePushed           State = "Pushed"
	StateFailed           State = "Failed"
)

// Resolver drives the fetch -> rebase -> resolve -> push cycle against a
// single remote with a linear-history policy.
type Resolver struct {
	git     Git
	remote  string
	branch  string
	retries int
	backoff time.Duration
	sleep   func(time.Duration)

	// continueLimit bounds how many conflicted commits one rebase may stop
	// on before the run gives up; a runaway loop here would mean the rebase
	// state machine and git disagree about progress.
	continueLimit int

	state State
}

// NewResolver builds a resolver with bounded retry policy.
func NewResolver(git Git, remote, branch string, retries int, backoff time.Duration) *Resolver {
	if retries < 1 {
		retries = 1
	}
	return &Resolver{
		git:           git,
		remote:        remote,
		branch:        branch,
		retries:       retries,
		backoff:       backoff,
		sleep:         time.Sleep,
		continueLimit: 50,
		state:         StateIdle,
	}
}

// State returns the resolver's current state.
func (r *Resolver) State() State { return r.state }

// Sleep overrides the retry sleeper. Injectable for tests.
func (r *Resolver) Sleep(fn func(time.Duration)) {
	if fn != nil {
		r.sleep = fn
	}
}

// EnsureClean asserts the Idle precondition: no rebase left mid-flight by a
// cancelled run. A stale rebase is aborted so this run starts from a clean
// tree.
func (r *Resolver) EnsureClean(ctx context.Context) error {
	inProgress, err := r.git.RebaseInProgress()
	if err != nil {
		return &OperationError{Op: "rebase state check", Err: err}
	}
	if inProgress {
		logging.Warnf("stale rebase detected, aborting it before this run")
		if err := r.git.AbortRebase(ctx); err != nil {
			return err
		}
	}
	r.state = StateIdle
	return nil
}

// SyncAndPush runs the full cycle, retrying the whole thing when the push is
// rejected because the remote moved again. Transient git failures retry on
// the same schedule. Content conflicts and exhausted retries are final.
func (r *Resolver) SyncAndPush(ctx context.Context) ([]ConflictRecord, error) {
	var records []ConflictRecord
	var lastErr error

	for attempt := 1; attempt <= r.retries; attempt++ {
		if attempt > 1 {
			wait := r.backoff * time.Duration(1<<(attempt-2))
			logging.Infof("retrying sync in %s (attempt %d/%d)", wait, attempt, r.retries)
			r.sleep(wait)
		}

		recs, err := r.cycle(ctx)
		records = append(records, recs...)
		if err == nil {
			r.state = StatePushed
			return records, nil
		}

		var conflictErr *ContentConflictError
		if errors.As(err, &conflictErr) {
			r.state = StateFailed
			return records, err
		}
		lastErr = err
	}

	r.state = StateFailed
	return records, &OperationError{
		Op:  "sync",
		Err: fmt.Errorf("giving up after %d attempts: %w", r.retries, lastErr),
	}
}

// cycle is one fetch/rebase/push pass.
func (r *Resolver) cycle(ctx context.Context) ([]ConflictRecord, error) {
	r.state = StateFetching
	if err := r.git.Fetch(ctx, r.remote); err != nil {
		return nil, err
	}

	remoteHead, err := r.git.RemoteHead(ctx, r.remote, r.branch)
	if err != nil {
		return nil, err
	}
	localHead, err := r.git.Head(ctx)
	if err != nil {
		return nil, err
	}

	var records []ConflictRecord
	upToDate, err := r.git.IsAncestor(ctx, remoteHead, localHead)
	if err != nil {
		return nil, err
	}
	if upToDate {
		r.state = StateClean
	} else {
		records, err = r.rebase(ctx, remoteHead)
		if err != nil {
			return records, err
		}
		r.state = StateClean
	}

	if err := r.git.Push(ctx, r.remote, r.branch); err != nil {
		return records, err
	}
	return records, nil
}

// rebase rebases onto the remote head, auto-resolving timestamp-only
// conflicts and aborting on anything else. Partial auto-resolution is not
// permitted: a single content conflict aborts the whole rebase.
func (r *Resolver) rebase(ctx context.Context, onto string) ([]ConflictRecord, error) {
	r.state = StateRebasing
	conflicted, err := r.git.RebaseOnto(ctx, onto)
	if err != nil {
		return nil, err
	}

	var records []ConflictRecord
	for rounds := 0; conflicted; rounds++ {
		if rounds >= r.continueLimit {
			return records, r.abort(ctx, &OperationError{
				Op:  "rebase",
				Err: fmt.Errorf("still conflicted after %d continue rounds", rounds),
			})
		}

		r.state = StateConflictDetected
		files, err := r.git.ConflictedFiles(ctx)
		if err != nil {
			return records, r.abort(ctx, err)
		}
		if len(files) == 0 {
			return records, r.abort(ctx, &OperationError{
				Op:  "rebase",
				Err: fmt.Errorf("rebase stopped without conflicted files"),
			})
		}

		// Classify everything first. One content conflict means nothing at
		// all gets auto-resolved.
		type pending struct {
			path     string
			resolved string
		}
		var todo []pending
		var contentConflicts []FileConflict
		for _, path := range files {
			ours, theirs, err := r.git.ReadStages(ctx, path)
			if err != nil {
				return records, r.abort(ctx, err)
			}
			resolved, ok := Resolve(ours, theirs)
			if !ok {
				contentConflicts = append(contentConflicts, FileConflict{Path: path, Ours: ours, Theirs: theirs})
				records = append(records, ConflictRecord{
					FilePath:   path,
					Type:       ConflictContent,
					Resolution: ResolutionManual,
				})
				continue
			}
			todo = append(todo, pending{path: path, resolved: resolved})
		}
		if len(contentConflicts) > 0 {
			return records, r.abort(ctx, &ContentConflictError{Conflicts: contentConflicts})
		}

		r.state = StateAutoResolving
		for _, p := range todo {
			logging.Infof("auto-resolving timestamp-only conflict in %s", p.path)
			if err := r.git.WriteResolved(p.path, p.resolved); err != nil {
				return records, r.abort(ctx, &OperationError{Op: "write resolved", Err: err})
			}
			if err := r.git.StageFile(ctx, p.path); err != nil {
				return records, r.abort(ctx, err)
			}
			records = append(records, ConflictRecord{
				FilePath:      p.path,
				Type:          ConflictTimestampOnly,
				Resolution:    ResolutionAuto,
				ResolvedValue: p.resolved,
			})
		}

		r.state = StateContinuing
		conflicted, err = r.git.ContinueRebase(ctx)
		if err != nil {
			return records, r.abort(ctx, err)
		}
	}
	return records, nil
}

// abort restores the pre-rebase tree, then surfaces cause. The tree must
// never be left mid-rebase on any exit path.
func (r *Resolver) abort(ctx context.Context, cause error) error {
	r.state = StateAborting
	if err := r.git.AbortRebase(ctx); err != nil {
		logging.Errorf("rebase abort failed: %v (original error: %v)", err, cause)
	}
	return cause
}
