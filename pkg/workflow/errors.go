package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/secsync/pkg/engine"
	"github.com/user/secsync/pkg/gitops"
	"github.com/user/secsync/pkg/scanners"
)

// Exit codes for the CI surface. 0 covers success and no-op; everything a CI
// pipeline might want to branch on gets its own code.
const (
	ExitOK        = 0
	ExitSkipped   = 10 // lock busy, another run in progress
	ExitParse     = 20 // every configured scanner output was unreadable
	ExitInvariant = 21 // registry/findings 1:1 mapping broken
	ExitGit       = 22 // git/network failure after retries
	ExitConflict  = 23 // non-timestamp rebase conflict, human needed
	ExitUsage     = 2  // bad configuration or arguments
)

// AllScannersFailedError is the fatal form of parse failure. Individual
// scanner failures are tolerated, but when every scanner is unreadable (or
// none are configured at all), proceeding would resolve every active finding
// at once. Errors is empty in the none-configured case.
type AllScannersFailedError struct {
	Errors []scanners.ParseError
}

func (e *AllScannersFailedError) Error() string {
	if len(e.Errors) == 0 {
		return "no scanners configured"
	}
	msgs := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		msgs[i] = pe.Error()
	}
	return "no scanner output could be read: " + strings.Join(msgs, "; ")
}

// ExitCodeFor maps an error from Run to its CI exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		parseErr     *AllScannersFailedError
		invariantErr *engine.SyncInvariantError
		conflictErr  *gitops.ContentConflictError
		gitErr       *gitops.OperationError
	)
	switch {
	case errors.Is(err, ErrLockBusy):
		return ExitSkipped
	case errors.As(err, &parseErr):
		return ExitParse
	case errors.As(err, &invariantErr):
		return ExitInvariant
	case errors.As(err, &conflictErr):
		return ExitConflict
	case errors.As(err, &gitErr):
		return ExitGit
	default:
		return 1
	}
}

// Describe renders an error for the run log, expanding content conflicts
// with both sides so a human can resolve them without re-running anything.
func Describe(err error) string {
	var conflictErr *gitops.ContentConflictError
	if errors.As(err, &conflictErr) {
		var sb strings.Builder
		sb.WriteString("manual conflict resolution required:\n")
		for _, c := range conflictErr.Conflicts {
			sb.WriteString(fmt.Sprintf("--- %s (remote side) ---\n%s\n", c.Path, c.Ours))
			sb.WriteString(fmt.Sprintf("--- %s (local side) ---\n%s\n", c.Path, c.Theirs))
		}
		return sb.String()
	}
	return err.Error()
}
