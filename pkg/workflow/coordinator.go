package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/user/secsync/pkg/config"
	"github.com/user/secsync/pkg/engine"
	"github.com/user/secsync/pkg/gitops"
	"github.com/user/secsync/pkg/logging"
	"github.com/user/secsync/pkg/scanners"
	"github.com/user/secsync/pkg/support"
)

// CommitMessage carries a fixed tag so CI can ignore engine commits and
// avoid retrigger loops.
const CommitMessage = "chore(security): sync findings [secsync]"

// ArchivePath and AuditPath live next to the snapshot in the repository.
// The audit log stays untracked: committing it would dirty the tree after
// every push and block the next run's rebase.
const (
	ArchivePath = ".secsync/archive.jsonl"
	AuditPath   = ".secsync/audit.log"
)

// Result summarizes one run for the CLI and the audit log.
type Result struct {
	Status          string                  `json:"status"` // synced, no-op, skipped
	HolderID        string                  `json:"holder_id"`
	StartedAt       time.Time               `json:"started_at"`
	New             int                     `json:"new"`
	Resolved        int                     `json:"resolved"`
	SeverityChanged int                     `json:"severity_changed"`
	Active          int                     `json:"active"`
	ScannerErrors   int                     `json:"scanner_errors"`
	Conflicts       []gitops.ConflictRecord `json:"conflicts,omitempty"`
}

// Coordinator owns the run pipeline and is the sole mutual-exclusion point:
// at most one run is inside Fetching -> Pushed at a time.
type Coordinator struct {
	cfg *config.Config
	git gitops.Git

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(time.Duration)

	holderID string
}

// New builds a coordinator for the configured repository.
func New(cfg *config.Config) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		git:      gitops.NewCLI(cfg.RepoPath),
		Now:      time.Now,
		Sleep:    time.Sleep,
		holderID: uuid.NewString(),
	}
}

// NewWithGit is New with an injected git implementation, for tests.
func NewWithGit(cfg *config.Config, git gitops.Git) *Coordinator {
	c := New(cfg)
	c.git = git
	return c
}

func (c *Coordinator) path(rel string) string {
	return filepath.Join(c.cfg.RepoPath, rel)
}

// Run executes the full pipeline: lock, parse, reconcile, sync, render,
// commit, rebase/push, unlock. The lock is released on every exit path.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	result := &Result{HolderID: c.holderID, StartedAt: c.Now().UTC()}

	lock, err := AcquireWait(c.path(DefaultLockPath), c.holderID, c.cfg.LockTTL, c.cfg.LockWait, c.Now, c.Sleep)
	if err != nil {
		if err == ErrLockBusy {
			result.Status = "skipped"
			logging.Infof("skipped: another run in progress")
		}
		return result, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logging.Errorf("lock release failed: %v", err)
		}
	}()

	resolver := gitops.NewResolver(c.git, c.cfg.Remote, c.cfg.Branch, c.cfg.PushRetries, c.cfg.RetryDelay)
	resolver.Sleep(c.Sleep)
	if err := resolver.EnsureClean(ctx); err != nil {
		return result, err
	}

	current, err := c.ingest(result)
	if err != nil {
		return result, err
	}

	previous, err := engine.LoadSnapshot(c.path(engine.DefaultSnapshotPath))
	if err != nil {
		return result, fmt.Errorf("failed to load previous snapshot: %w", err)
	}
	merged := engine.BuildCurrent(previous, current)
	changes := engine.Reconcile(previous, merged)
	result.Active = len(merged.Findings)
	for _, ch := range changes {
		switch ch.Kind {
		case engine.ChangeNew:
			result.New++
		case engine.ChangeResolved:
			result.Resolved++
		case engine.ChangeSeverityChanged:
			result.SeverityChanged++
		}
	}

	registry, err := engine.LoadRegistry(c.path(engine.DefaultRegistryPath))
	if err != nil {
		return result, err
	}
	synced := registry.Clone()
	archived := engine.Sync(changes, synced, c.cfg.Defaults, c.Now())

	// Never commit a broken registry: the invariant check gates every write.
	if err := engine.VerifyInvariant(synced, merged); err != nil {
		return result, err
	}

	// A rerun with no functional change must not produce a commit. Keeping
	// the previous snapshot timestamp keeps the rendered document stable.
	if !engine.HasEffectiveChange(changes) && engine.SameActiveSet(previous, merged) {
		merged.Timestamp = previous.Timestamp
	}

	artifacts, err := engine.Render(merged, synced, c.Now())
	if err != nil {
		return result, err
	}

	if err := support.WriteFileAtomic(c.path(engine.DefaultFindingsDocPath), artifacts.FindingsDoc); err != nil {
		return result, err
	}
	if err := support.WriteFileAtomic(c.path(engine.DefaultRegistryPath), artifacts.Registry); err != nil {
		return result, err
	}
	if err := merged.Save(c.path(engine.DefaultSnapshotPath)); err != nil {
		return result, err
	}
	for _, a := range archived {
		if err := support.AppendJSONLine(c.path(ArchivePath), a); err != nil {
			return result, err
		}
	}

	committed, err := c.git.CommitAll(ctx, CommitMessage, []string{
		engine.DefaultFindingsDocPath,
		engine.DefaultRegistryPath,
		engine.DefaultSnapshotPath,
		ArchivePath,
	})
	if err != nil {
		return result, err
	}
	if !committed {
		result.Status = "no-op"
		logging.Infof("no functional change, nothing to commit")
		c.audit(result)
		return result, nil
	}

	records, err := resolver.SyncAndPush(ctx)
	result.Conflicts = records
	if err != nil {
		return result, err
	}

	result.Status = "synced"
	logging.Infof("synced: %d new, %d resolved, %d severity changes, %d active",
		result.New, result.Resolved, result.SeverityChanged, result.Active)
	c.audit(result)
	return result, nil
}

// ingest reads and parses all configured scanner outputs. Per-scanner
// failures are warnings; a run with no usable scanner data at all is fatal,
// because proceeding would resolve every active finding at once. An empty
// scanner set (a mistyped SECSYNC_SCANNER_* variable leaves exactly that)
// counts as no usable data, not as a clean empty scan.
func (c *Coordinator) ingest(result *Result) (engine.ScanSnapshot, error) {
	if len(c.cfg.Scanners) == 0 {
		return engine.ScanSnapshot{}, &AllScannersFailedError{}
	}

	raw, readErrs := c.cfg.ReadScannerOutputs()
	snapshot, parseErrs := scanners.Parse(raw, c.Now())

	all := append(readErrs, parseErrs...)
	for _, pe := range all {
		logging.Warnf("dropping scanner output: %v", pe)
	}
	result.ScannerErrors = len(all)

	if len(all) >= len(c.cfg.Scanners) {
		return engine.ScanSnapshot{}, &AllScannersFailedError{Errors: all}
	}
	return snapshot, nil
}

func (c *Coordinator) audit(result *Result) {
	if err := support.AppendJSONLine(c.path(AuditPath), result); err != nil {
		logging.Warnf("audit append failed: %v", err)
	}
}
