package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/user/secsync/pkg/config"
	"github.com/user/secsync/pkg/engine"
	"github.com/user/secsync/pkg/logging"
	"github.com/user/secsync/pkg/scanners"
	"github.com/user/secsync/pkg/support"
	"github.com/user/secsync/pkg/workflow"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-render locally whenever a scanner output file changes",
	Long: `Watch monitors the configured scanner output files and re-renders the
artifacts on every change. Local development convenience only: it never
takes the lock, never commits, and never pushes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			logging.Errorf("configuration error: %v", err)
			os.Exit(workflow.ExitUsage)
		}
		if len(cfg.Scanners) == 0 {
			logging.Errorf("no scanners configured, nothing to watch")
			os.Exit(workflow.ExitUsage)
		}
		runWatch(cfg, nil)
	},
}

func runWatch(cfg *config.Config, stop <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Errorf("watch init failed: %v", err)
		os.Exit(1)
	}
	defer watcher.Close()

	// Watch the directories, not the files: editors and scanners replace
	// output files by rename, which drops a file-level watch.
	dirs := map[string]bool{}
	for _, path := range cfg.Scanners {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logging.Errorf("cannot watch %s: %v", dir, err)
			os.Exit(1)
		}
	}

	watched := map[string]bool{}
	for _, path := range cfg.Scanners {
		watched[filepath.Clean(path)] = true
	}

	rerender(cfg)

	var timer *time.Timer
	debounce := 300 * time.Millisecond
	for {
		select {
		case <-stop:
			return
		case ev := <-watcher.Events:
			if !watched[filepath.Clean(ev.Name)] {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() { rerender(cfg) })
		case err := <-watcher.Errors:
			logging.Warnf("watch error: %v", err)
		}
	}
}

// rerender runs the parse/reconcile/sync/render steps in memory and writes
// the artifacts, leaving snapshot, registry file, and git untouched except
// for the rendered outputs.
func rerender(cfg *config.Config) {
	raw, readErrs := cfg.ReadScannerOutputs()
	scanned, parseErrs := scanners.Parse(raw, time.Now())
	for _, pe := range append(readErrs, parseErrs...) {
		logging.Warnf("dropping scanner output: %v", pe)
	}

	previous, err := engine.LoadSnapshot(filepath.Join(cfg.RepoPath, engine.DefaultSnapshotPath))
	if err != nil {
		logging.Warnf("failed to load snapshot: %v", err)
		return
	}
	registry, err := engine.LoadRegistry(filepath.Join(cfg.RepoPath, engine.DefaultRegistryPath))
	if err != nil {
		logging.Warnf("failed to load registry: %v", err)
		return
	}

	merged := engine.BuildCurrent(previous, scanned)
	changes := engine.Reconcile(previous, merged)
	synced := registry.Clone()
	engine.Sync(changes, synced, cfg.Defaults, time.Now())
	if err := engine.VerifyInvariant(synced, merged); err != nil {
		logging.Errorf("%v", err)
		return
	}

	artifacts, err := engine.Render(merged, synced, time.Now())
	if err != nil {
		logging.Errorf("render failed: %v", err)
		return
	}
	if err := support.WriteFileAtomic(filepath.Join(cfg.RepoPath, engine.DefaultFindingsDocPath), artifacts.FindingsDoc); err != nil {
		logging.Errorf("write failed: %v", err)
		return
	}
	logging.Infof("re-rendered %s (%d active findings)", engine.DefaultFindingsDocPath, len(merged.Findings))
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
