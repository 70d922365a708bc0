package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/secsync/pkg/config"
	"github.com/user/secsync/pkg/engine"
	"github.com/user/secsync/pkg/gitops"
	"github.com/user/secsync/pkg/logging"
	"github.com/user/secsync/pkg/workflow"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active findings, registry state, and any stale lock or rebase",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			logging.Errorf("configuration error: %v", err)
			os.Exit(workflow.ExitUsage)
		}

		snapshot, err := engine.LoadSnapshot(filepath.Join(cfg.RepoPath, engine.DefaultSnapshotPath))
		if err != nil {
			logging.Errorf("failed to load snapshot: %v", err)
			os.Exit(1)
		}
		registry, err := engine.LoadRegistry(filepath.Join(cfg.RepoPath, engine.DefaultRegistryPath))
		if err != nil {
			logging.Errorf("failed to load registry: %v", err)
			os.Exit(1)
		}

		fmt.Printf("Active findings:     %d\n", len(snapshot.Findings))
		fmt.Printf("Registry entries:    %d\n", len(registry.Findings))
		counts := make(map[engine.Severity]int)
		for _, f := range snapshot.Findings {
			counts[f.Severity]++
		}
		for _, sev := range engine.SeveritiesDescending {
			if counts[sev] > 0 {
				fmt.Printf("  %-18s %d\n", sev.Title()+":", counts[sev])
			}
		}

		if err := engine.VerifyInvariant(registry, snapshot); err != nil {
			logging.Warnf("%v", err)
		}

		if _, statErr := os.Stat(filepath.Join(cfg.RepoPath, workflow.DefaultLockPath)); statErr == nil {
			logging.Warnf("lock file present at %s", workflow.DefaultLockPath)
		}
		git := gitops.NewCLI(cfg.RepoPath)
		if inProgress, rerr := git.RebaseInProgress(); rerr == nil && inProgress {
			logging.Warnf("a rebase is in progress; the next run will abort it")
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
