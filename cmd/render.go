package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/secsync/pkg/config"
	"github.com/user/secsync/pkg/engine"
	"github.com/user/secsync/pkg/logging"
	"github.com/user/secsync/pkg/support"
	"github.com/user/secsync/pkg/workflow"
)

var renderStdout bool

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Re-render the artifacts from the persisted snapshot and registry",
	Long: `Render rebuilds SECURITY_FINDINGS.md and the remediation registry from the
last persisted snapshot without touching git or the lock. Useful locally
after hand-editing the registry.`,
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

		artifacts, err := engine.Render(snapshot, registry, time.Now())
		if err != nil {
			logging.Errorf("render failed: %v", err)
			os.Exit(1)
		}

		if renderStdout {
			fmt.Print(string(artifacts.FindingsDoc))
			return
		}
		if err := support.WriteFileAtomic(filepath.Join(cfg.RepoPath, engine.DefaultFindingsDocPath), artifacts.FindingsDoc); err != nil {
			logging.Errorf("write failed: %v", err)
			os.Exit(1)
		}
		if err := support.WriteFileAtomic(filepath.Join(cfg.RepoPath, engine.DefaultRegistryPath), artifacts.Registry); err != nil {
			logging.Errorf("write failed: %v", err)
			os.Exit(1)
		}
		logging.Infof("rendered %s and %s", engine.DefaultFindingsDocPath, engine.DefaultRegistryPath)
	},
}

func init() {
	renderCmd.Flags().BoolVar(&renderStdout, "stdout", false, "Print the findings document instead of writing files")
	rootCmd.AddCommand(renderCmd)
}
