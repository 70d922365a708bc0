package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/secsync/pkg/config"
	"github.com/user/secsync/pkg/logging"
	"github.com/user/secsync/pkg/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full sync pipeline: parse, reconcile, sync, render, push",
	Long: `Run acquires the workflow lock, parses the configured scanner outputs,
reconciles them against the last committed snapshot, synchronizes the
remediation registry, renders the artifacts, and pushes the result.

Exit codes: 0 success or no-op, 10 skipped (another run holds the lock),
20 no scanner output readable, 21 registry invariant violated, 22 git
failure after retries, 23 content conflict requiring a human.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			logging.Errorf("configuration error: %v", err)
			os.Exit(workflow.ExitUsage)
		}
		if cfg.Logging.Debug {
			logging.DebugEnabled = true
		}
		if cfg.Logging.JSON {
			logging.JSONMode = true
		}

		coordinator := workflow.New(cfg)
		result, err := coordinator.Run(context.Background())
		if err != nil {
			code := workflow.ExitCodeFor(err)
			if code == workflow.ExitSkipped {
				// Routine race, not an escalation. The distinct exit code is
				// still there for CI to branch on.
				os.Exit(code)
			}
			logging.Errorf("%s", workflow.Describe(err))
			os.Exit(code)
		}
		logging.Debugf("run finished with status %q", result.Status)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
