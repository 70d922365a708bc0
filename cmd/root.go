package cmd

import (
	"github.com/spf13/cobra"

	"github.com/user/secsync/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "secsync",
	Short: "Security-findings synchronization engine",
	Long: `SecSync ingests vulnerability-scanner outputs, reconciles them against a
human-edited remediation registry, and commits the result back to a shared
git repository without corrupting history when automation runs race.`,
}

var (
	debugMode  bool
	jsonLogs   bool
	noColor    bool
	configPath string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON lines")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable ANSI colors")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default .secsync.yaml)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.DebugEnabled = debugMode
		logging.JSONMode = jsonLogs
		if noColor {
			logging.ColorEnabled = false
		}
	}
}
