package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/statetree/am"
	"github.com/teranos/statetree/cmd/stctl/commands"
	"github.com/teranos/statetree/logger"
)

var rootCmd = &cobra.Command{
	Use:   "stctl",
	Short: "stctl - inspect, store and sync state trees",
	Long: `stctl - operator tool for hierarchical state trees.

Available commands:
  oid      - Parse and compare object identifiers
  snapshot - Convert, inspect and hash snapshot files
  db       - Manage stored snapshots
  serve    - Serve a database-backed tree to sync peers
  sync     - Reconcile the local tree with one peer
  am       - Show and validate configuration ("I am")
  version  - Show build information

Examples:
  stctl oid parse 'org.s7s.instance:/profile/hostname'
  stctl snapshot convert state.json state.cbor --compress
  stctl db list
  stctl serve -v
  stctl sync http://agent.local:8787`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		level := logger.VerbosityToLevel(verbosity)

		jsonOutput := false
		if cfg, err := am.Load(); err == nil {
			jsonOutput = cfg.Log.JSON
			logger.SetTheme(cfg.Log.Theme)
		}
		if err := logger.InitializeWithLevel(jsonOutput, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.OidCmd)
	rootCmd.AddCommand(commands.SnapshotCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SyncCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
