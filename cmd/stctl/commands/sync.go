package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/st"
	stsync "github.com/teranos/statetree/sync"
)

// SyncCmd reconciles the stored tree with one peer
var SyncCmd = &cobra.Command{
	Use:   "sync <peer-url>",
	Short: "Reconcile the stored tree with a peer once",
	Long: `sync — Reconcile the stored tree with a peer once

Restores the stored snapshot, runs one sync session against the peer and
saves the merged tree back. With -vvv the received changes are printed.

Examples:
  stctl sync http://agent.local:8787
  stctl sync https://hub.example.org --snapshot laptop`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var (
	syncDBPathFlag   string
	syncSnapshotFlag string
	syncTimeoutFlag  time.Duration
)

func init() {
	SyncCmd.Flags().StringVar(&syncDBPathFlag, "db-path", "", "Custom database path (overrides config)")
	SyncCmd.Flags().StringVar(&syncSnapshotFlag, "snapshot", "", "Snapshot name (default: tree namespace)")
	SyncCmd.Flags().DurationVar(&syncTimeoutFlag, "timeout", 30*time.Second, "Session timeout")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := syncOptions(cfg)
	if err != nil {
		return err
	}

	database, store, err := openStore(cfg, syncDBPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	t, err := openTree(cfg)
	if err != nil {
		return err
	}
	defer t.Close()

	name := snapshotName(cfg, syncSnapshotFlag)
	if _, err := restoreTree(cmd.Context(), store, name, t); err != nil {
		return err
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	var before st.Update
	if logger.ShouldLogTrace(verbosity) {
		if before, err = t.root.Snapshot(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeoutFlag)
	defer cancel()

	conn, err := stsync.Dial(ctx, args[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	peer := stsync.NewPeer(conn, t.root, opts, logger.ChildLogger(logger.ComponentLogger("sync"), logger.FieldPeer, args[0]))
	sent, received, err := peer.Reconcile(ctx)
	if err != nil {
		return errors.Wrapf(err, "sync with %s", args[0])
	}

	out := cmd.OutOrStdout()
	if received > 0 {
		snap, err := t.root.Snapshot()
		if err != nil {
			return err
		}
		if _, err := store.Save(cmd.Context(), name, snap); err != nil {
			return errors.Wrapf(err, "failed to save snapshot %s", name)
		}
		if logger.ShouldLogTrace(verbosity) {
			if err := printUpdate(cmd, st.Diff(before, snap)); err != nil {
				return err
			}
		}
	}
	if rejected := peer.Rejected(); rejected > 0 {
		pterm.Warning.WithWriter(out).Printfln("%d entries from %s were rejected", rejected, peer.RemoteName)
	}
	pterm.Success.WithWriter(out).Printfln("Synced with %s: sent %d, received %d", peer.RemoteName, sent, received)
	return nil
}
