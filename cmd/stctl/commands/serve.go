package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/statetree/am"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/logger"
)

// ServeCmd serves a database-backed tree
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Serve a database-backed tree to sync peers and exelet clients",
	Long: `serve — Serve a database-backed tree

The tree is restored from the stored snapshot named after the tree
namespace (or --snapshot), saved back after changes settle, and exposed at:

  /ws/sync   peer-to-peer sync sessions (WebSocket)
  /exelet    request messages (POST, JSON)

Configured peers are synced every sync.interval_seconds and whenever the
local tree changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddrFlag     string
	serveDBPathFlag   string
	serveSnapshotFlag string
	serveTokenFlag    string
)

const shutdownTimeout = 15 * time.Second

func init() {
	ServeCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "Listen address (overrides sync.listen_addr)")
	ServeCmd.Flags().StringVar(&serveDBPathFlag, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().StringVar(&serveSnapshotFlag, "snapshot", "", "Snapshot name (default: tree namespace)")
	ServeCmd.Flags().StringVar(&serveTokenFlag, "token", os.Getenv("STATETREE_EXELET_TOKEN"), "Bearer token authenticating exelet clients")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	if level, err := cfg.LogLevel(); err == nil {
		logger.SetLevel(logger.EffectiveLevel(verbosity, level))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	n, err := newNode(ctx, cfg, nodeOptions{
		DBPath:   serveDBPathFlag,
		Snapshot: serveSnapshotFlag,
		Token:    serveTokenFlag,
	})
	if err != nil {
		return errors.Wrap(err, "failed to start node")
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := n.Close(closeCtx); err != nil {
			pterm.Warning.Printfln("Shutdown: %v", err)
		}
	}()

	stopWatch := watchConfig(n, verbosity)
	defer stopWatch()

	addr := serveAddrFlag
	if addr == "" {
		addr = cfg.Sync.ListenAddr
	}
	srv := &http.Server{Addr: addr, Handler: n.mux, ReadHeaderTimeout: 10 * time.Second}

	n.start(ctx)
	pterm.Info.Printfln("Serving %s as %q on %s (snapshot %s)", cfg.Tree.Namespace, n.name, addr, n.snapshot)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully...")
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown error")
	}
	pterm.Success.Println("Server stopped cleanly")
	return nil
}

// watchConfig reloads the active config file on change. Log theme and level
// apply live; other settings take effect on restart.
func watchConfig(n *node, verbosity int) func() {
	path := am.ActiveConfigFile()
	if path == "" {
		return func() {}
	}
	w, err := am.NewConfigWatcher(path, 0)
	if err != nil {
		n.logger.Warnw("Config watcher unavailable", logger.FieldFile, path, logger.FieldError, err)
		return func() {}
	}
	w.OnReload(func(cfg *am.Config) error {
		logger.SetTheme(cfg.Log.Theme)
		if level, err := cfg.LogLevel(); err == nil {
			logger.SetLevel(logger.EffectiveLevel(verbosity, level))
		}
		n.logger.Infow("Configuration changed, restart to apply tree and sync settings", logger.FieldFile, path)
		return nil
	})
	am.SetGlobalWatcher(w)
	w.Start()
	return func() {
		am.SetGlobalWatcher(nil)
		_ = w.Stop()
	}
}
