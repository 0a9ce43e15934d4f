package commands

import (
	"context"
	"database/sql"
	"net/http"
	"os"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/teranos/statetree/am"
	"github.com/teranos/statetree/db"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/exelet"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/st"
	stsync "github.com/teranos/statetree/sync"
	"github.com/teranos/statetree/version"
)

// node is a served tree: restored from the database, autosaved back to it
// and exposed to sync peers and exelet clients over HTTP.
type node struct {
	cfg      *am.Config
	name     string
	snapshot string
	tree     *tree
	database *sql.DB
	store    *db.SnapshotStore
	autosave *db.AutoSave
	registry *exelet.Registry
	sched    *stsync.Scheduler
	unwatch  func()
	mux      *http.ServeMux
	logger   *zap.SugaredLogger
}

// nodeOptions are the per-process settings of a node.
type nodeOptions struct {
	DBPath   string
	Snapshot string
	Token    string
}

// syncOptions derives session options from configuration. An unset name
// falls back to the hostname.
func syncOptions(cfg *am.Config) (stsync.Options, error) {
	c, err := cfg.SyncCodec()
	if err != nil {
		return stsync.Options{}, err
	}
	name := cfg.Sync.Name
	if name == "" {
		name, _ = os.Hostname()
	}
	return stsync.Options{Name: name, Codec: c, Compress: cfg.Sync.Compress}, nil
}

// newNode opens the database, restores the tree and wires every component.
// Nothing runs until start.
func newNode(ctx context.Context, cfg *am.Config, opts nodeOptions) (_ *node, err error) {
	n := &node{
		cfg:      cfg,
		snapshot: snapshotName(cfg, opts.Snapshot),
		mux:      http.NewServeMux(),
		logger:   logger.ComponentLogger("serve"),
	}
	defer func() {
		if err != nil {
			_ = n.Close(ctx)
		}
	}()

	syncOpts, err := syncOptions(cfg)
	if err != nil {
		return nil, err
	}
	n.name = syncOpts.Name

	if n.database, n.store, err = openStore(cfg, opts.DBPath); err != nil {
		return nil, err
	}
	if n.tree, err = openTree(cfg); err != nil {
		return nil, err
	}
	restored, err := restoreTree(ctx, n.store, n.snapshot, n.tree)
	if err != nil {
		return nil, err
	}
	if !restored {
		n.logger.Infow("No stored snapshot, starting with an empty tree", logger.FieldSnapshot, n.snapshot)
	}

	if delay := cfg.AutosaveDelay(); delay > 0 {
		n.autosave = db.NewAutoSave(n.store, n.tree.root, n.snapshot, delay, logger.ComponentLogger("autosave"))
	}

	n.registry = exelet.NewRegistry(version.Get().Version, logger.ComponentLogger("exelet"))
	if err := exelet.RegisterStateHandlers(n.registry, n.tree.root, syncOpts.Codec); err != nil {
		return nil, err
	}

	handler := stsync.NewHandler(n.tree.root, syncOpts, cfg.Sync.SessionsPerMinute, logger.ComponentLogger("sync"))
	handler.OnSession = func(res stsync.Result) {
		if res.Err == nil && (res.Sent > 0 || res.Received > 0) {
			n.logger.Infow("Peer session applied", logger.FieldPeer, res.Peer, "sent", res.Sent, "received", res.Received)
		}
	}
	n.mux.Handle(stsync.Path, handler)
	n.mux.Handle(exelet.Path, exelet.NewHTTPHandler(n.registry, st.InstanceServer, opts.Token, logger.ComponentLogger("exelet")))

	if interval := cfg.SyncInterval(); interval > 0 && len(cfg.Sync.Peers) > 0 {
		n.sched = stsync.NewScheduler(n.tree.root, cfg.Sync.Peers, interval, syncOpts, nil, logger.ComponentLogger("sync"))
	}
	return n, nil
}

// start begins autosaving and scheduled sync. The scheduler stops with ctx.
func (n *node) start(ctx context.Context) {
	if n.autosave != nil {
		n.autosave.Start()
	}
	if n.sched != nil {
		n.unwatch = n.sched.Watch()
		go n.sched.Run(ctx)
	}
}

// Close flushes pending saves and releases everything newNode opened.
func (n *node) Close(ctx context.Context) error {
	var result *multierror.Error
	if n.unwatch != nil {
		n.unwatch()
	}
	if n.tree != nil {
		// queued change events may still schedule a save
		_ = n.tree.pool.Drain(ctx)
	}
	if n.autosave != nil {
		if err := n.autosave.Stop(ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "final autosave"))
		}
	}
	if n.tree != nil {
		if err := n.tree.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "stop event pool"))
		}
	}
	if n.database != nil {
		if err := n.database.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close database"))
		}
	}
	return result.ErrorOrNil()
}
