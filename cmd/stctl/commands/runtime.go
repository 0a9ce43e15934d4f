package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/statetree/am"
	"github.com/teranos/statetree/db"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/pulse"
	"github.com/teranos/statetree/st"
)

// stopTimeout bounds how long shutdown waits for queued events.
const stopTimeout = 10 * time.Second

// tree is a root document together with the pool delivering its events.
type tree struct {
	root *st.Document
	pool *pulse.Pool
}

// openTree builds an empty tree rooted at the configured namespace.
func openTree(cfg *am.Config) (*tree, error) {
	rootOID, err := cfg.Root()
	if err != nil {
		return nil, errors.Wrap(err, "invalid tree.namespace")
	}
	retention, err := cfg.RetentionPolicy()
	if err != nil {
		return nil, errors.Wrap(err, "invalid tree.retention")
	}

	pool := pulse.NewPool(cfg.PoolConfig(), logger.ComponentLogger("pulse"))
	pool.Start()

	root, err := st.NewRoot(rootOID, &st.Context{
		Pool:      pool,
		Logger:    logger.ComponentLogger("st"),
		Retention: retention,
	})
	if err != nil {
		_ = pool.Stop(context.Background())
		return nil, err
	}
	return &tree{root: root, pool: pool}, nil
}

// Close waits for queued events and stops the pool.
func (t *tree) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return t.pool.Stop(ctx)
}

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it uses the configured database.path.
func openDatabase(cfg *am.Config, dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}
	database, err := db.OpenWithMigrations(dbPath, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// openStore opens the snapshot store. The caller closes the returned DB.
func openStore(cfg *am.Config, dbPath string) (*sql.DB, *db.SnapshotStore, error) {
	database, err := openDatabase(cfg, dbPath)
	if err != nil {
		return nil, nil, err
	}
	return database, db.NewSnapshotStore(database, nil, logger.ComponentLogger("db")), nil
}

// restoreTree merges the stored snapshot into t. A missing snapshot leaves
// the tree empty.
func restoreTree(ctx context.Context, store *db.SnapshotStore, name string, t *tree) (bool, error) {
	err := store.Restore(ctx, name, t.root)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to restore snapshot %s", name)
	}
	return true, nil
}

// loadConfig loads and validates configuration.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// snapshotName defaults to the tree namespace.
func snapshotName(cfg *am.Config, flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.Tree.Namespace
}
