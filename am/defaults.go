package am

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/teranos/statetree/oid"
)

// Default values
const (
	DefaultNamespace    = "org.s7s.instance"
	DefaultDatabasePath = "statetree.db"
	DefaultListenAddr   = ":8787"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tree.namespace", DefaultNamespace)
	v.SetDefault("tree.oid_syntax", oid.SyntaxV1.Name)
	v.SetDefault("tree.retention", "none")

	v.SetDefault("events.workers", 4)
	v.SetDefault("events.queue_warn_threshold", 10000)

	v.SetDefault("sync.interval_seconds", 0) // manual only
	v.SetDefault("sync.listen_addr", DefaultListenAddr)
	v.SetDefault("sync.codec", "cbor")
	v.SetDefault("sync.compress", true)
	v.SetDefault("sync.sessions_per_minute", 60)

	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.autosave_ms", 2000)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.theme", "everforest")
}

// BindEnvVars explicitly binds settings that are commonly overridden per
// process, so they resolve even before a file mentions them.
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "STATETREE_DATABASE_PATH")
	v.BindEnv("sync.name", "STATETREE_SYNC_NAME")
	v.BindEnv("sync.listen_addr", "STATETREE_SYNC_LISTEN_ADDR")
	v.BindEnv("log.level", "STATETREE_LOG_LEVEL")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Tree: %s, Database: %s, Sync: {Peers: %d, Interval: %ds}, Events: {Workers: %d}}",
		c.Tree.Namespace, c.Database.Path, len(c.Sync.Peers), c.Sync.IntervalSeconds, c.Events.Workers)
}
