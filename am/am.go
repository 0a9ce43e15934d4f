// Package am loads and persists the state tree's configuration.
//
// Settings are read with viper from TOML files and STATETREE_* environment
// variables. Precedence, lowest to highest: built-in defaults, system file,
// user file, project file, environment.
package am

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/oid"
	"github.com/teranos/statetree/pulse"
	"github.com/teranos/statetree/st"
)

// Config represents the statetree configuration
type Config struct {
	Tree     TreeConfig     `mapstructure:"tree" toml:"tree"`
	Events   EventsConfig   `mapstructure:"events" toml:"events"`
	Sync     SyncConfig     `mapstructure:"sync" toml:"sync"`
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

// TreeConfig configures the root of the served tree
type TreeConfig struct {
	Namespace string `mapstructure:"namespace" toml:"namespace"`   // e.g. "org.s7s.instance"
	OIDSyntax string `mapstructure:"oid_syntax" toml:"oid_syntax"` // selector syntax for text OIDs (default: v1)
	Retention string `mapstructure:"retention" toml:"retention"`   // none, unlimited, items:N, time:DURATION
}

// EventsConfig configures the event delivery pool
type EventsConfig struct {
	Workers            int `mapstructure:"workers" toml:"workers"`
	QueueWarnThreshold int `mapstructure:"queue_warn_threshold" toml:"queue_warn_threshold"` // 0 disables the backlog warning
}

// SyncConfig configures peer-to-peer tree sync
type SyncConfig struct {
	Name              string            `mapstructure:"name" toml:"name"`                         // advertised to peers in hello (e.g., "laptop")
	IntervalSeconds   int               `mapstructure:"interval_seconds" toml:"interval_seconds"` // 0 = manual only
	Peers             map[string]string `mapstructure:"peers" toml:"peers"`                       // name = "url" (e.g., agent = "http://agent.local:8787")
	ListenAddr        string            `mapstructure:"listen_addr" toml:"listen_addr"`
	Codec             string            `mapstructure:"codec" toml:"codec"`
	Compress          bool              `mapstructure:"compress" toml:"compress"`
	SessionsPerMinute int               `mapstructure:"sessions_per_minute" toml:"sessions_per_minute"` // 0 = unlimited
}

// DatabaseConfig configures the SQLite snapshot store
type DatabaseConfig struct {
	Path       string `mapstructure:"path" toml:"path"`
	AutosaveMS int    `mapstructure:"autosave_ms" toml:"autosave_ms"` // 0 disables autosave
}

// LogConfig configures logging
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json"`
	Level string `mapstructure:"level" toml:"level"` // debug, info, warn, error
	Theme string `mapstructure:"theme" toml:"theme"` // everforest, gruvbox
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// Root returns the OID of the tree root.
func (c *Config) Root() (oid.OID, error) {
	return oid.Root(c.Tree.Namespace)
}

// RetentionPolicy parses tree.retention.
func (c *Config) RetentionPolicy() (st.RetentionPolicy, error) {
	return st.ParseRetention(c.Tree.Retention)
}

// PoolConfig returns the event pool settings.
func (c *Config) PoolConfig() pulse.PoolConfig {
	return pulse.PoolConfig{
		Workers:            c.Events.Workers,
		QueueWarnThreshold: c.Events.QueueWarnThreshold,
	}
}

// SyncInterval returns sync.interval_seconds as a duration; zero means
// scheduled sync is off.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// SyncCodec looks up sync.codec.
func (c *Config) SyncCodec() (codec.Codec, error) {
	return codec.Lookup(c.Sync.Codec)
}

// AutosaveDelay returns database.autosave_ms as a duration.
func (c *Config) AutosaveDelay() time.Duration {
	return time.Duration(c.Database.AutosaveMS) * time.Millisecond
}

// LogLevel parses log.level. An empty level is info.
func (c *Config) LogLevel() (zapcore.Level, error) {
	if c.Log.Level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(c.Log.Level)
}
