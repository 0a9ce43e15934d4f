package am

import (
	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/oid"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := oid.ValidateNamespace(c.Tree.Namespace); err != nil {
		return errors.Wrap(err, "tree.namespace")
	}
	if c.Tree.OIDSyntax != "" {
		if _, ok := oid.LookupSyntax(c.Tree.OIDSyntax); !ok {
			return errors.Newf("tree.oid_syntax %q is not a known syntax", c.Tree.OIDSyntax)
		}
	}
	if _, err := c.RetentionPolicy(); err != nil {
		return errors.Wrap(err, "tree.retention")
	}

	// Events must be delivered by at least one worker
	if c.Events.Workers <= 0 {
		return errors.Newf("events.workers must be > 0, got %d", c.Events.Workers)
	}
	if c.Events.QueueWarnThreshold < 0 {
		return errors.Newf("events.queue_warn_threshold must be >= 0, got %d", c.Events.QueueWarnThreshold)
	}

	// Sync interval: 0 = manual only, negative = invalid
	if c.Sync.IntervalSeconds < 0 {
		return errors.Newf("sync.interval_seconds must be >= 0, got %d", c.Sync.IntervalSeconds)
	}
	if c.Sync.SessionsPerMinute < 0 {
		return errors.Newf("sync.sessions_per_minute must be >= 0, got %d", c.Sync.SessionsPerMinute)
	}
	if _, err := codec.Lookup(c.Sync.Codec); err != nil {
		return errors.Wrap(err, "sync.codec")
	}
	for name, url := range c.Sync.Peers {
		if url == "" {
			return errors.Newf("sync.peers.%s has no url", name)
		}
	}

	if c.Database.AutosaveMS < 0 {
		return errors.Newf("database.autosave_ms must be >= 0, got %d", c.Database.AutosaveMS)
	}
	if _, err := c.LogLevel(); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}
