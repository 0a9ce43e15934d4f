package st

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/pulse"
)

// Context carries the process-level collaborators of a tree. It is handed to
// NewRoot and shared by every node of that tree; several trees may share one
// Context. The owner of the Context owns the lifecycle of its Pool.
type Context struct {
	// Pool delivers events. With a nil Pool listeners are accepted but
	// events are dropped.
	Pool *pulse.Pool

	// Logger defaults to the "st" component logger.
	Logger *zap.SugaredLogger

	// Clock defaults to time.Now. Timestamps are unix milliseconds.
	Clock func() time.Time

	// Retention is applied to attributes when they are created.
	Retention RetentionPolicy

	once sync.Once
	log  *zap.SugaredLogger
	warn sync.Once
}

func (c *Context) logger() *zap.SugaredLogger {
	c.once.Do(func() {
		c.log = c.Logger
		if c.log == nil {
			c.log = logger.ComponentLogger("st")
		}
	})
	return c.log
}

func (c *Context) now() int64 {
	if c.Clock != nil {
		return c.Clock().UnixMilli()
	}
	return time.Now().UnixMilli()
}

// submit hands a delivery task to the pool under key.
func (c *Context) submit(key any, task pulse.Task) {
	if c.Pool == nil {
		c.warn.Do(func() {
			c.logger().Warnw("No event pool configured, dropping state events")
		})
		return
	}
	if !c.Pool.Submit(key, task) {
		c.logger().Debugw("Event pool stopped, dropping state event")
	}
}
