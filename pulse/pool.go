// Package pulse delivers state-tree events off the mutating goroutine.
//
// A Pool is shared by every tree in the process. Tasks are submitted under a
// key (one key per event bus). Tasks with the same key run one at a time in
// submission order; tasks with different keys run concurrently on the
// pool's workers. Submit never blocks.
package pulse

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/statetree/logger"
)

// Task is one unit of delivery work.
type Task func()

// pulseLogger wraps zap.SugaredLogger with lifecycle helpers.
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// PoolConfig contains configuration for the event pool
type PoolConfig struct {
	Workers            int `json:"workers" mapstructure:"workers"`                           // Number of delivery goroutines
	QueueWarnThreshold int `json:"queue_warn_threshold" mapstructure:"queue_warn_threshold"` // Pending tasks before a backlog warning (0 disables)
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:            4,
		QueueWarnThreshold: 10000,
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int    `json:"workers"`
	Pending   int    `json:"pending"`
	Keys      int    `json:"keys"`
	Processed uint64 `json:"processed"`
	Panics    uint64 `json:"panics"`
}

// keyQueue holds the pending tasks of one key. A queue is in the ready list
// or held by exactly one worker while scheduled is true.
type keyQueue struct {
	key       any
	tasks     []Task
	scheduled bool
}

// Pool runs tasks on a fixed set of workers with per-key FIFO ordering.
type Pool struct {
	cfg    PoolConfig
	logger pulseLogger

	mu        sync.Mutex
	cond      *sync.Cond // workers wait for ready queues
	drained   *sync.Cond // Drain waits for pending == 0
	queues    map[any]*keyQueue
	ready     []*keyQueue
	pending   int
	processed uint64
	panics    uint64
	started   bool
	closed    bool
	warnedAt  time.Time

	wg sync.WaitGroup
}

// NewPool creates a pool. Workers are not running until Start is called;
// tasks submitted before that are queued.
func NewPool(cfg PoolConfig, log *zap.SugaredLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	if log == nil {
		log = logger.ComponentLogger("pulse")
	}

	p := &Pool{
		cfg:    cfg,
		logger: pulseLogger{log},
		queues: make(map[any]*keyQueue),
	}
	p.cond = sync.NewCond(&p.mu)
	p.drained = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	p.logger.Starting("Event pool starting", logger.FieldCount, p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues task behind earlier tasks of the same key. It returns false
// if the pool has been stopped.
func (p *Pool) Submit(key any, task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	q, ok := p.queues[key]
	if !ok {
		q = &keyQueue{key: key}
		p.queues[key] = q
	}
	q.tasks = append(q.tasks, task)
	p.pending++

	if !q.scheduled {
		q.scheduled = true
		p.ready = append(p.ready, q)
		p.cond.Signal()
	}

	if p.cfg.QueueWarnThreshold > 0 && p.pending > p.cfg.QueueWarnThreshold &&
		time.Since(p.warnedAt) > time.Minute {
		p.warnedAt = time.Now()
		p.logger.Warnw("Event backlog above threshold",
			"pending", p.pending,
			"threshold", p.cfg.QueueWarnThreshold,
			"keys", len(p.queues))
	}
	return true
}

// worker takes one task at a time from the ready list. A key's queue is put
// back at the end of the ready list after each task so busy keys cannot
// starve the others.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.ready) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.ready) == 0 {
			p.mu.Unlock()
			return
		}

		q := p.ready[0]
		p.ready[0] = nil
		p.ready = p.ready[1:]
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		p.mu.Unlock()

		panicked := p.run(id, q.key, task)

		p.mu.Lock()
		p.pending--
		p.processed++
		if panicked {
			p.panics++
		}
		if len(q.tasks) > 0 {
			p.ready = append(p.ready, q)
			p.cond.Signal()
		} else {
			q.scheduled = false
			delete(p.queues, q.key)
		}
		if p.pending == 0 {
			p.drained.Broadcast()
		}
		p.mu.Unlock()
	}
}

// run executes task, isolating the worker from a panicking listener.
func (p *Pool) run(id int, key any, task Task) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			p.logger.Errorw("Event task panicked",
				"worker_id", id,
				"key", fmt.Sprintf("%v", key),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	task()
	return false
}

// Drain blocks until every submitted task has run or ctx is done.
func (p *Pool) Drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.drained.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.drained.Wait()
	}
	return nil
}

// Stop refuses new tasks, lets the workers finish what is queued and waits
// for them until ctx is done.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	pending := p.pending
	p.cond.Broadcast()
	p.mu.Unlock()

	if !started {
		if pending > 0 {
			p.logger.Closing("Event pool stopped before start, dropping tasks", "pending", pending)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Pulse("❀ Event pool stopped - all workers exited cleanly")
		return nil
	case <-ctx.Done():
		p.logger.Closing("Event pool stop timed out, workers still delivering", "pending", p.Stats().Pending)
		return ctx.Err()
	}
}

// Stats reports the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Workers:   p.cfg.Workers,
		Pending:   p.pending,
		Keys:      len(p.queues),
		Processed: p.processed,
		Panics:    p.panics,
	}
}
