package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/st"
)

// DialFunc opens a connection to a peer URL.
type DialFunc func(ctx context.Context, peer string) (Conn, error)

// warnInitialAttempts is how many consecutive failures per peer are logged
// individually before warnings drop to once an hour.
const warnInitialAttempts = 5

// sessionTimeout bounds a single scheduled session.
const sessionTimeout = 30 * time.Second

// Peer states reported by Status.
const (
	StatusOK          = "ok"
	StatusUnreachable = "unreachable"
)

// Scheduler syncs a tree with a fixed set of peers on an interval, and
// early when the tree changes locally if Watch is used.
type Scheduler struct {
	doc      *st.Document
	peers    map[string]string // name → URL
	interval time.Duration
	opts     Options
	dial     DialFunc
	logger   *zap.SugaredLogger

	kick chan struct{}

	mu         gosync.Mutex
	status     map[string]string
	failCounts map[string]int
	lastWarned map[string]time.Time
}

// NewScheduler creates a scheduler. A nil dial uses Dial.
func NewScheduler(doc *st.Document, peers map[string]string, interval time.Duration, opts Options, dial DialFunc, log *zap.SugaredLogger) *Scheduler {
	if dial == nil {
		dial = func(ctx context.Context, peer string) (Conn, error) {
			return Dial(ctx, peer)
		}
	}
	if log == nil {
		log = logger.ComponentLogger("sync")
	}
	return &Scheduler{
		doc:        doc,
		peers:      peers,
		interval:   interval,
		opts:       opts,
		dial:       dial,
		logger:     log,
		kick:       make(chan struct{}, 1),
		status:     make(map[string]string),
		failCounts: make(map[string]int),
		lastWarned: make(map[string]time.Time),
	}
}

// Run syncs every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Infow("Sync scheduler started", "interval", s.interval, logger.FieldCount, len(s.peers))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("Sync scheduler stopped")
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		case <-s.kick:
			s.SyncAll(ctx)
		}
	}
}

// Kick requests a sync round as soon as Run is free. Repeated kicks
// collapse into one.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Watch registers a listener on the tree that kicks the scheduler on every
// local attribute change. Call the returned func to stop watching.
func (s *Scheduler) Watch() func() {
	h := s.doc.AddListener(st.ListenerFunc(func(e st.Event) {
		if _, ok := e.(st.AttributeChangedEvent); ok {
			s.Kick()
		}
	}))
	return func() { s.doc.RemoveListener(h) }
}

// SyncAll reconciles with every configured peer once. It emits one summary
// log line when something was transferred or a peer was unreachable.
func (s *Scheduler) SyncAll(ctx context.Context) {
	names := make([]string, 0, len(s.peers))
	for name := range s.peers {
		names = append(names, name)
	}
	sort.Strings(names)

	var synced int
	var transferred, unreachable []string

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		sent, received, err := s.syncOne(ctx, name, s.peers[name])
		if err != nil {
			unreachable = append(unreachable, name)
			s.recordFailure(name, err)
			continue
		}
		s.recordSuccess(name)
		synced++
		if sent > 0 || received > 0 {
			transferred = append(transferred, fmt.Sprintf("%s ↑%d↓%d", name, sent, received))
		}
	}

	if len(transferred) > 0 || len(unreachable) > 0 {
		fields := []interface{}{}
		if synced > 0 {
			fields = append(fields, "synced", synced)
		}
		if len(transferred) > 0 {
			fields = append(fields, "transferred", strings.Join(transferred, ", "))
		}
		if len(unreachable) > 0 {
			fields = append(fields, "unreachable", len(unreachable))
		}
		s.logger.Infow("Sync tick", fields...)
	}
}

func (s *Scheduler) syncOne(ctx context.Context, name, url string) (int, int, error) {
	peerCtx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	conn, err := s.dial(peerCtx, url)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	log := logger.ChildLogger(s.logger, logger.FieldPeer, name)
	return NewPeer(conn, s.doc, s.opts, log).Reconcile(peerCtx)
}

func (s *Scheduler) recordFailure(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failCounts[name]++
	s.status[name] = StatusUnreachable
	if s.failCounts[name] <= warnInitialAttempts || time.Since(s.lastWarned[name]) > time.Hour {
		s.logger.Warnw("Scheduled sync failed",
			logger.FieldPeer, name,
			"url", s.peers[name],
			"consecutive_failures", s.failCounts[name],
			logger.FieldError, err,
		)
		s.lastWarned[name] = time.Now()
	}
}

func (s *Scheduler) recordSuccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCounts[name] = 0
	s.status[name] = StatusOK
}

// Status returns each peer's state after the most recent round. Peers not
// tried yet are absent.
func (s *Scheduler) Status() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}
