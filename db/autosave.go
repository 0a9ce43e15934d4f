package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/st"
)

// AutoSave writes a tree's snapshot to a store after changes settle. Every
// event observed on the tree root restarts the delay.
type AutoSave struct {
	store  *SnapshotStore
	doc    *st.Document
	name   string
	delay  time.Duration
	logger *zap.SugaredLogger

	saveMu sync.Mutex // held while a save is in flight

	mu      sync.Mutex
	timer   *time.Timer
	handle  st.ListenerHandle
	running bool
	last    st.Update
	saves   int

	// OnSave, when set, is called after each save attempt.
	OnSave func(SnapshotInfo, error)
}

// NewAutoSave returns an autosaver for doc under name. Call Start to begin.
func NewAutoSave(store *SnapshotStore, doc *st.Document, name string, delay time.Duration, log *zap.SugaredLogger) *AutoSave {
	if log == nil {
		log = logger.ComponentLogger("db")
	}
	return &AutoSave{
		store:  store,
		doc:    doc,
		name:   name,
		delay:  delay,
		logger: log.With("snapshot", name),
	}
}

// Start registers the root listener.
func (a *AutoSave) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.handle = a.doc.AddListener(st.ListenerFunc(func(st.Event) { a.schedule() }))
	a.logger.Debugw("Autosave started", logger.FieldDurationMS, a.delay.Milliseconds())
}

func (a *AutoSave) schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = a.Flush(ctx)
	})
}

// Flush saves the current snapshot now and cancels any pending save.
func (a *AutoSave) Flush(ctx context.Context) (SnapshotInfo, error) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	last := a.last
	a.mu.Unlock()

	u, err := a.doc.Snapshot()
	if err != nil {
		return SnapshotInfo{}, err
	}
	patch := st.Diff(last, u)

	info, err := a.store.Save(ctx, a.name, u)
	if err != nil {
		if IsDatabaseClosed(err) {
			a.logger.Debugw("Autosave skipped, database closed")
		} else {
			a.logger.Errorw("Autosave failed", logger.FieldError, err)
		}
	} else {
		a.mu.Lock()
		a.last = u
		a.saves++
		a.mu.Unlock()
		a.logger.Infow("Autosaved tree",
			logger.FieldCount, info.Entries,
			"changed", len(patch.Changed),
			"removed", len(patch.Removed),
			logger.FieldSize, info.Size,
		)
	}
	if a.OnSave != nil {
		a.OnSave(info, err)
	}
	return info, err
}

// Saves reports how many snapshots were written.
func (a *AutoSave) Saves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

// Stop removes the listener and writes a final snapshot when one was
// pending.
func (a *AutoSave) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.doc.RemoveListener(a.handle)
	// a timer that already fired but has not reached Flush still counts
	pending := a.timer != nil
	if pending {
		a.timer.Stop()
	}
	a.timer = nil
	a.mu.Unlock()

	if !pending {
		// wait out a save already in flight
		a.saveMu.Lock()
		a.saveMu.Unlock()
		return nil
	}
	_, err := a.Flush(ctx)
	return err
}
