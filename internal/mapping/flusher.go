package mapping

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/gridmap/internal/monitoring"
	"github.com/banshee-data/gridmap/internal/timeutil"
)

// Persister is implemented by types that can persist their state to a
// SnapshotStore. MapManager implements this interface.
type Persister interface {
	Persist(store SnapshotStore, reason string) error
}

// Flusher periodically persists a map to the database. It provides
// context-aware lifecycle management around MapManager.Persist.
type Flusher struct {
	manager  Persister
	store    SnapshotStore
	interval time.Duration
	reason   string
	clock    timeutil.Clock
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// FlusherConfig contains configuration for Flusher.
type FlusherConfig struct {
	// Manager is the Persister to flush (typically a MapManager)
	Manager Persister
	// Store is the database store for persistence
	Store SnapshotStore
	// Interval is how often to flush (e.g., 60*time.Second)
	Interval time.Duration
	// Reason is the reason string to use for periodic flushes
	Reason string
	// Clock is optional; if nil, uses the real clock
	Clock timeutil.Clock
}

// NewFlusher creates a new Flusher.
func NewFlusher(cfg FlusherConfig) *Flusher {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	reason := cfg.Reason
	if reason == "" {
		reason = "periodic_flush"
	}
	return &Flusher{
		manager:  cfg.Manager,
		store:    cfg.Store,
		interval: cfg.Interval,
		reason:   reason,
		clock:    clock,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run starts the periodic flushing loop. It blocks until the context is
// cancelled or Stop() is called. Returns nil on clean shutdown.
func (f *Flusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil // already running
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	if f.interval <= 0 {
		monitoring.Logf("[Flusher] interval is zero or negative, not starting")
		return nil
	}

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	monitoring.Logf("[Flusher] started: interval=%v", f.interval)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[Flusher] stopping due to context cancellation")
			f.flushFinal()
			return nil
		case <-f.stopCh:
			monitoring.Logf("[Flusher] stopping due to Stop() call")
			f.flushFinal()
			return nil
		case <-ticker.C():
			f.flush()
		}
	}
}

// Stop requests the flusher to stop and waits for the final flush. It is
// safe to call multiple times.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
		// already closed
	default:
		close(f.stopCh)
	}
	f.mu.Unlock()

	<-f.doneCh
}

// IsRunning returns whether the flusher is currently running.
func (f *Flusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// flush performs a single flush operation.
func (f *Flusher) flush() {
	if f.manager == nil || f.store == nil {
		return
	}
	if err := f.manager.Persist(f.store, f.reason); err != nil {
		monitoring.Logf("[Flusher] error flushing: %v", err)
	}
}

// flushFinal performs a final flush before shutdown.
func (f *Flusher) flushFinal() {
	if f.manager == nil || f.store == nil {
		return
	}
	if err := f.manager.Persist(f.store, "final_flush"); err != nil {
		monitoring.Logf("[Flusher] error during final flush: %v", err)
	}
}

// FlushNow triggers an immediate flush outside the regular interval.
func (f *Flusher) FlushNow() {
	f.flush()
}
