package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry holds the active and recently finished send sessions and
// reaps finished ones after the retention period.
type Registry struct {
	retention time.Duration
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	wg   sync.WaitGroup
	done chan struct{}
}

func NewRegistry(retention time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		retention: retention,
		logger:    logger.With("component", "dispatch"),
		sessions:  make(map[string]*Session),
		done:      make(chan struct{}),
	}
}

// Start launches the retention reaper.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reapLoop(ctx)
	r.logger.Info("session registry started", "retention", r.retention)
}

// Stop stops the reaper and waits for it to finish.
func (r *Registry) Stop() {
	close(r.done)
	r.wg.Wait()
	r.logger.Info("session registry stopped")
}

// Get returns the session for a batch, or nil.
func (r *Registry) Get(batchID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[batchID]
}

// Acquire stores the session unless a live one is already registered
// for the batch, in which case the live resident and false are
// returned. A finished resident is evicted. The in-progress test and
// the store happen under one lock so two concurrent starts can never
// both win.
func (r *Registry) Acquire(s *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.BatchID]; ok && existing.Snapshot().InProgress {
		return existing, false
	}
	r.sessions[s.BatchID] = s
	return s, true
}

func (r *Registry) reapLoop(ctx context.Context) {
	defer r.wg.Done()

	interval := r.retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.reap(time.Now())
		}
	}
}

func (r *Registry) reap(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for batchID, s := range r.sessions {
		if s.expired(r.retention, now) {
			delete(r.sessions, batchID)
			r.logger.Debug("session reaped", "batch_id", batchID)
		}
	}
}
