package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultRefreshInterval is how often the background refresher wakes up.
const DefaultRefreshInterval = 60 * time.Second

// Refresher proactively refreshes soon-to-expire tokens on a fixed
// interval, independent of request traffic. It runs the exact same
// refresh-and-fallback path as request-driven callers and recovers every
// failure locally — nothing it encounters is fatal to the process.
type Refresher struct {
	manager  *Manager
	interval time.Duration
	log      *slog.Logger

	running  atomic.Bool
	lastTick atomic.Int64 // unix nanos of the last completed tick
}

// NewRefresher creates a Refresher ticking at the given interval.
func NewRefresher(m *Manager, interval time.Duration, log *slog.Logger) (*Refresher, error) {
	if m == nil {
		return nil, fmt.Errorf("missing manager")
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		manager:  m,
		interval: interval,
		log:      log,
	}, nil
}

// Run blocks until ctx is cancelled, ticking immediately and then on every
// interval. Always returns nil: cancellation is the only way out and is not
// an error.
func (r *Refresher) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)

	r.log.Info("background refresher started", "interval", r.interval)

	// First tick right away so a freshly started process catches up before
	// request traffic arrives.
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("background refresher stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick runs one proactive pass. Failures are logged and kept for the
// diagnostic surface; the loop retries on the next tick.
func (r *Refresher) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	results := r.manager.RefreshDue(ctx)
	for key, err := range results {
		if err != nil {
			r.log.Warn("proactive refresh failed", "key", key, "error", err)
		}
	}
	if len(results) > 0 {
		r.log.Debug("proactive refresh pass complete", "refreshed", len(results))
	}

	r.lastTick.Store(time.Now().UnixNano())
}

// Alive reports whether the loop is running and has completed a tick
// recently. A started-but-wedged loop reads as not alive.
func (r *Refresher) Alive() bool {
	if !r.running.Load() {
		return false
	}
	last := r.lastTick.Load()
	if last == 0 {
		// Started, first tick still in progress.
		return true
	}
	return time.Since(time.Unix(0, last)) <= 2*r.interval
}

// Interval returns the configured tick interval.
func (r *Refresher) Interval() time.Duration {
	return r.interval
}
