package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Janitor periodically closes sessions that have gone idle.
type Janitor struct {
	tracker  *Tracker
	idle     time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewJanitor creates an idle-session janitor. Zero durations fall back to
// 30m idle and a 1m sweep interval.
func NewJanitor(tracker *Tracker, idle, interval time.Duration, logger *slog.Logger) *Janitor {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		tracker:  tracker,
		idle:     idle,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (j *Janitor) Running() bool {
	return j.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (j *Janitor) Start(ctx context.Context) {
	j.running.Store(true)
	defer j.running.Store(false)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			j.safeSweep(ctx)
		}
	}
}

// Stop signals the janitor to stop.
func (j *Janitor) Stop() {
	select {
	case j.stop <- struct{}{}:
	default:
	}
}

func (j *Janitor) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("panic in session janitor", "panic", fmt.Sprint(r))
		}
	}()
	if n := j.tracker.Sweep(ctx, j.idle); n > 0 {
		j.logger.Info("closed idle sessions", "count", n, "idle", j.idle, "remaining", j.tracker.Len())
	}
}
