// Package session hosts many risk engines, one per game session.
//
// The tracker partitions engines by session id: each session is guarded by
// its own shard of a sharded mutex, so sessions never contend on analysis
// and no analytical state is shared between them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/scoreguard/internal/idgen"
	"github.com/mbd888/scoreguard/internal/logging"
	"github.com/mbd888/scoreguard/internal/metrics"
	"github.com/mbd888/scoreguard/internal/risk"
	"github.com/mbd888/scoreguard/internal/syncutil"
	"github.com/mbd888/scoreguard/internal/traces"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// BlockFunc is called once when a session's block decision flips to true.
// It runs after the session lock is released.
type BlockFunc func(sessionID string, report risk.Report)

// CloseFunc is called after a session is closed, with the reason ("closed"
// or "idle") and its final report.
type CloseFunc func(sessionID, reason string, report risk.Report)

type entry struct {
	engine     *risk.Engine
	openedAt   time.Time
	lastActive time.Time
	closed     bool

	// engine counters already folded into metrics
	rejected int
	clamped  int
}

// Tracker owns the engines of all live sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	locks    *syncutil.ShardedMutex

	clock      risk.Clock
	thresholds risk.Thresholds
	logger     *slog.Logger
	onBlock    BlockFunc
	onClose    CloseFunc
}

// Option configures the tracker
type Option func(*Tracker)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithClock sets the clock shared by every engine the tracker creates.
func WithClock(clock risk.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithThresholds sets the heuristic thresholds for new sessions.
func WithThresholds(th risk.Thresholds) Option {
	return func(t *Tracker) { t.thresholds = th }
}

// WithOnBlock registers a callback for block transitions.
func WithOnBlock(fn BlockFunc) Option {
	return func(t *Tracker) { t.onBlock = fn }
}

// WithOnClose registers a callback for closed sessions, including those
// closed by Sweep.
func WithOnClose(fn CloseFunc) Option {
	return func(t *Tracker) { t.onClose = fn }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		sessions:   make(map[string]*entry),
		locks:      syncutil.NewShardedMutex(0),
		clock:      risk.SystemClock{},
		thresholds: risk.DefaultThresholds(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open starts tracking a session. An empty id gets a generated one, which is
// returned.
func (t *Tracker) Open(ctx context.Context, sessionID string, firstSession bool) (string, error) {
	if sessionID == "" {
		sessionID = idgen.Session()
	}

	now := t.clock.Now()
	e := &entry{
		engine: risk.NewEngine(t.clock).
			WithThresholds(t.thresholds).
			WithFirstSession(firstSession),
		openedAt:   now,
		lastActive: now,
	}

	t.mu.Lock()
	if _, ok := t.sessions[sessionID]; ok {
		t.mu.Unlock()
		return "", fmt.Errorf("open %s: %w", sessionID, ErrSessionExists)
	}
	t.sessions[sessionID] = e
	t.mu.Unlock()

	metrics.SessionsOpenedTotal.Inc()
	metrics.ActiveSessions.Inc()
	t.loggerFor(ctx, sessionID).Info("session opened", "first_session", firstSession)
	return sessionID, nil
}

// Observe feeds one observation into the session's engine and returns the
// fresh report.
func (t *Tracker) Observe(ctx context.Context, sessionID string, score float64, level int, elapsed float64) (risk.Report, error) {
	ctx, span := traces.StartSpan(ctx, "session.observe", traces.SessionID(sessionID))
	defer span.End()

	var (
		report     risk.Report
		newlyBlock bool
	)
	err := t.withSession(ctx, sessionID, func(e *entry) {
		wasBlocked := e.engine.ShouldBlock()

		start := time.Now()
		e.engine.RecordObservation(score, level, elapsed)
		metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

		report = e.engine.Report()
		e.lastActive = t.clock.Now()
		t.recordOutcome(e, report)
		newlyBlock = !wasBlocked && report.Blocked
	})
	if err != nil {
		span.RecordError(err)
		return risk.Report{}, err
	}

	span.SetAttributes(
		traces.RiskLevel(report.RiskLevel.String()),
		traces.Blocked(report.Blocked),
		traces.FlagCount(len(report.ActiveFlags)),
	)

	logger := t.loggerFor(ctx, sessionID)
	for _, f := range report.ActiveFlags {
		logger.Debug("flag raised", "kind", f.Kind.String(), "level", f.RiskLevel.String(), "message", f.Message)
	}
	if newlyBlock {
		metrics.SessionsBlockedTotal.Inc()
		logger.Warn("session blocked",
			"risk_level", report.RiskLevel.String(),
			"flags", flagKinds(report.ActiveFlags),
			"observations", report.TotalObservations,
		)
		if t.onBlock != nil {
			t.onBlock(sessionID, report)
		}
	}

	return report, nil
}

// recordOutcome folds the engine's input counters into metrics. Caller holds the session lock.
func (t *Tracker) recordOutcome(e *entry, r risk.Report) {
	switch {
	case r.RejectedObservations > e.rejected:
		metrics.ObservationsTotal.WithLabelValues("rejected").Inc()
	case r.ClampedObservations > e.clamped:
		metrics.ObservationsTotal.WithLabelValues("clamped").Inc()
	default:
		metrics.ObservationsTotal.WithLabelValues("accepted").Inc()
	}
	e.rejected = r.RejectedObservations
	e.clamped = r.ClampedObservations

	for _, f := range r.ActiveFlags {
		metrics.FlagsRaisedTotal.WithLabelValues(f.Kind.String(), f.RiskLevel.String()).Inc()
	}
}

// Report returns the session's current report.
func (t *Tracker) Report(ctx context.Context, sessionID string) (risk.Report, error) {
	var report risk.Report
	err := t.withSession(ctx, sessionID, func(e *entry) {
		report = e.engine.Report()
	})
	return report, err
}

// ShouldBlock returns the session's block decision.
func (t *Tracker) ShouldBlock(ctx context.Context, sessionID string) (bool, error) {
	var blocked bool
	err := t.withSession(ctx, sessionID, func(e *entry) {
		blocked = e.engine.ShouldBlock()
	})
	return blocked, err
}

// Reset starts a new game on an existing session.
func (t *Tracker) Reset(ctx context.Context, sessionID string) error {
	err := t.withSession(ctx, sessionID, func(e *entry) {
		e.engine.Reset()
		e.rejected, e.clamped = 0, 0
		e.lastActive = t.clock.Now()
	})
	if err == nil {
		t.loggerFor(ctx, sessionID).Info("session reset")
	}
	return err
}

// MarkNotFirstSession disables the first-try heuristic for the session.
func (t *Tracker) MarkNotFirstSession(ctx context.Context, sessionID string) error {
	return t.withSession(ctx, sessionID, func(e *entry) {
		e.engine.MarkNotFirstSession()
	})
}

// Close stops tracking a session and returns its final report.
func (t *Tracker) Close(ctx context.Context, sessionID string) (risk.Report, error) {
	return t.close(ctx, sessionID, "closed", nil)
}

// Sweep closes sessions with no activity for longer than idle and returns
// how many were closed.
func (t *Tracker) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := t.clock.Now().Add(-idle)
	closed := 0
	for _, id := range t.IDs() {
		_, err := t.close(ctx, id, "idle", func(e *entry) bool {
			return e.lastActive.Before(cutoff)
		})
		if err == nil {
			closed++
		}
	}
	return closed
}

var errSessionKept = errors.New("session kept")

// close removes a session if cond (when given) holds under the session lock.
func (t *Tracker) close(ctx context.Context, sessionID, reason string, cond func(*entry) bool) (risk.Report, error) {
	var (
		report  risk.Report
		removed bool
	)
	err := t.withSession(ctx, sessionID, func(e *entry) {
		if cond != nil && !cond(e) {
			return
		}
		report = e.engine.Report()
		e.closed = true
		removed = true

		t.mu.Lock()
		delete(t.sessions, sessionID)
		t.mu.Unlock()
	})
	if err != nil {
		return risk.Report{}, err
	}
	if !removed {
		return risk.Report{}, errSessionKept
	}

	metrics.SessionsClosedTotal.WithLabelValues(reason).Inc()
	metrics.ActiveSessions.Dec()
	t.loggerFor(ctx, sessionID).Info("session closed",
		"reason", reason,
		"risk_level", report.RiskLevel.String(),
		"blocked", report.Blocked,
		"observations", report.TotalObservations,
	)
	if t.onClose != nil {
		t.onClose(sessionID, reason, report)
	}
	return report, nil
}

// Has reports whether the session is tracked.
func (t *Tracker) Has(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID]
	return ok
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// IDs returns the tracked session ids in sorted order.
func (t *Tracker) IDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// withSession runs fn while holding the session's lock.
func (t *Tracker) withSession(ctx context.Context, sessionID string, fn func(*entry)) error {
	t.mu.RLock()
	e, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}

	unlock, err := t.locks.LockContext(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lock %s: %w", sessionID, err)
	}
	defer unlock()

	// Closed while we waited for the lock.
	if e.closed {
		return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	fn(e)
	return nil
}

func (t *Tracker) loggerFor(ctx context.Context, sessionID string) *slog.Logger {
	return logging.L(logging.WithSessionID(logging.WithLogger(ctx, t.logger), sessionID))
}

func flagKinds(flags []risk.Flag) []string {
	kinds := make([]string, len(flags))
	for i, f := range flags {
		kinds[i] = f.Kind.String()
	}
	return kinds
}
