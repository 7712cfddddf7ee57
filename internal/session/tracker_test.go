package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/scoreguard/internal/metrics"
	"github.com/mbd888/scoreguard/internal/risk"
)

var t0 = time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

func newTestTracker(t *testing.T, opts ...Option) (*Tracker, *risk.ManualClock) {
	t.Helper()
	clock := risk.NewManualClock(t0)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	opts = append([]Option{WithClock(clock), WithLogger(logger)}, opts...)
	return NewTracker(opts...), clock
}

func TestOpenGeneratesID(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	id, err := tr.Open(ctx, "", true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "sess_"), id)
	assert.Equal(t, 1, tr.Len())

	r, err := tr.Report(ctx, id)
	require.NoError(t, err)
	assert.True(t, r.FirstSession)
	assert.Equal(t, risk.Low, r.RiskLevel)
}

func TestOpenDuplicate(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Open(ctx, "a", true)
	require.NoError(t, err)
	_, err = tr.Open(ctx, "a", false)
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.Equal(t, 1, tr.Len())
}

func TestUnknownSession(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Observe(ctx, "missing", 10, 1, 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = tr.Report(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = tr.ShouldBlock(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, tr.Reset(ctx, "missing"), ErrSessionNotFound)
	assert.ErrorIs(t, tr.MarkNotFirstSession(ctx, "missing"), ErrSessionNotFound)
	_, err = tr.Close(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestObserveReturnsFreshReport(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()
	id, err := tr.Open(ctx, "s1", false)
	require.NoError(t, err)

	clock.Advance(time.Second)
	r, err := tr.Observe(ctx, id, 120, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalObservations)
	assert.Equal(t, 120.0, r.LastScore)
	assert.False(t, r.Blocked)

	blocked, err := tr.ShouldBlock(ctx, id)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestOnBlockFiresOncePerTransition(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	tr, clock := newTestTracker(t, WithOnBlock(func(id string, r risk.Report) {
		mu.Lock()
		defer mu.Unlock()
		assert.True(t, r.Blocked)
		assert.True(t, r.HasFlag(risk.HighScoreFirstTry))
		calls = append(calls, id)
	}))
	ctx := context.Background()
	_, err := tr.Open(ctx, "cheater", true)
	require.NoError(t, err)

	blockedBefore := testutil.ToFloat64(metrics.SessionsBlockedTotal)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		r, err := tr.Observe(ctx, "cheater", 20000, 1, float64(i+1))
		require.NoError(t, err)
		assert.True(t, r.Blocked)
	}

	mu.Lock()
	assert.Equal(t, []string{"cheater"}, calls)
	mu.Unlock()
	assert.Equal(t, blockedBefore+1, testutil.ToFloat64(metrics.SessionsBlockedTotal))

	// A new game on the same session can block again.
	require.NoError(t, tr.Reset(ctx, "cheater"))
	blocked, err := tr.ShouldBlock(ctx, "cheater")
	require.NoError(t, err)
	assert.False(t, blocked)

	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		_, err := tr.Observe(ctx, "cheater", float64(100*(i+1)), 1, float64(i+1))
		require.NoError(t, err)
	}
	clock.Advance(50 * time.Millisecond)
	r, err := tr.Observe(ctx, "cheater", 50000, 1, 5)
	require.NoError(t, err)
	assert.True(t, r.HasFlag(risk.ImpossibleScoreJump))

	mu.Lock()
	assert.Len(t, calls, 2)
	mu.Unlock()
}

func TestMarkNotFirstSession(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Open(ctx, "vet", true)
	require.NoError(t, err)
	require.NoError(t, tr.MarkNotFirstSession(ctx, "vet"))

	clock.Advance(time.Second)
	r, err := tr.Observe(ctx, "vet", 20000, 1, 1)
	require.NoError(t, err)
	assert.False(t, r.FirstSession)
	assert.False(t, r.HasFlag(risk.HighScoreFirstTry))
}

func TestObserveOutcomeMetrics(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Open(ctx, "m", false)
	require.NoError(t, err)

	accepted := metrics.ObservationsTotal.WithLabelValues("accepted")
	clamped := metrics.ObservationsTotal.WithLabelValues("clamped")
	rejected := metrics.ObservationsTotal.WithLabelValues("rejected")
	a0, c0, r0 := testutil.ToFloat64(accepted), testutil.ToFloat64(clamped), testutil.ToFloat64(rejected)

	clock.Advance(time.Second)
	_, err = tr.Observe(ctx, "m", 10, 1, 1)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = tr.Observe(ctx, "m", -5, 0, 2)
	require.NoError(t, err)
	clock.Advance(time.Second)
	r, err := tr.Observe(ctx, "m", nan(), 1, 3)
	require.NoError(t, err)

	assert.Equal(t, 2, r.TotalObservations)
	assert.Equal(t, 1, r.RejectedObservations)
	assert.Equal(t, 1, r.ClampedObservations)
	assert.Equal(t, a0+1, testutil.ToFloat64(accepted))
	assert.Equal(t, c0+1, testutil.ToFloat64(clamped))
	assert.Equal(t, r0+1, testutil.ToFloat64(rejected))
}

func nan() float64 { return math.NaN() }

func TestCloseReturnsFinalReport(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.Open(ctx, "c", false)
	require.NoError(t, err)

	closedBefore := testutil.ToFloat64(metrics.SessionsClosedTotal.WithLabelValues("closed"))

	clock.Advance(time.Second)
	_, err = tr.Observe(ctx, "c", 50, 1, 1)
	require.NoError(t, err)

	r, err := tr.Close(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalObservations)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, closedBefore+1, testutil.ToFloat64(metrics.SessionsClosedTotal.WithLabelValues("closed")))

	_, err = tr.Close(ctx, "c")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The id is free again.
	_, err = tr.Open(ctx, "c", false)
	assert.NoError(t, err)
}

func TestSweepClosesIdleSessions(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := tr.Open(ctx, id, false)
		require.NoError(t, err)
	}

	clock.Advance(10 * time.Minute)
	_, err := tr.Observe(ctx, "b", 10, 1, 600)
	require.NoError(t, err)
	clock.Advance(25 * time.Minute)

	assert.Equal(t, 1, tr.Sweep(ctx, 30*time.Minute))
	assert.Equal(t, []string{"b"}, tr.IDs())

	assert.Equal(t, 0, tr.Sweep(ctx, 30*time.Minute))
	clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, tr.Sweep(ctx, 30*time.Minute))
	assert.Equal(t, 0, tr.Len())
}

func TestIDsSorted(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	for _, id := range []string{"z", "m", "a"} {
		_, err := tr.Open(ctx, id, false)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "m", "z"}, tr.IDs())
}

func TestObserveRespectsContextWhileLocked(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.Open(context.Background(), "busy", false)
	require.NoError(t, err)

	unlock := tr.locks.Lock("busy")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Observe(ctx, "busy", 1, 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionsAreIsolated(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()

	const (
		sessions = 32
		perSess  = 25
	)
	for i := 0; i < sessions; i++ {
		_, err := tr.Open(ctx, fmt.Sprintf("s%02d", i), false)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perSess; j++ {
				clock.Advance(time.Millisecond)
				_, err := tr.Observe(ctx, id, float64(j), 1, float64(j))
				assert.NoError(t, err)
			}
		}(fmt.Sprintf("s%02d", i))
	}
	wg.Wait()

	for _, id := range tr.IDs() {
		r, err := tr.Report(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, perSess, r.TotalObservations, id)
		assert.Equal(t, float64(perSess-1), r.LastScore, id)
	}
}

func TestOnCloseReasons(t *testing.T) {
	type closed struct {
		id, reason string
		obs        int
	}
	var got []closed
	tr, clock := newTestTracker(t, WithOnClose(func(id, reason string, r risk.Report) {
		got = append(got, closed{id, reason, r.TotalObservations})
	}))
	ctx := context.Background()

	for _, id := range []string{"explicit", "stale"} {
		_, err := tr.Open(ctx, id, false)
		require.NoError(t, err)
	}
	clock.Advance(time.Second)
	_, err := tr.Observe(ctx, "explicit", 5, 1, 1)
	require.NoError(t, err)

	_, err = tr.Close(ctx, "explicit")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	require.Equal(t, 1, tr.Sweep(ctx, time.Minute))

	assert.Equal(t, []closed{
		{"explicit", "closed", 1},
		{"stale", "idle", 0},
	}, got)
}

func TestHas(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	assert.False(t, tr.Has("x"))
	_, err := tr.Open(ctx, "x", true)
	require.NoError(t, err)
	assert.True(t, tr.Has("x"))
	_, err = tr.Close(ctx, "x")
	require.NoError(t, err)
	assert.False(t, tr.Has("x"))
}
