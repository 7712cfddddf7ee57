package session

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorClosesIdleSessions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	tr := NewTracker(WithLogger(logger))
	_, err := tr.Open(context.Background(), "idle", false)
	require.NoError(t, err)

	j := NewJanitor(tr, time.Millisecond, 5*time.Millisecond, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Start(ctx)

	require.Eventually(t, j.Running, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)

	j.Stop()
	assert.Eventually(t, func() bool { return !j.Running() }, time.Second, time.Millisecond)
}

func TestJanitorStopsOnContextCancel(t *testing.T) {
	j := NewJanitor(NewTracker(), 0, 0, nil)
	assert.Equal(t, 30*time.Minute, j.idle)
	assert.Equal(t, time.Minute, j.interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
	assert.False(t, j.Running())
}

func TestJanitorRecoversFromPanic(t *testing.T) {
	var buf bytes.Buffer
	j := NewJanitor(nil, time.Minute, time.Minute, slog.New(slog.NewTextHandler(&buf, nil)))

	assert.NotPanics(t, func() { j.safeSweep(context.Background()) })
	assert.Contains(t, buf.String(), "panic in session janitor")
}
