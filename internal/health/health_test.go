package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy, "empty registry should be healthy")
	assert.Empty(t, statuses)
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("sessions", func(_ context.Context) Status {
		return Status{Name: "sessions", Healthy: true, Detail: "3 active"}
	})
	r.Register("janitor", func(_ context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "janitor", statuses[1].Name, "name filled in from registration")
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("sessions", func(_ context.Context) Status {
		return Status{Name: "sessions", Healthy: true}
	})
	r.Register("janitor", func(_ context.Context) Status {
		return Status{Name: "janitor", Healthy: false, Detail: "not running"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "not running", statuses[1].Detail)
}

func TestRegistryCheckerPanics(t *testing.T) {
	r := NewRegistry()
	r.Register("boom", func(_ context.Context) Status {
		panic("kaboom")
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Contains(t, statuses[0].Detail, "kaboom")
}

func TestRegistryCheckerTimesOut(t *testing.T) {
	r := NewRegistry().WithTimeout(10 * time.Millisecond)
	r.Register("slow", func(_ context.Context) Status {
		time.Sleep(200 * time.Millisecond)
		return Status{Name: "slow", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "timed out", statuses[0].Detail)
}
