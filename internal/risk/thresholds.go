package risk

import (
	"fmt"
	"math"
	"time"
)

const (
	// HistoryCapacity bounds every history channel. Older entries are evicted first.
	HistoryCapacity = 100

	rateWindow        = 10
	timingWindow      = 20
	minTimingSamples  = 10
	consistencyWindow = 5
	minConsistencyObs = 5
	patternWindow     = 20
	minPatternLength  = 2
	maxPatternLength  = 5
	levelWindow       = 10
	minStuckLevelObs  = 5
	minReportSamples  = 3
)

// Thresholds tunes the heuristics. Use DefaultThresholds and override fields.
type Thresholds struct {
	// FirstTryScore is the highest plausible score in a player's very first session.
	FirstTryScore float64 `json:"firstTryScore"`

	// MaxScorePerSecond caps the short-window score rate.
	MaxScorePerSecond float64 `json:"maxScorePerSecond"`

	// MinTimingVariation is the lowest human coefficient of variation for input intervals.
	MinTimingVariation float64 `json:"minTimingVariation"`

	// RoboticTolerance is how close two intervals must be to count as identical.
	RoboticTolerance time.Duration `json:"roboticTolerance"`

	// SuspiciousPatternCount is the identical-interval group size that raises a flag.
	SuspiciousPatternCount int `json:"suspiciousPatternCount"`

	// MaxSessionDuration is the longest plausible uninterrupted session.
	MaxSessionDuration time.Duration `json:"maxSessionDuration"`

	// MaxScorePerLevel bounds score relative to the level reached.
	MaxScorePerLevel float64 `json:"maxScorePerLevel"`

	// ImpossibleJumpScore and ImpossibleJumpWindow define a score gain too large for the time taken.
	ImpossibleJumpScore  float64       `json:"impossibleJumpScore"`
	ImpossibleJumpWindow time.Duration `json:"impossibleJumpWindow"`
}

// DefaultThresholds returns the tuned production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FirstTryScore:          10000,
		MaxScorePerSecond:      200,
		MinTimingVariation:     0.1,
		RoboticTolerance:       50 * time.Millisecond,
		SuspiciousPatternCount: 5,
		MaxSessionDuration:     20 * time.Minute,
		MaxScorePerLevel:       2000,
		ImpossibleJumpScore:    500,
		ImpossibleJumpWindow:   100 * time.Millisecond,
	}
}

// Validate rejects thresholds that would disable or break a heuristic.
func (t Thresholds) Validate() error {
	floats := []struct {
		name  string
		value float64
	}{
		{"FirstTryScore", t.FirstTryScore},
		{"MaxScorePerSecond", t.MaxScorePerSecond},
		{"MinTimingVariation", t.MinTimingVariation},
		{"MaxScorePerLevel", t.MaxScorePerLevel},
		{"ImpossibleJumpScore", t.ImpossibleJumpScore},
	}
	for _, f := range floats {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value <= 0 {
			return fmt.Errorf("%s must be a positive finite number, got %v", f.name, f.value)
		}
	}
	if t.RoboticTolerance < 0 {
		return fmt.Errorf("RoboticTolerance must not be negative, got %s", t.RoboticTolerance)
	}
	if t.SuspiciousPatternCount < 2 {
		return fmt.Errorf("SuspiciousPatternCount must be at least 2, got %d", t.SuspiciousPatternCount)
	}
	if t.MaxSessionDuration <= 0 {
		return fmt.Errorf("MaxSessionDuration must be positive, got %s", t.MaxSessionDuration)
	}
	if t.ImpossibleJumpWindow <= 0 {
		return fmt.Errorf("ImpossibleJumpWindow must be positive, got %s", t.ImpossibleJumpWindow)
	}
	return nil
}
