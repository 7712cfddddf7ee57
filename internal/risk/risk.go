// Package risk implements the streaming anomaly engine for a single game session.
//
// The host feeds score/level/time observations into an Engine. After every
// observation the engine re-runs six independent heuristics over bounded
// histories: first-try score, short-window score rate, robotic input timing,
// session length, score/level consistency and repeating patterns. The highest
// flag severity becomes the session risk level; reaching Critical sets a
// sticky block that only Reset clears.
//
// The engine performs no I/O and never returns errors. Hostile or malformed
// input is clamped or dropped, and heuristics without enough samples simply
// skip the pass.
package risk

import (
	"fmt"
	"sync"
	"time"
)

// RiskLevel is an ordered severity. The zero value is Low.
type RiskLevel uint8

const (
	Low RiskLevel = iota
	Medium
	High
	Critical
)

var riskLevelNames = [...]string{"low", "medium", "high", "critical"}

func (l RiskLevel) String() string {
	if int(l) < len(riskLevelNames) {
		return riskLevelNames[l]
	}
	return fmt.Sprintf("RiskLevel(%d)", l)
}

// MarshalText implements encoding.TextMarshaler.
func (l RiskLevel) MarshalText() ([]byte, error) {
	if int(l) >= len(riskLevelNames) {
		return nil, fmt.Errorf("invalid risk level %d", l)
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *RiskLevel) UnmarshalText(b []byte) error {
	for i, name := range riskLevelNames {
		if name == string(b) {
			*l = RiskLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", b)
}

// MaxLevel returns the more severe of a and b.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if b > a {
		return b
	}
	return a
}

// FlagKind identifies the heuristic finding behind a Flag.
type FlagKind uint8

const (
	HighScoreFirstTry FlagKind = iota
	HighScoreRate
	RoboticTiming
	IdenticalTiming
	LongSession
	InconsistentScoreLevel
	ImpossibleScoreJump
	RepeatingScorePatterns
	StuckLevel
)

var flagKindNames = [...]string{
	"high_score_first_try",
	"high_score_rate",
	"robotic_timing",
	"identical_timing",
	"long_session",
	"inconsistent_score_level",
	"impossible_score_jump",
	"repeating_score_patterns",
	"stuck_level",
}

// AllFlagKinds lists every kind in declaration order.
func AllFlagKinds() []FlagKind {
	kinds := make([]FlagKind, len(flagKindNames))
	for i := range kinds {
		kinds[i] = FlagKind(i)
	}
	return kinds
}

func (k FlagKind) String() string {
	if int(k) < len(flagKindNames) {
		return flagKindNames[k]
	}
	return fmt.Sprintf("FlagKind(%d)", k)
}

// MarshalText implements encoding.TextMarshaler.
func (k FlagKind) MarshalText() ([]byte, error) {
	if int(k) >= len(flagKindNames) {
		return nil, fmt.Errorf("invalid flag kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *FlagKind) UnmarshalText(b []byte) error {
	for i, name := range flagKindNames {
		if name == string(b) {
			*k = FlagKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown flag kind %q", b)
}

// Flag is a finding produced by one heuristic during a single analysis pass.
type Flag struct {
	Kind      FlagKind  `json:"kind"`
	Message   string    `json:"message"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Timestamp time.Time `json:"timestamp"`
}

// Observation is one ingested sample. Immutable once recorded.
type Observation struct {
	Timestamp             time.Time     `json:"timestamp"`
	Score                 float64       `json:"score"`
	Level                 int           `json:"level"`
	ElapsedGameTime       float64       `json:"elapsedGameTime"`
	IntervalSincePrevious time.Duration `json:"intervalSincePrevious"`
}

// Report is a read-only diagnostic snapshot of the session.
type Report struct {
	RiskLevel                 RiskLevel `json:"riskLevel"`
	Blocked                   bool      `json:"blocked"`
	SessionDurationSeconds    float64   `json:"sessionDurationSeconds"`
	TotalObservations         int       `json:"totalObservations"`
	ActiveFlags               []Flag    `json:"activeFlags"`
	LastScore                 float64   `json:"lastScore"`
	AverageScoreRatePerSecond float64   `json:"averageScoreRatePerSecond"`
	TimingConsistency         float64   `json:"timingConsistency"`
	FirstSession              bool      `json:"firstSession"`
	RejectedObservations      int       `json:"rejectedObservations"`
	ClampedObservations       int       `json:"clampedObservations"`
}

// HasFlag reports whether the report carries at least one flag of kind k.
func (r Report) HasFlag(k FlagKind) bool {
	for _, f := range r.ActiveFlags {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// Clock supplies the current instant. Tests and replays inject a ManualClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a settable clock, safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t, which may be earlier than the current value.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
