package risk

import (
	"math"
	"slices"
	"time"
)

// Engine owns one session's rolling state. It is not safe for concurrent use;
// hosts serving many sessions partition engines by session id.
type Engine struct {
	clock      Clock
	thresholds Thresholds

	startedAt         time.Time
	lastObservationAt time.Time
	hist              *history

	flags        []Flag
	level        RiskLevel
	blocked      bool
	firstSession bool

	rejected int
	clamped  int
}

// NewEngine starts a session at the clock's current instant. A nil clock
// falls back to the wall clock. New engines treat the session as the
// player's first until told otherwise.
func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	now := clock.Now()
	return &Engine{
		clock:             clock,
		thresholds:        DefaultThresholds(),
		startedAt:         now,
		lastObservationAt: now,
		hist:              newHistory(HistoryCapacity),
		firstSession:      true,
	}
}

// WithThresholds overrides the default heuristic thresholds.
func (e *Engine) WithThresholds(t Thresholds) *Engine {
	e.thresholds = t
	return e
}

// WithFirstSession sets whether the first-try heuristic applies.
func (e *Engine) WithFirstSession(first bool) *Engine {
	e.firstSession = first
	return e
}

// RecordObservation ingests a sample and re-runs every heuristic.
// A non-finite score is dropped without touching state. Negative scores,
// levels below 1 and invalid elapsed times are clamped.
func (e *Engine) RecordObservation(score float64, level int, elapsedGameTime float64) {
	if !finite(score) {
		e.rejected++
		return
	}

	clamped := false
	if score < 0 {
		score, clamped = 0, true
	}
	if level < 1 {
		level, clamped = 1, true
	}
	if !finite(elapsedGameTime) || elapsedGameTime < 0 {
		elapsedGameTime, clamped = 0, true
	}

	now := e.clock.Now()
	if now.Before(e.lastObservationAt) {
		// Keep timestamps non-decreasing so every interval stays >= 0.
		now, clamped = e.lastObservationAt, true
	}
	if clamped {
		e.clamped++
	}

	e.hist.push(Observation{
		Timestamp:             now,
		Score:                 score,
		Level:                 level,
		ElapsedGameTime:       elapsedGameTime,
		IntervalSincePrevious: now.Sub(e.lastObservationAt),
	})
	e.lastObservationAt = now

	e.analyze(now)
}

// analyze replaces the active flags with a fresh pass and updates the aggregate.
func (e *Engine) analyze(now time.Time) {
	flags := make([]Flag, 0, 4)
	flags = append(flags, e.firstTryCheck(now)...)
	flags = append(flags, e.scoreRateCheck(now)...)
	flags = append(flags, e.timingCheck(now)...)
	flags = append(flags, e.sessionDurationCheck(now)...)
	flags = append(flags, e.consistencyCheck(now)...)
	flags = append(flags, e.patternCheck(now)...)

	level := Low
	for _, f := range flags {
		level = MaxLevel(level, f.RiskLevel)
	}

	e.flags = flags
	e.level = level
	if level == Critical {
		e.blocked = true
	}
}

// ShouldBlock reports whether the session must be terminated. Once true it
// stays true until Reset.
func (e *Engine) ShouldBlock() bool {
	return e.blocked
}

// RiskLevel returns the aggregate level from the most recent pass.
func (e *Engine) RiskLevel() RiskLevel {
	return e.level
}

// IsFirstSession reports whether the first-try heuristic is active.
func (e *Engine) IsFirstSession() bool {
	return e.firstSession
}

// Observations returns a copy of the retained history, oldest first.
func (e *Engine) Observations() []Observation {
	return e.hist.observations.values()
}

// Report builds a snapshot without mutating state. Durations are measured up
// to the latest observation, so repeated calls return identical values.
func (e *Engine) Report() Report {
	r := Report{
		RiskLevel:                 e.level,
		Blocked:                   e.blocked,
		SessionDurationSeconds:    e.lastObservationAt.Sub(e.startedAt).Seconds(),
		TotalObservations:         e.hist.len(),
		ActiveFlags:               slices.Clone(e.flags),
		AverageScoreRatePerSecond: e.averageScoreRate(),
		TimingConsistency:         e.timingConsistency(),
		FirstSession:              e.firstSession,
		RejectedObservations:      e.rejected,
		ClampedObservations:       e.clamped,
	}
	if r.ActiveFlags == nil {
		r.ActiveFlags = []Flag{}
	}
	if e.hist.len() > 0 {
		r.LastScore = e.hist.scores.last()
	}
	return r
}

// averageScoreRate spans the full retained history. It is 0 when the history
// covers no time.
func (e *Engine) averageScoreRate() float64 {
	if e.hist.len() < 2 {
		return 0
	}
	first, last := e.hist.observations.first(), e.hist.observations.last()
	span := millis(last.Timestamp.Sub(first.Timestamp))
	if span <= 0 {
		return 0
	}
	rate := (last.Score - first.Score) / span * 1000
	if !finite(rate) {
		return 0
	}
	return rate
}

// timingConsistency is the coefficient of variation of all retained
// intervals. With fewer than 3 samples, or a zero mean, it reports the
// neutral value 1.
func (e *Engine) timingConsistency() float64 {
	if e.hist.intervals.len() < minReportSamples {
		return 1
	}
	cv, ok := coefficientOfVariation(e.hist.intervals.values())
	if !ok {
		return 1
	}
	return math.Round(cv*1e6) / 1e6
}

// Reset starts a new session on the same engine. A reset session is never
// the player's first.
func (e *Engine) Reset() {
	now := e.clock.Now()
	e.startedAt = now
	e.lastObservationAt = now
	e.hist.reset()
	e.flags = nil
	e.level = Low
	e.blocked = false
	e.firstSession = false
	e.rejected = 0
	e.clamped = 0
}

// MarkNotFirstSession disables the first-try heuristic, for hosts that know
// the player's history from elsewhere.
func (e *Engine) MarkNotFirstSession() {
	e.firstSession = false
}
