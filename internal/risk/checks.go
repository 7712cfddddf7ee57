package risk

import (
	"fmt"
	"slices"
	"time"
)

func newFlag(kind FlagKind, level RiskLevel, now time.Time, format string, args ...any) Flag {
	return Flag{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		RiskLevel: level,
		Timestamp: now,
	}
}

// firstTryCheck: a first-ever session should not produce a top-tier score.
func (e *Engine) firstTryCheck(now time.Time) []Flag {
	if !e.firstSession || e.hist.len() == 0 {
		return nil
	}
	best := slices.Max(e.hist.scores.values())
	if best <= e.thresholds.FirstTryScore {
		return nil
	}
	return []Flag{newFlag(HighScoreFirstTry, Critical, now,
		"score %.0f in first session exceeds %.0f", best, e.thresholds.FirstTryScore)}
}

// scoreRateCheck: points per second over the most recent observations.
func (e *Engine) scoreRateCheck(now time.Time) []Flag {
	recent := e.hist.observations.tail(rateWindow)
	if len(recent) < 2 {
		return nil
	}
	var scoreDiff, timeDiff float64
	for i := 1; i < len(recent); i++ {
		scoreDiff += recent[i].Score - recent[i-1].Score
		timeDiff += millis(recent[i].Timestamp.Sub(recent[i-1].Timestamp))
	}
	if timeDiff <= 0 {
		return nil
	}
	rate := scoreDiff / timeDiff * 1000
	if rate <= e.thresholds.MaxScorePerSecond {
		return nil
	}
	return []Flag{newFlag(HighScoreRate, High, now,
		"score rate %.1f/s exceeds %.1f/s", rate, e.thresholds.MaxScorePerSecond)}
}

// timingCheck looks for machine-regular input: a low coefficient of variation
// across intervals, or many intervals that are effectively identical.
func (e *Engine) timingCheck(now time.Time) []Flag {
	if e.hist.intervals.len() < minTimingSamples {
		return nil
	}
	window := e.hist.intervals.tail(timingWindow)

	var flags []Flag
	if cv, ok := coefficientOfVariation(window); ok && cv < e.thresholds.MinTimingVariation {
		flags = append(flags, newFlag(RoboticTiming, High, now,
			"input timing variation %.3f below %.3f over %d intervals", cv, e.thresholds.MinTimingVariation, len(window)))
	}

	group := largestToleranceGroup(window, millis(e.thresholds.RoboticTolerance))
	if group >= e.thresholds.SuspiciousPatternCount {
		flags = append(flags, newFlag(IdenticalTiming, Medium, now,
			"%d of %d intervals identical within %s", group, len(window), e.thresholds.RoboticTolerance))
	}
	return flags
}

func (e *Engine) sessionDurationCheck(now time.Time) []Flag {
	elapsed := now.Sub(e.startedAt)
	if elapsed <= e.thresholds.MaxSessionDuration {
		return nil
	}
	return []Flag{newFlag(LongSession, Medium, now,
		"session running for %s exceeds %s", elapsed.Round(time.Second), e.thresholds.MaxSessionDuration)}
}

// consistencyCheck validates the latest score against the level and looks for
// large gains in implausibly short time.
func (e *Engine) consistencyCheck(now time.Time) []Flag {
	if e.hist.len() < minConsistencyObs {
		return nil
	}

	var flags []Flag
	latest := e.hist.observations.last()
	if limit := float64(latest.Level) * e.thresholds.MaxScorePerLevel; latest.Score > limit {
		flags = append(flags, newFlag(InconsistentScoreLevel, High, now,
			"score %.0f exceeds %.0f allowed at level %d", latest.Score, limit, latest.Level))
	}

	recent := e.hist.observations.tail(consistencyWindow)
	for i := 1; i < len(recent); i++ {
		scoreDiff := recent[i].Score - recent[i-1].Score
		timeDiff := recent[i].Timestamp.Sub(recent[i-1].Timestamp)
		if scoreDiff > e.thresholds.ImpossibleJumpScore && timeDiff < e.thresholds.ImpossibleJumpWindow {
			flags = append(flags, newFlag(ImpossibleScoreJump, Critical, now,
				"score jumped %.0f in %s", scoreDiff, timeDiff))
		}
	}
	return flags
}

// patternCheck detects replayed score sequences and a level that never moves.
func (e *Engine) patternCheck(now time.Time) []Flag {
	var flags []Flag

	if patterns := repeatingPatterns(e.hist.scores.tail(patternWindow)); len(patterns) > 0 {
		flags = append(flags, newFlag(RepeatingScorePatterns, Medium, now,
			"%d repeating score patterns, first %v", len(patterns), patterns[0]))
	}

	levels := e.hist.levels.tail(levelWindow)
	if len(levels) >= minStuckLevelObs && allEqual(levels) {
		flags = append(flags, newFlag(StuckLevel, Low, now,
			"level %d unchanged across %d observations", levels[0], len(levels)))
	}
	return flags
}

// repeatingPatterns returns each distinct subsequence of length 2..5 that is
// immediately followed by an identical copy of itself.
func repeatingPatterns(scores []float64) [][]float64 {
	var found [][]float64
	seen := make(map[string]struct{})
	for size := minPatternLength; size <= maxPatternLength; size++ {
		for i := 0; i+2*size <= len(scores); i++ {
			a := scores[i : i+size]
			if !slices.Equal(a, scores[i+size:i+2*size]) {
				continue
			}
			key := fmt.Sprint(a)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			found = append(found, slices.Clone(a))
		}
	}
	return found
}

func allEqual[T comparable](values []T) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
