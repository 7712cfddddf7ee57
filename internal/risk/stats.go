package risk

import (
	"math"
	"time"
)

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// populationStdDev uses the population (not sample) variance.
func populationStdDev(values []float64, mu float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mu
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// coefficientOfVariation returns stdev/mean. ok is false when the mean is not
// positive, in which case the ratio is meaningless.
func coefficientOfVariation(values []float64) (cv float64, ok bool) {
	mu := mean(values)
	if mu <= 0 || !finite(mu) {
		return 0, false
	}
	cv = populationStdDev(values, mu) / mu
	if !finite(cv) {
		return 0, false
	}
	return cv, true
}

// largestToleranceGroup returns the size of the biggest set of values that all
// lie within tolerance of one member.
func largestToleranceGroup(values []float64, tolerance float64) int {
	best := 0
	for _, a := range values {
		count := 0
		for _, b := range values {
			if math.Abs(a-b) <= tolerance {
				count++
			}
		}
		if count > best {
			best = count
		}
	}
	return best
}
