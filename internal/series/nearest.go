// Package series reduces upstream time series to the sample a query asked for.
package series

import "github.com/kjstillabower/air-quality-proxy/internal/models"

// Nearest returns the sample whose timestamp is closest to target. On ties the earliest
// sample in input order wins. samples must not be empty.
func Nearest(samples []models.Sample, target int64) models.Sample {
	best := samples[0]
	bestDiff := absDiff(best.Timestamp, target)
	for _, s := range samples[1:] {
		if d := absDiff(s.Timestamp, target); d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
