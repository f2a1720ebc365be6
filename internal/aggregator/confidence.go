package aggregator

import "time"

// Confidence combines how much of the target window has been observed
// with how many updates have been processed. The result is in [0, 1].
func Confidence(spanMs int64, target time.Duration, updates, minDataPoints uint64) float64 {
	var timeConfidence, dataConfidence float64

	if targetMs := target.Milliseconds(); targetMs > 0 && spanMs > 0 {
		timeConfidence = min(float64(spanMs)/float64(targetMs), 1)
	}

	if minDataPoints > 0 {
		dataConfidence = min(float64(updates)/float64(minDataPoints), 1)
	}

	return (timeConfidence + dataConfidence) / 2
}
