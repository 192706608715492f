package services

import (
	"time"

	"proctorlink/internal/core/domain"
)

// Latency thresholds for quality classification.
const (
	excellentLatency = 100 * time.Millisecond
	goodLatency      = 200 * time.Millisecond
)

// ClassifyQuality maps send latency to a quality bucket. The classification
// is metrics-only; it never feeds back into backoff, which is driven solely
// by transport state.
func ClassifyQuality(latency time.Duration) domain.ConnectionQuality {
	switch {
	case latency < excellentLatency:
		return domain.QualityExcellent
	case latency < goodLatency:
		return domain.QualityGood
	default:
		return domain.QualityPoor
	}
}
