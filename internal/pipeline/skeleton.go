package pipeline

import (
	"time"

	"github.com/smartcity/hardbruecke/internal/domain"
)

const (
	// TickInterval is the cadence of the counting data
	TickInterval = 5 * time.Minute
	// TicksPerDay is the number of ticks from 00:00 through 23:55
	TicksPerDay = 288
)

// BuildFutureSkeleton returns one zero-count record per tick of day for a
// location without observations. Ticks follow the wall clock, so DST
// transition days still have 288 of them.
func BuildFutureSkeleton(name string, day time.Time) []domain.RawRecord {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	records := make([]domain.RawRecord, TicksPerDay)
	for i := range records {
		records[i] = domain.RawRecord{
			Timestamp: start.Add(time.Duration(i) * TickInterval),
			Name:      name,
		}
	}
	return records
}

// MarkUnmeasured returns a copy of observations with every count replaced by
// the missing-value sentinel.
func MarkUnmeasured(observations []domain.FeaturizedObservation) []domain.FeaturizedObservation {
	out := make([]domain.FeaturizedObservation, len(observations))
	for i, obs := range observations {
		obs.Count = nil
		out[i] = obs
	}
	return out
}
