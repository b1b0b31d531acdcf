// Package pipeline turns wide-format count records into model-ready,
// prediction-annotated long-format series. Every function is pure.
package pipeline

import (
	"fmt"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

// Unpivot emits one observation per direction for every record, keeping the
// record order and In before Out.
func Unpivot(records []domain.RawRecord) []domain.DirectionalObservation {
	out := make([]domain.DirectionalObservation, 0, 2*len(records))
	for _, rec := range records {
		for _, dir := range domain.Directions {
			count := rec.Count(dir)
			out = append(out, domain.DirectionalObservation{
				Timestamp: rec.Timestamp,
				Name:      rec.Name,
				Direction: dir,
				Count:     &count,
			})
		}
	}
	return out
}

// Repivot folds long-format observations back into wide records, in order of
// first appearance. Unmeasured or duplicated directions are rejected.
func Repivot(observations []domain.DirectionalObservation) ([]domain.RawRecord, error) {
	type key struct {
		unix int64
		name string
	}
	type slot struct {
		index int
		seen  [2]bool
	}

	records := make([]domain.RawRecord, 0, len(observations)/2)
	slots := make(map[key]*slot, len(observations)/2)
	for _, obs := range observations {
		if obs.Count == nil {
			return nil, fmt.Errorf("pipeline: cannot repivot unmeasured %s count of %s at %s",
				obs.Direction, obs.Name, obs.Timestamp.Format("2006-01-02T15:04:05"))
		}
		code, ok := obs.Direction.Code()
		if !ok {
			return nil, fmt.Errorf("pipeline: unknown direction %q", obs.Direction)
		}

		k := key{unix: obs.Timestamp.UnixNano(), name: obs.Name}
		s, exists := slots[k]
		if !exists {
			s = &slot{index: len(records)}
			slots[k] = s
			records = append(records, domain.RawRecord{Timestamp: obs.Timestamp, Name: obs.Name})
		}
		if s.seen[code] {
			return nil, fmt.Errorf("pipeline: duplicate %s observation of %s at %s",
				obs.Direction, obs.Name, obs.Timestamp.Format("2006-01-02T15:04:05"))
		}
		s.seen[code] = true

		if obs.Direction == domain.DirectionOut {
			records[s.index].Out = *obs.Count
		} else {
			records[s.index].In = *obs.Count
		}
	}
	return records, nil
}

// Featurize unpivots records and derives the calendar, direction and location
// features. An empty input yields an empty output.
func Featurize(records []domain.RawRecord, locations *LocationTable) ([]domain.FeaturizedObservation, error) {
	out := make([]domain.FeaturizedObservation, 0, 2*len(records))
	for _, obs := range Unpivot(records) {
		f, err := encode(obs, locations)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func encode(obs domain.DirectionalObservation, locations *LocationTable) (domain.FeaturizedObservation, error) {
	locationCode, err := locations.Code(obs.Name)
	if err != nil {
		return domain.FeaturizedObservation{}, err
	}
	directionCode, _ := obs.Direction.Code()

	ts := obs.Timestamp
	return domain.FeaturizedObservation{
		DirectionalObservation: obs,
		Year:                   uint16(ts.Year()),
		Hour:                   uint8(ts.Hour()),
		// time.Weekday counts from Sunday; the model counts from Monday
		Weekday:       uint8((int(ts.Weekday()) + 6) % 7),
		Minute:        uint8(ts.Minute()),
		Month:         uint8(ts.Month()),
		Day:           utils.TruncateDay(ts),
		DirectionCode: directionCode,
		LocationCode:  locationCode,
	}, nil
}
