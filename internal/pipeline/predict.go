package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

// DefaultFeatureOrder is the column order of the distributed decision tree
var DefaultFeatureOrder = []string{"year", "hour", "weekday", "minute", "month", "direction_code", "location_code"}

// SelectDay returns the observations of one calendar day and location. The
// name must match exactly; aliases are not resolved here.
func SelectDay(observations []domain.FeaturizedObservation, day time.Time, name string) []domain.FeaturizedObservation {
	var selected []domain.FeaturizedObservation
	for _, obs := range observations {
		if obs.Name == name && utils.SameDay(obs.Day, day) {
			selected = append(selected, obs)
		}
	}
	return selected
}

// FeatureMatrix reads featureOrder off every observation
func FeatureMatrix(observations []domain.FeaturizedObservation, featureOrder []string) ([][]float64, error) {
	matrix := make([][]float64, len(observations))
	for i, obs := range observations {
		vec := make([]float64, len(featureOrder))
		for j, name := range featureOrder {
			v, ok := obs.Feature(name)
			if !ok {
				return nil, &domain.FeatureVectorMismatchError{Row: i, Feature: name}
			}
			vec[j] = v
		}
		matrix[i] = vec
	}
	return matrix, nil
}

// PredictDay annotates the observations of one day and location with the
// regressor output. The regressor is called once for the whole selection and
// not at all when nothing matches.
func PredictDay(
	ctx context.Context,
	observations []domain.FeaturizedObservation,
	day time.Time,
	name string,
	regressor domain.Regressor,
	featureOrder []string,
) ([]domain.PredictionRow, error) {
	selected := SelectDay(observations, day, name)
	if len(selected) == 0 {
		return []domain.PredictionRow{}, nil
	}

	matrix, err := FeatureMatrix(selected, featureOrder)
	if err != nil {
		return nil, err
	}

	predictions, err := regressor.Predict(ctx, matrix)
	if err != nil {
		return nil, fmt.Errorf("pipeline: regressor failed: %w", err)
	}
	if len(predictions) != len(selected) {
		return nil, &domain.FeatureVectorMismatchError{Want: len(selected), Got: len(predictions)}
	}

	rows := make([]domain.PredictionRow, len(selected))
	for i, obs := range selected {
		rows[i] = domain.PredictionRow{FeaturizedObservation: obs, Prediction: predictions[i]}
	}
	return rows, nil
}

// Melt stacks counts and predictions into one plotting series: all count
// points first, then all prediction points.
func Melt(rows []domain.PredictionRow) []domain.SeriesPoint {
	points := make([]domain.SeriesPoint, 0, 2*len(rows))
	for _, row := range rows {
		var value *float64
		if row.Count != nil {
			v := float64(*row.Count)
			value = &v
		}
		points = append(points, seriesPoint(row, domain.VariableCount, value))
	}
	for _, row := range rows {
		v := row.Prediction
		points = append(points, seriesPoint(row, domain.VariablePrediction, &v))
	}
	return points
}

func seriesPoint(row domain.PredictionRow, variable string, value *float64) domain.SeriesPoint {
	return domain.SeriesPoint{
		Timestamp: row.Timestamp,
		Direction: row.Direction,
		Name:      row.Name,
		Variable:  variable,
		Value:     value,
	}
}
