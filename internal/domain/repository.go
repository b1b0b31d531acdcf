package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DayPrediction is the actual-vs-predicted comparison for one day and location
type DayPrediction struct {
	RequestID uuid.UUID       `json:"request_id"`
	Day       string          `json:"day"`
	Location  string          `json:"location"`
	State     RequestState    `json:"state"`
	Available bool            `json:"data_available"`
	Source    string          `json:"source"`
	Rows      []PredictionRow `json:"rows"`
	Series    []SeriesPoint   `json:"series"`
}

// HistorySummary holds the aggregated views of one year of data
type HistorySummary struct {
	Year          string           `json:"year"`
	Frequency     Frequency        `json:"frequency"`
	Aggregation   Aggregation      `json:"aggregation"`
	TimeAvailable bool             `json:"time_available"`
	TimeSeries    []AggregatePoint `json:"time_series"`
	NameAvailable bool             `json:"name_available"`
	NameSeries    []AggregatePoint `json:"name_series"`
	Timestamp     time.Time        `json:"timestamp"`
}

// PredictionLog records one served prediction request
type PredictionLog struct {
	RequestID uuid.UUID
	Day       time.Time
	Location  string
	State     RequestState
	Source    string
	Rows      int
	Measured  int
	CreatedAt time.Time
}

// Regressor is a pre-trained model with a fixed feature order
type Regressor interface {
	Predict(ctx context.Context, features [][]float64) ([]float64, error)
}

// DataRepository defines the interface for data persistence
// This follows the Dependency Inversion Principle - domain defines the interface
type DataRepository interface {
	// SaveDayRecords stores the raw records of one day, replacing earlier copies
	SaveDayRecords(ctx context.Context, resource string, day time.Time, records []RawRecord) error

	// GetDayRecords returns the stored records of one day in their original order
	GetDayRecords(ctx context.Context, resource string, day time.Time) ([]RawRecord, error)

	// SavePredictionLog persists a served prediction request
	SavePredictionLog(ctx context.Context, entry PredictionLog) error

	// Health checks storage connectivity
	Health(ctx context.Context) error
}
