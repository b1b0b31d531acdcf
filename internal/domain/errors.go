package domain

import (
	"errors"
	"fmt"
)

// ErrNoDataAvailable marks a day for which no real observations exist. It is
// a recognized state, not a failure: callers fall back to a skeleton day.
var ErrNoDataAvailable = errors.New("no data available")

// ErrUnknownResource is returned for years without a published dataset
var ErrUnknownResource = errors.New("no dataset resource for year")

// ErrInvalidQuery is returned for unsupported aggregation parameters
var ErrInvalidQuery = errors.New("invalid query")

// UnknownLocationError is returned when a location name has no model code
type UnknownLocationError struct {
	Name string
}

func (e *UnknownLocationError) Error() string {
	return fmt.Sprintf("unknown location %q", e.Name)
}

// FeatureVectorMismatchError is returned when regressor input or output does
// not line up with the observations being predicted.
type FeatureVectorMismatchError struct {
	Row     int
	Feature string
	Want    int
	Got     int
}

func (e *FeatureVectorMismatchError) Error() string {
	if e.Feature != "" {
		return fmt.Sprintf("feature vector mismatch: row %d has no feature %q", e.Row, e.Feature)
	}
	return fmt.Sprintf("feature vector mismatch: want %d values, got %d", e.Want, e.Got)
}
