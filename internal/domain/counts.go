package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smartcity/hardbruecke/pkg/utils"
)

// Direction names the count column an observation was unpivoted from
type Direction string

const (
	DirectionIn  Direction = "In"
	DirectionOut Direction = "Out"
)

// Directions is the unpivot order: In before Out
var Directions = [2]Direction{DirectionIn, DirectionOut}

// Code returns the model encoding of the direction (In=0, Out=1)
func (d Direction) Code() (uint8, bool) {
	switch d {
	case DirectionIn:
		return 0, true
	case DirectionOut:
		return 1, true
	default:
		return 0, false
	}
}

// RawRecord is one wide-format row of the Hardbrücke counting data
type RawRecord struct {
	Timestamp time.Time `json:"Timestamp"`
	Name      string    `json:"Name"`
	In        int       `json:"In"`
	Out       int       `json:"Out"`
}

// UnmarshalJSON accepts the wall-clock timestamps used by the open data portal
// ("2021-01-01T23:55:00") as well as RFC 3339.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var wire struct {
		Timestamp string `json:"Timestamp"`
		Name      string `json:"Name"`
		In        int    `json:"In"`
		Out       int    `json:"Out"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	ts, err := utils.ParseTimestamp(wire.Timestamp)
	if err != nil {
		return err
	}
	if wire.In < 0 || wire.Out < 0 {
		return fmt.Errorf("negative count for %s at %s", wire.Name, wire.Timestamp)
	}
	*r = RawRecord{Timestamp: ts, Name: wire.Name, In: wire.In, Out: wire.Out}
	return nil
}

// Count returns the value of the requested direction column
func (r RawRecord) Count(d Direction) int {
	if d == DirectionOut {
		return r.Out
	}
	return r.In
}

// DirectionalObservation is one long-format row. A nil Count marks a row
// that was not measured, as opposed to a measured zero.
type DirectionalObservation struct {
	Timestamp time.Time `json:"Timestamp"`
	Name      string    `json:"Name"`
	Direction Direction `json:"direction"`
	Count     *int      `json:"count"`
}

// Measured reports whether the observation carries a real count
func (o DirectionalObservation) Measured() bool {
	return o.Count != nil
}

// FeaturizedObservation extends an observation with the model features
type FeaturizedObservation struct {
	DirectionalObservation
	Year          uint16    `json:"year"`
	Hour          uint8     `json:"hour"`
	Weekday       uint8     `json:"weekday"` // Monday = 0
	Minute        uint8     `json:"minute"`
	Month         uint8     `json:"month"`
	Day           time.Time `json:"day"`
	DirectionCode uint8     `json:"direction_code"`
	LocationCode  uint8     `json:"location_code"`
}

// Feature returns the named feature as a regressor input value.
// The *_cat spellings are the column names used by the training notebooks.
func (o FeaturizedObservation) Feature(name string) (float64, bool) {
	switch name {
	case "year":
		return float64(o.Year), true
	case "hour":
		return float64(o.Hour), true
	case "weekday":
		return float64(o.Weekday), true
	case "minute":
		return float64(o.Minute), true
	case "month":
		return float64(o.Month), true
	case "direction_code", "direction_cat":
		return float64(o.DirectionCode), true
	case "location_code", "name_cat":
		return float64(o.LocationCode), true
	default:
		return 0, false
	}
}

// PredictionRow is a featurized observation annotated with the model output
type PredictionRow struct {
	FeaturizedObservation
	Prediction float64 `json:"prediction"`
}

// Series variables emitted for plotting
const (
	VariableCount      = "count"
	VariablePrediction = "prediction"
)

// SeriesPoint is one point of a long-format plotting series. A nil Value is
// rendered as a gap.
type SeriesPoint struct {
	Timestamp time.Time `json:"Timestamp"`
	Direction Direction `json:"direction"`
	Name      string    `json:"Name"`
	Variable  string    `json:"variable"`
	Value     *float64  `json:"value"`
}
