package domain

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is a DATE_TRUNC unit supported by the open data SQL endpoint
type Frequency string

const (
	FrequencyDay     Frequency = "DAY"
	FrequencyWeek    Frequency = "WEEK"
	FrequencyMonth   Frequency = "MONTH"
	FrequencyQuarter Frequency = "QUARTER"
)

// Aggregation is an SQL aggregate applied to the In/Out columns
type Aggregation string

const (
	AggregationAvg   Aggregation = "AVG"
	AggregationMin   Aggregation = "MIN"
	AggregationMax   Aggregation = "MAX"
	AggregationSum   Aggregation = "SUM"
	AggregationCount Aggregation = "COUNT"
)

// Option is a labelled choice offered to the dashboard
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FrequencyOptions lists the supported frequencies in display order
var FrequencyOptions = []Option{
	{Label: "Woche", Value: string(FrequencyWeek)},
	{Label: "Monat", Value: string(FrequencyMonth)},
	{Label: "Quartal", Value: string(FrequencyQuarter)},
	{Label: "Tag", Value: string(FrequencyDay)},
}

// AggregationOptions lists the supported aggregations in display order
var AggregationOptions = []Option{
	{Label: "Mittelwert", Value: string(AggregationAvg)},
	{Label: "Minimum", Value: string(AggregationMin)},
	{Label: "Maximum", Value: string(AggregationMax)},
	{Label: "Summe", Value: string(AggregationSum)},
	{Label: "Anzahl", Value: string(AggregationCount)},
}

// ParseFrequency accepts an SQL unit or its dashboard label, case-insensitive
func ParseFrequency(s string) (Frequency, error) {
	v, err := matchOption(FrequencyOptions, s)
	if err != nil {
		return "", fmt.Errorf("%w: frequency %q", ErrInvalidQuery, s)
	}
	return Frequency(v), nil
}

// ParseAggregation accepts an SQL aggregate or its dashboard label, case-insensitive
func ParseAggregation(s string) (Aggregation, error) {
	v, err := matchOption(AggregationOptions, s)
	if err != nil {
		return "", fmt.Errorf("%w: aggregation %q", ErrInvalidQuery, s)
	}
	return Aggregation(v), nil
}

func matchOption(options []Option, s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, o := range options {
		if strings.EqualFold(o.Value, s) || strings.EqualFold(o.Label, s) {
			return o.Value, nil
		}
	}
	return "", ErrInvalidQuery
}

// AggregatePoint is one long-format point of an aggregated series. Key is
// either a truncated timestamp or a location name.
type AggregatePoint struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Name      string     `json:"Name,omitempty"`
	Direction string     `json:"direction"`
	Value     float64    `json:"value"`
}
