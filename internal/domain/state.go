package domain

import "fmt"

// RequestState tracks one prediction request through the pipeline
type RequestState int

const (
	StateNoDataRequested RequestState = iota
	StateDataFetchPending
	StateDataAvailable
	StateDataUnavailable
	StateFeaturized
	StatePredictionReady
)

var stateNames = map[RequestState]string{
	StateNoDataRequested:  "no_data_requested",
	StateDataFetchPending: "data_fetch_pending",
	StateDataAvailable:    "data_available",
	StateDataUnavailable:  "data_unavailable",
	StateFeaturized:       "featurized",
	StatePredictionReady:  "prediction_ready",
}

var transitions = map[RequestState][]RequestState{
	StateNoDataRequested:  {StateDataFetchPending},
	StateDataFetchPending: {StateDataAvailable, StateDataUnavailable},
	StateDataAvailable:    {StateFeaturized},
	StateDataUnavailable:  {StateFeaturized},
	StateFeaturized:       {StatePredictionReady},
}

func (s RequestState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON payloads
func (s RequestState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Advance returns the next state or an error if the transition is not allowed
func (s RequestState) Advance(to RequestState) (RequestState, error) {
	for _, next := range transitions[s] {
		if next == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("invalid request state transition %s -> %s", s, to)
}
