package models

import (
	"encoding/json"
	"fmt"
)

// Mode names the upstream endpoint used to answer a query.
type Mode string

const (
	ModeCurrent  Mode = "current"
	ModeForecast Mode = "forecast"
	ModeHistory  Mode = "history"
)

// Query is a single air-quality lookup: a point and a target time in Unix seconds.
type Query struct {
	Latitude   float64
	Longitude  float64
	TargetTime int64
}

// Sample is one element of an upstream time series. Raw keeps the element exactly as
// received so it can be returned to clients untouched.
type Sample struct {
	Timestamp int64
	Raw       json.RawMessage
}

// UnmarshalJSON records the raw element and extracts its "dt" field.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var head struct {
		Dt int64 `json:"dt"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("parse sample: %w", err)
	}
	s.Timestamp = head.Dt
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the sample back as it was received.
func (s Sample) MarshalJSON() ([]byte, error) {
	if len(s.Raw) == 0 {
		return json.Marshal(struct {
			Dt int64 `json:"dt"`
		}{s.Timestamp})
	}
	return s.Raw, nil
}

// UpstreamResponse is a decoded air_pollution response. Body is the full document,
// Coord and List are the parts the assembler needs.
type UpstreamResponse struct {
	Body  json.RawMessage
	Coord json.RawMessage
	List  []Sample
}

// Result is what the service hands back to a transport.
type Result struct {
	Payload json.RawMessage
	Mode    Mode
	Cached  bool
	Empty   bool
}
