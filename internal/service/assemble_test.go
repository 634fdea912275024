package service

import (
	"encoding/json"
	"testing"

	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/routing"
)

func TestAssemble_Current(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"adds mode", `{"coord":{"lat":1},"list":[{"dt":1},{"dt":2}]}`, `{"coord":{"lat":1},"list":[{"dt":1},{"dt":2}],"mode":"current"}`},
		{"replaces mode", `{"mode":"stale"}`, `{"mode":"current"}`},
		{"null body", `null`, `{"mode":"current"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, empty, err := assemble(routing.Plan{Mode: models.ModeCurrent}, models.UpstreamResponse{Body: json.RawMessage(tt.body)})
			if err != nil {
				t.Fatalf("assemble() error = %v", err)
			}
			if empty {
				t.Error("assemble() empty = true for a current response")
			}
			if string(got) != tt.want {
				t.Errorf("assemble() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, _, err := assemble(routing.Plan{Mode: models.ModeCurrent}, models.UpstreamResponse{Body: json.RawMessage(`[1,2]`)}); err == nil {
		t.Error("assemble() expected error for a non-object body")
	}
}

func TestAssemble_Series(t *testing.T) {
	resp := models.UpstreamResponse{
		List: []models.Sample{
			{Timestamp: 100, Raw: json.RawMessage(`{"dt":100}`)},
			{Timestamp: 400, Raw: json.RawMessage(`{"dt":400}`)},
		},
	}
	got, empty, err := assemble(routing.Plan{Mode: models.ModeHistory, Target: 250}, resp)
	if err != nil {
		t.Fatalf("assemble() error = %v", err)
	}
	if empty {
		t.Error("assemble() empty = true")
	}
	// Equidistant samples resolve to the first; a missing coord is omitted.
	if want := `{"list":[{"dt":100}],"mode":"history"}`; string(got) != want {
		t.Errorf("assemble() = %s, want %s", got, want)
	}
}

func TestAssemble_EmptySeries(t *testing.T) {
	got, empty, err := assemble(routing.Plan{Mode: models.ModeForecast}, models.UpstreamResponse{Coord: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("assemble() error = %v", err)
	}
	if !empty {
		t.Error("assemble() empty = false")
	}
	if want := `{"list":[],"mode":"forecast","message":"No data found for this time range"}`; string(got) != want {
		t.Errorf("assemble() = %s, want %s", got, want)
	}
}

func TestModeOf(t *testing.T) {
	if got := modeOf(json.RawMessage(`{"mode":"forecast"}`)); got != models.ModeForecast {
		t.Errorf("modeOf() = %q", got)
	}
	if got := modeOf(json.RawMessage(`not json`)); got != "" {
		t.Errorf("modeOf(invalid) = %q, want empty", got)
	}
}
