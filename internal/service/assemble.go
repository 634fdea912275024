package service

import (
	"encoding/json"
	"fmt"

	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/routing"
	"github.com/kjstillabower/air-quality-proxy/internal/series"
)

const emptyMessage = "No data found for this time range"

type seriesPayload struct {
	Coord json.RawMessage   `json:"coord,omitempty"`
	List  []json.RawMessage `json:"list"`
	Mode  models.Mode       `json:"mode"`
}

type emptyPayload struct {
	List    []json.RawMessage `json:"list"`
	Mode    models.Mode       `json:"mode"`
	Message string            `json:"message"`
}

// assemble shapes an upstream response into the payload returned to clients.
//
// Current responses pass through whole with a "mode" field added; they are never
// reduced, even when the upstream list holds more than one observation. Forecast and
// history responses are narrowed to the sample nearest the target. empty reports a
// series with no samples, which yields a message payload.
func assemble(plan routing.Plan, resp models.UpstreamResponse) (payload json.RawMessage, empty bool, err error) {
	if plan.Mode == models.ModeCurrent {
		payload, err = withMode(resp.Body, plan.Mode)
		return payload, false, err
	}

	if len(resp.List) == 0 {
		payload, err = json.Marshal(emptyPayload{List: []json.RawMessage{}, Mode: plan.Mode, Message: emptyMessage})
		return payload, true, err
	}

	nearest := series.Nearest(resp.List, plan.Target)
	raw, err := nearest.MarshalJSON()
	if err != nil {
		return nil, false, fmt.Errorf("encode sample: %w", err)
	}
	payload, err = json.Marshal(seriesPayload{Coord: resp.Coord, List: []json.RawMessage{raw}, Mode: plan.Mode})
	return payload, false, err
}

// withMode adds or replaces the top-level "mode" field of a JSON object.
func withMode(body json.RawMessage, mode models.Mode) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("current response is not an object: %w", err)
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	m, err := json.Marshal(mode)
	if err != nil {
		return nil, err
	}
	fields["mode"] = m
	return json.Marshal(fields)
}
