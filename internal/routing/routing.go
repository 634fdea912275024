// Package routing decides which upstream air_pollution endpoint answers a query.
package routing

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/validation"
)

const (
	// CurrentWindow is how close to now a target must be to use the current endpoint.
	// It is also the half-width of the history range.
	CurrentWindow int64 = 3600
	// ForecastHorizon is how far ahead the upstream forecast reaches.
	ForecastHorizon int64 = 5 * 24 * 3600
)

// ErrFutureOutOfRange is returned by NewPlan for targets the forecast cannot cover.
var ErrFutureOutOfRange = errors.New("requested time is beyond the forecast horizon")

// Classify maps a target time to a mode, evaluated as current, then forecast, then history.
// It is total: targets past the forecast horizon also classify as history.
func Classify(target, now int64) models.Mode {
	switch {
	case target > now-CurrentWindow && target < now+CurrentWindow:
		return models.ModeCurrent
	case target > now && target < now+ForecastHorizon:
		return models.ModeForecast
	default:
		return models.ModeHistory
	}
}

// Plan is the upstream request for one query.
type Plan struct {
	Mode   models.Mode
	Lat    float64
	Lon    float64
	Target int64
	// Start and End bound the history range; zero for other modes.
	Start int64
	End   int64
}

// Policy holds the router settings that are not fixed by the upstream.
type Policy struct {
	// RejectBeyondForecast turns far-future targets into ErrFutureOutOfRange instead of
	// routing them to the history endpoint.
	RejectBeyondForecast bool
}

// NewPlan classifies q against now and builds the request parameters for its mode.
// Queries failing validation.ValidateQuery are rejected before any time arithmetic.
func (p Policy) NewPlan(q models.Query, now time.Time) (Plan, error) {
	if err := validation.ValidateQuery(q); err != nil {
		return Plan{}, err
	}
	nowSec := now.Unix()
	mode := Classify(q.TargetTime, nowSec)
	if mode == models.ModeHistory && p.RejectBeyondForecast && q.TargetTime >= nowSec+ForecastHorizon {
		return Plan{}, fmt.Errorf("%w: target %d, horizon ends %d", ErrFutureOutOfRange, q.TargetTime, nowSec+ForecastHorizon)
	}
	plan := Plan{
		Mode:   mode,
		Lat:    q.Latitude,
		Lon:    q.Longitude,
		Target: q.TargetTime,
	}
	if mode == models.ModeHistory {
		plan.Start = q.TargetTime - CurrentWindow
		plan.End = q.TargetTime + CurrentWindow
	}
	return plan, nil
}

// Key identifies plans that would produce the same upstream call and the same payload.
func (p Plan) Key() string {
	return string(p.Mode) + "|" +
		strconv.FormatFloat(p.Lat, 'f', -1, 64) + "|" +
		strconv.FormatFloat(p.Lon, 'f', -1, 64) + "|" +
		strconv.FormatInt(p.Target, 10)
}
