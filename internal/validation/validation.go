package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/air-quality-proxy/internal/models"
)

// ErrInvalidQuery is the parent of every query validation error. Handlers map it to 400.
var ErrInvalidQuery = errors.New("invalid query")

// ErrMissingCoordinates is returned when lat or lon is absent or blank.
var ErrMissingCoordinates = fmt.Errorf("%w: missing lat/lon parameters", ErrInvalidQuery)

// ErrInvalidCoordinates is returned when lat or lon is not a finite number in range.
var ErrInvalidCoordinates = fmt.Errorf("%w: invalid lat/lon parameters", ErrInvalidQuery)

// ErrInvalidTime is returned when time is present but not an integer Unix timestamp
// within ±MaxAbsTime.
var ErrInvalidTime = fmt.Errorf("%w: invalid time parameter", ErrInvalidQuery)

// MaxAbsTime bounds target times (about ±3170 years around the epoch) so time
// arithmetic downstream never overflows.
const MaxAbsTime int64 = 1e11

// ParseQuery builds a Query from raw request parameters. An empty timeRaw means now.
// Coordinates are checked before time so a request missing both reports the coordinates.
func ParseQuery(latRaw, lonRaw, timeRaw string, now time.Time) (models.Query, error) {
	latRaw, lonRaw, timeRaw = strings.TrimSpace(latRaw), strings.TrimSpace(lonRaw), strings.TrimSpace(timeRaw)
	if latRaw == "" || lonRaw == "" {
		return models.Query{}, ErrMissingCoordinates
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return models.Query{}, fmt.Errorf("%w: lat %q", ErrInvalidCoordinates, latRaw)
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return models.Query{}, fmt.Errorf("%w: lon %q", ErrInvalidCoordinates, lonRaw)
	}

	target := now.Unix()
	if timeRaw != "" {
		target, err = strconv.ParseInt(timeRaw, 10, 64)
		if err != nil {
			return models.Query{}, fmt.Errorf("%w: %q", ErrInvalidTime, timeRaw)
		}
	}

	q := models.Query{Latitude: lat, Longitude: lon, TargetTime: target}
	if err := ValidateQuery(q); err != nil {
		return models.Query{}, err
	}
	return q, nil
}

// ValidateQuery checks that the coordinates are finite and within [-90,90] x [-180,180]
// and that the target time is within ±MaxAbsTime.
func ValidateQuery(q models.Query) error {
	if !inRange(q.Latitude, 90) {
		return fmt.Errorf("%w: lat %v out of range", ErrInvalidCoordinates, q.Latitude)
	}
	if !inRange(q.Longitude, 180) {
		return fmt.Errorf("%w: lon %v out of range", ErrInvalidCoordinates, q.Longitude)
	}
	if q.TargetTime > MaxAbsTime || q.TargetTime < -MaxAbsTime {
		return fmt.Errorf("%w: %d out of range", ErrInvalidTime, q.TargetTime)
	}
	return nil
}

// inRange rejects NaN and infinities as well as values beyond ±limit.
func inRange(v, limit float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= -limit && v <= limit
}
