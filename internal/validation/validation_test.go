package validation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kjstillabower/air-quality-proxy/internal/models"
)

var testNow = time.Unix(1700000000, 0)

func TestParseQuery_Valid(t *testing.T) {
	tests := []struct {
		name              string
		lat, lon, timeRaw string
		want              models.Query
	}{
		{"explicit time", "13.1036", "80.2909", "1700000500", models.Query{Latitude: 13.1036, Longitude: 80.2909, TargetTime: 1700000500}},
		{"time defaults to now", "13.1036", "80.2909", "", models.Query{Latitude: 13.1036, Longitude: 80.2909, TargetTime: 1700000000}},
		{"whitespace trimmed", " -33.86 ", " 151.2 ", " 1699990000 ", models.Query{Latitude: -33.86, Longitude: 151.2, TargetTime: 1699990000}},
		{"bounds inclusive", "-90", "180", "0", models.Query{Latitude: -90, Longitude: 180, TargetTime: 0}},
		{"negative time", "0", "-180", "-3600", models.Query{Latitude: 0, Longitude: -180, TargetTime: -3600}},
		{"time at range limit", "0", "0", "-100000000000", models.Query{TargetTime: -MaxAbsTime}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseQuery(tc.lat, tc.lon, tc.timeRaw, testNow)
			if err != nil {
				t.Fatalf("ParseQuery() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseQuery() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseQuery_Errors(t *testing.T) {
	tests := []struct {
		name              string
		lat, lon, timeRaw string
		want              error
	}{
		{"missing lat", "", "80.2", "", ErrMissingCoordinates},
		{"missing lon", "13", "", "", ErrMissingCoordinates},
		{"blank lat", "   ", "80.2", "", ErrMissingCoordinates},
		{"missing both and bad time", "", "", "abc", ErrMissingCoordinates},
		{"non numeric lat", "north", "80.2", "", ErrInvalidCoordinates},
		{"non numeric lon", "13", "80,2", "", ErrInvalidCoordinates},
		{"lat out of range", "90.0001", "0", "", ErrInvalidCoordinates},
		{"lon out of range", "0", "-180.5", "", ErrInvalidCoordinates},
		{"nan lat", "NaN", "0", "", ErrInvalidCoordinates},
		{"inf lon", "0", "Inf", "", ErrInvalidCoordinates},
		{"fractional time", "13", "80", "1700000000.5", ErrInvalidTime},
		{"word time", "13", "80", "now", ErrInvalidTime},
		{"time beyond range", "13", "80", "100000000001", ErrInvalidTime},
		{"min int64 time", "13", "80", "-9223372036854775808", ErrInvalidTime},
		{"time overflows int64", "13", "80", "9223372036854775808", ErrInvalidTime},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseQuery(tc.lat, tc.lon, tc.timeRaw, testNow)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("error = %v, want it to wrap ErrInvalidQuery", err)
			}
		})
	}
}

func TestValidateQuery(t *testing.T) {
	if err := ValidateQuery(models.Query{Latitude: 13, Longitude: 80}); err != nil {
		t.Errorf("ValidateQuery(valid) error = %v", err)
	}
	if err := ValidateQuery(models.Query{Latitude: math.Inf(-1), Longitude: 0}); !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("ValidateQuery(-Inf lat) error = %v, want ErrInvalidCoordinates", err)
	}
	if err := ValidateQuery(models.Query{Latitude: 13, Longitude: 80, TargetTime: math.MinInt64}); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("ValidateQuery(MinInt64 time) error = %v, want ErrInvalidTime", err)
	}
}
