//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-proxy/internal/cache"
	"github.com/kjstillabower/air-quality-proxy/internal/client"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
	"github.com/kjstillabower/air-quality-proxy/internal/routing"
	"github.com/kjstillabower/air-quality-proxy/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey     string
	APIURL     string
	CacheIndex cache.Index
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if OPENWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("OPENWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("OPENWEATHER_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultAPIURL
	}

	index := cache.Index(os.Getenv("INTEGRATION_CACHE_INDEX"))
	if index == "" {
		index = cache.IndexH3
	}

	return IntegrationTestConfig{
		APIKey:     apiKey,
		APIURL:     apiURL,
		CacheIndex: index,
	}
}

// SetupIntegrationService wires a real client, cache and service against the live API.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.AirQualityService, *cache.SpatioTemporalCache) {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	upstream := SetupIntegrationClient(t, cfg)

	c, err := cache.New(cache.Options{Index: cfg.CacheIndex})
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}

	svc := service.NewAirQualityService(upstream, c, routing.Policy{}, logger.With(zap.String("test", t.Name())), true)
	return svc, c
}

// SetupIntegrationClient creates an OpenWeather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}
