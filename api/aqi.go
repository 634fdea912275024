// Package handler is the serverless entry point for GET /api/aqi. Each warm instance keeps
// its own cache for as long as the platform keeps it alive.
package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-proxy/internal/app"
	"github.com/kjstillabower/air-quality-proxy/internal/config"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
)

var (
	initOnce sync.Once
	instance *app.App
	initErr  error
)

func setup() {
	logger, err := observability.NewLogger()
	if err != nil {
		initErr = err
		return
	}
	cfg, err := config.FromEnv()
	if err != nil {
		initErr = err
		return
	}
	if cfg.OpenWeatherAPIKey == "" {
		logger.Warn("OPENWEATHER_API_KEY not set")
	}
	instance, initErr = app.New(cfg, logger)
	if initErr != nil {
		logger.Error("init failed", zap.Error(initErr))
	}
}

// Handler serves one invocation.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(setup)
	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": initErr.Error()})
		return
	}
	instance.Handler().ServeHTTP(w, r)
}
