package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/air-quality-proxy/internal/geo"
	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/validation"
)

const defaultAPIURL = "https://api.openweathermap.org/data/2.5/air_pollution"

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	OpenWeatherAPIKey  string
	OpenWeatherAPIURL  string
	UpstreamTimeout    time.Duration
	RequestTimeout     time.Duration
	RetryAttempts      int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	ValidateKeyOnStart bool

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	CacheRadiusKm   float64
	CacheTimeWindow time.Duration
	CacheMaxEntries int
	CacheIndex      string // "h3" or "linear"

	CoalesceEnabled      bool
	RejectBeyondForecast bool
	CORSAllowedOrigins   []string

	ShutdownTimeout  time.Duration
	DegradedWindow   time.Duration
	DegradedErrorPct int

	WarmPoints   []geo.Point
	WarmInterval time.Duration // zero warms once at startup
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Upstream struct {
		URL              string `yaml:"url"`
		Timeout          string `yaml:"timeout"`
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		ValidateOnStart  *bool  `yaml:"validate_on_start"`
	} `yaml:"upstream"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Breaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"breaker"`

	Cache struct {
		RadiusKm   float64 `yaml:"radius_km"`
		TimeWindow string  `yaml:"time_window"`
		MaxEntries int     `yaml:"max_entries"`
		Index      string  `yaml:"index"`
	} `yaml:"cache"`

	Coalesce struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"coalesce"`

	Routing struct {
		RejectBeyondForecast *bool `yaml:"reject_beyond_forecast"`
	} `yaml:"routing"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Degraded struct {
		Window   string `yaml:"window"`
		ErrorPct int    `yaml:"error_pct"`
	} `yaml:"degraded"`

	Warm struct {
		Points   []geo.Point `yaml:"points"`
		Interval string      `yaml:"interval"`
	} `yaml:"warm"`
}

type secretsFile struct {
	OpenWeatherAPIKey string `yaml:"openweather_api_key"`
}

// envOverrides are decoded from the environment. Nil fields were not set.
type envOverrides struct {
	APIKey               *string        `envconfig:"OPENWEATHER_API_KEY"`
	APIURL               *string        `envconfig:"OPENWEATHER_API_URL"`
	Port                 *string        `envconfig:"PORT"`
	CacheRadiusKm        *float64       `envconfig:"CACHE_RADIUS_KM"`
	CacheTimeWindow      *time.Duration `envconfig:"CACHE_TIME_WINDOW"`
	CacheMaxEntries      *int           `envconfig:"CACHE_MAX_ENTRIES"`
	CacheIndex           *string        `envconfig:"CACHE_INDEX"`
	CORSAllowedOrigins   []string       `envconfig:"CORS_ALLOWED_ORIGINS"`
	RejectBeyondForecast *bool          `envconfig:"REJECT_BEYOND_FORECAST"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		ServerPort:              "3000",
		OpenWeatherAPIURL:       defaultAPIURL,
		UpstreamTimeout:         10 * time.Second,
		RequestTimeout:          15 * time.Second,
		RetryAttempts:           3,
		RetryBaseDelay:          200 * time.Millisecond,
		RetryMaxDelay:           2 * time.Second,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 2,
		BreakerTimeout:          30 * time.Second,
		CacheRadiusKm:           10,
		CacheTimeWindow:         30 * time.Minute,
		CacheMaxEntries:         500,
		CacheIndex:              "h3",
		CoalesceEnabled:         true,
		RejectBeyondForecast:    true,
		CORSAllowedOrigins:      []string{"*"},
		ShutdownTimeout:         30 * time.Second,
		DegradedWindow:          60 * time.Second,
		DegradedErrorPct:        50,
	}
}

// Load reads .env, config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml from the
// working directory, then applies environment overrides. Call from project root.
// A missing API key is not an error; the service reports it on every upstream-bound request.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := loadDotEnv(cwd); err != nil {
		return nil, err
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Defaults()
	applyFile(cfg, &fc)

	key, err := loadAPIKeyFromSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.OpenWeatherAPIKey = key

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults, an optional .env and the environment only.
// Used where no config directory is deployed.
func FromEnv() (*Config, error) {
	if cwd, err := os.Getwd(); err == nil {
		if err := loadDotEnv(cwd); err != nil {
			return nil, err
		}
	}
	cfg := Defaults()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads dir/.env without overriding variables already set.
func loadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadAPIKeyFromSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.OpenWeatherAPIKey), nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.Server.Port != "" {
		cfg.ServerPort = fc.Server.Port
	}

	if fc.Upstream.URL != "" {
		cfg.OpenWeatherAPIURL = fc.Upstream.URL
	}
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, cfg.UpstreamTimeout)
	if fc.Upstream.RetryMaxAttempts > 0 {
		cfg.RetryAttempts = fc.Upstream.RetryMaxAttempts
	}
	cfg.RetryBaseDelay = parseDuration(fc.Upstream.RetryBaseDelay, cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = parseDuration(fc.Upstream.RetryMaxDelay, cfg.RetryMaxDelay)
	if fc.Upstream.ValidateOnStart != nil {
		cfg.ValidateKeyOnStart = *fc.Upstream.ValidateOnStart
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, cfg.RequestTimeout)

	if fc.Breaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.Breaker.Enabled
	}
	if fc.Breaker.FailureThreshold > 0 {
		cfg.BreakerFailureThreshold = fc.Breaker.FailureThreshold
	}
	if fc.Breaker.SuccessThreshold > 0 {
		cfg.BreakerSuccessThreshold = fc.Breaker.SuccessThreshold
	}
	cfg.BreakerTimeout = parseDuration(fc.Breaker.Timeout, cfg.BreakerTimeout)

	if fc.Cache.RadiusKm != 0 {
		cfg.CacheRadiusKm = fc.Cache.RadiusKm
	}
	cfg.CacheTimeWindow = parseDurationOrZero(fc.Cache.TimeWindow, cfg.CacheTimeWindow)
	if fc.Cache.MaxEntries != 0 {
		cfg.CacheMaxEntries = fc.Cache.MaxEntries
	}
	if idx := strings.TrimSpace(strings.ToLower(fc.Cache.Index)); idx != "" {
		cfg.CacheIndex = idx
	}

	if fc.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Coalesce.Enabled
	}
	if fc.Routing.RejectBeyondForecast != nil {
		cfg.RejectBeyondForecast = *fc.Routing.RejectBeyondForecast
	}
	if len(fc.CORS.AllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = fc.CORS.AllowedOrigins
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, cfg.ShutdownTimeout)
	cfg.DegradedWindow = parseDuration(fc.Degraded.Window, cfg.DegradedWindow)
	if fc.Degraded.ErrorPct > 0 {
		cfg.DegradedErrorPct = fc.Degraded.ErrorPct
	}

	cfg.WarmPoints = fc.Warm.Points
	cfg.WarmInterval = parseDuration(fc.Warm.Interval, 0)
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if env.APIKey != nil {
		cfg.OpenWeatherAPIKey = strings.TrimSpace(*env.APIKey)
	}
	if env.APIURL != nil && *env.APIURL != "" {
		cfg.OpenWeatherAPIURL = *env.APIURL
	}
	if env.Port != nil && *env.Port != "" {
		cfg.ServerPort = *env.Port
	}
	if env.CacheRadiusKm != nil {
		cfg.CacheRadiusKm = *env.CacheRadiusKm
	}
	if env.CacheTimeWindow != nil {
		cfg.CacheTimeWindow = *env.CacheTimeWindow
	}
	if env.CacheMaxEntries != nil {
		cfg.CacheMaxEntries = *env.CacheMaxEntries
	}
	if env.CacheIndex != nil && *env.CacheIndex != "" {
		cfg.CacheIndex = strings.TrimSpace(strings.ToLower(*env.CacheIndex))
	}
	if len(env.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = env.CORSAllowedOrigins
	}
	if env.RejectBeyondForecast != nil {
		cfg.RejectBeyondForecast = *env.RejectBeyondForecast
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised above UpstreamTimeout
// when needed.
func validate(cfg *Config) error {
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.UpstreamTimeout {
		cfg.RequestTimeout = cfg.UpstreamTimeout + time.Second
	}
	if cfg.CacheRadiusKm <= 0 {
		return fmt.Errorf("cache.radius_km must be positive, got %v", cfg.CacheRadiusKm)
	}
	if cfg.CacheTimeWindow <= 0 {
		return fmt.Errorf("cache.time_window must be positive, got %v", cfg.CacheTimeWindow)
	}
	if cfg.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", cfg.CacheMaxEntries)
	}
	switch cfg.CacheIndex {
	case "h3", "linear":
	default:
		return fmt.Errorf("cache.index must be h3 or linear, got %q", cfg.CacheIndex)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("degraded.error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	for _, p := range cfg.WarmPoints {
		if err := validation.ValidateQuery(models.Query{Latitude: p.Lat, Longitude: p.Lon}); err != nil {
			return fmt.Errorf("warm.points: %w", err)
		}
	}
	return nil
}
