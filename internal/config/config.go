// Package config defines the Brewcast configuration. It is loaded once at
// process start and never modified afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
package config

import (
	"time"

	"brewcast/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Registry modes.
const (
	RegistryModeBean   = "bean"
	RegistryModeStatic = "static"
)

// Model store backends.
const (
	ModelStoreFS = "fs"
	ModelStoreS3 = "s3"
)

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"brewcast-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Database DatabaseConfig
	Model    ModelConfig
	Weather  WeatherConfig
	Cache    CacheConfig
	AWS      AWSConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8081"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds the backing store connection and pool tuning.
// The URL scheme selects the driver: postgres:// uses pgx, mysql:// uses gorm.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"gte=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// ModelConfig controls training and persistence of regressors.
type ModelConfig struct {
	Store        string `envconfig:"MODEL_STORE" default:"fs" validate:"oneof=fs s3"`
	Dir          string `envconfig:"MODEL_DIR" default:"model"`
	Bucket       string `envconfig:"MODEL_BUCKET" validate:"required_if=Store s3"`
	Prefix       string `envconfig:"MODEL_PREFIX" default:"models/"`
	RegistryMode string `envconfig:"REGISTRY_MODE" default:"bean" validate:"oneof=bean static"`
	StaticKey    string `envconfig:"STATIC_MODEL_KEY" default:"global"`

	MinTrainingSamples int     `envconfig:"MIN_TRAINING_SAMPLES" default:"10" validate:"gte=2"`
	NTrees             int     `envconfig:"N_ESTIMATORS" default:"100" validate:"gte=1,lte=1000"`
	Seed               uint64  `envconfig:"RANDOM_SEED" default:"42"`
	TestFraction       float64 `envconfig:"TEST_FRACTION" default:"0.2" validate:"gte=0,lt=1"`

	AllowOnDemandTraining bool `envconfig:"ALLOW_ON_DEMAND_TRAINING" default:"true"`
	WriteImportancePlot   bool `envconfig:"WRITE_IMPORTANCE_PLOT" default:"true"`
	BatchConcurrency      int  `envconfig:"BATCH_CONCURRENCY" default:"4" validate:"gte=1,lte=64"`
}

// WeatherConfig configures the current-weather lookup.
// An empty APIKey disables the upstream call and always yields the fallback.
type WeatherConfig struct {
	APIKey       SecretString  `envconfig:"OPENWEATHER_API_KEY"`
	BaseURL      string        `envconfig:"OPENWEATHER_BASE_URL" default:"http://api.openweathermap.org/data/2.5" validate:"url"`
	Latitude     float64       `envconfig:"WEATHER_LAT" default:"35.0116" validate:"gte=-90,lte=90"`
	Longitude    float64       `envconfig:"WEATHER_LON" default:"135.7681" validate:"gte=-180,lte=180"`
	LocationName string        `envconfig:"WEATHER_LOCATION_NAME" default:"Kyoto"`
	Timeout      time.Duration `envconfig:"WEATHER_TIMEOUT" default:"5s"`
}

// CacheConfig configures the optional Redis cache. An empty URL disables it.
type CacheConfig struct {
	RedisURL   SecretString  `envconfig:"REDIS_URL"`
	WeatherTTL time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"10m"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-northeast-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BuildInfo identifies the running binary. Populated from the
// -X brewcast/internal/config.{version,commit,buildTime} linker flags.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func buildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
