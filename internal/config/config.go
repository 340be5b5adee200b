package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by LoadConfig. Nested
// keys are separated by a double underscore, e.g. ANOMALOG_PIPELINE__THRESHOLD.
const EnvPrefix = "ANOMALOG_"

type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Pipeline      PipelineConfig       `koanf:"pipeline" validate:"required"`
	Model         ModelConfig          `koanf:"model"`
	Explainer     ExplainerConfig      `koanf:"explainer" validate:"required"`
	Database      *DatabaseConfig      `koanf:"database"`
	Storage       *StorageConfig       `koanf:"storage"`
	Observability *ObservabilityConfig `koanf:"observability"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"required"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"required"`
	IdleTimeout        int      `koanf:"idle_timeout" validate:"required"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	MaxBatchSize       int      `koanf:"max_batch_size" validate:"gte=1"`
}

// PipelineConfig carries the options recognized by the scoring pipeline.
type PipelineConfig struct {
	Threshold                 float64 `koanf:"threshold"`
	FeatureSchemaVersion      string  `koanf:"feature_schema_version" validate:"required"`
	ExplanationRetryCount     int     `koanf:"explanation_retry_count" validate:"gte=0,lte=10"`
	ExplanationTimeoutSeconds float64 `koanf:"explanation_timeout_seconds" validate:"gt=0"`
	ExplanationRatePerSecond  float64 `koanf:"explanation_rate_per_second" validate:"gte=0"`
	WorkerPoolSize            int     `koanf:"worker_pool_size" validate:"gte=1"`
	TopFeatures               int     `koanf:"top_features" validate:"gte=1"`
}

func (p PipelineConfig) ExplanationTimeout() time.Duration {
	return time.Duration(p.ExplanationTimeoutSeconds * float64(time.Second))
}

// ModelConfig locates the scoring artifact. Empty means the bundled baseline.
type ModelConfig struct {
	Path      string `koanf:"path"`
	ObjectKey string `koanf:"object_key"`
}

type ExplainerConfig struct {
	Provider  string `koanf:"provider" validate:"oneof=none anthropic"`
	APIKey    string `koanf:"api_key" validate:"required_if=Provider anthropic"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url" validate:"omitempty,url"`
	MaxTokens int64  `koanf:"max_tokens" validate:"gte=0"`
}

type DatabaseConfig struct {
	Host            string `koanf:"host" validate:"required"`
	Port            int    `koanf:"port" validate:"required"`
	User            string `koanf:"user" validate:"required"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name" validate:"required"`
	SSLMode         string `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int    `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int    `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time" validate:"required"`
}

// DSN returns the postgres connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type StorageConfig struct {
	O3 *O3Config `koanf:"o3"`
}

// O3Config points at an S3-compatible bucket (Akave O3).
type O3Config struct {
	Endpoint  string `koanf:"endpoint" validate:"required,url"`
	Bucket    string `koanf:"bucket" validate:"required"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Prefix    string `koanf:"prefix"`
}

// Default returns the configuration used for keys absent from the environment.
func Default() *Config {
	return &Config{
		Primary: Primary{Env: "development"},
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30,
			WriteTimeout: 120,
			IdleTimeout:  60,
			MaxBatchSize: 10000,
		},
		Pipeline: PipelineConfig{
			Threshold:                 0.5,
			FeatureSchemaVersion:      "http-v1",
			ExplanationRetryCount:     2,
			ExplanationTimeoutSeconds: 15,
			WorkerPoolSize:            8,
			TopFeatures:               3,
		},
		Explainer: ExplainerConfig{Provider: "none"},
	}
}

// LoadConfig reads .env (if present) and ANOMALOG_ environment variables over
// the defaults, then validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("could not load env variables: %w", err)
	}

	mainConfig := Default()
	if err := k.Unmarshal("", mainConfig); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(mainConfig); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Observability is a pointer so an absent section can be told apart from
	// an empty one.
	if mainConfig.Observability == nil {
		mainConfig.Observability = DefaultObservabilityConfig()
	}
	mainConfig.Observability.ServiceName = "anomalog"
	mainConfig.Observability.Environment = mainConfig.Primary.Env

	if err := mainConfig.Observability.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}
	return mainConfig, nil
}
