// Package config loads the extractor configuration: YAML file, optional .env
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/fudo-extractor/pkg/client"
	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/Sternrassler/fudo-extractor/pkg/logging"
	"github.com/Sternrassler/fudo-extractor/pkg/pagination"
	"github.com/Sternrassler/fudo-extractor/pkg/partition"
	"github.com/Sternrassler/fudo-extractor/pkg/ratelimit"
	"github.com/Sternrassler/fudo-extractor/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Progress backends.
const (
	ProgressObject = "object"
	ProgressRedis  = "redis"
)

// Config is the full extractor configuration.
type Config struct {
	Fudo     FudoConfig           `yaml:"fudo"`
	Storage  StorageConfig        `yaml:"storage"`
	Progress ProgressConfig       `yaml:"progress"`
	Secrets  SecretsConfig        `yaml:"secrets"`
	Extract  ExtractConfig        `yaml:"extract"`
	Datasets []dataset.Descriptor `yaml:"datasets"`
	Logging  LoggingConfig        `yaml:"logging"`
	Metrics  MetricsConfig        `yaml:"metrics"`
	Schedule ScheduleConfig       `yaml:"schedule"`
}

// FudoConfig configures the API client.
type FudoConfig struct {
	APIURL            string            `yaml:"api_url"`
	AuthURL           string            `yaml:"auth_url"`
	UserAgent         string            `yaml:"user_agent"`
	Timeout           time.Duration     `yaml:"timeout"`
	MaxAttempts       int               `yaml:"max_attempts"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	Burst             int               `yaml:"burst"`
	ExtraParams       map[string]string `yaml:"extra_params"`
}

// StorageConfig selects the object store. Options are decoded into the
// backend's option struct.
type StorageConfig struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// ProgressConfig selects where markers live.
type ProgressConfig struct {
	Backend     string `yaml:"backend"`
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// SecretsConfig configures secret resolution. Environment is always consulted first.
type SecretsConfig struct {
	GCPProjectID string `yaml:"gcp_project_id"`
}

// ExtractConfig tunes the runner.
type ExtractConfig struct {
	PageSize                 int    `yaml:"page_size"`
	Timezone                 string `yaml:"timezone"`
	HoldMarkerOnMergeFailure bool   `yaml:"hold_marker_on_merge_failure"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
	ListenAddr     string `yaml:"listen_addr"`
}

// ScheduleConfig configures the schedule command.
type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

// DefaultDatasets are the sales and sale-items extractions.
func DefaultDatasets() []dataset.Descriptor {
	return []dataset.Descriptor{
		{Endpoint: "/sales", Folder: "fact_sales", FileBaseName: "fact_sales", DateField: "attributes.createdAt"},
		{Endpoint: "/items", Folder: "fact_sales_orders", FileBaseName: "fact_sales_orders", DateField: "attributes.createdAt"},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Fudo: FudoConfig{
			APIURL:            client.DefaultAPIURL,
			AuthURL:           client.DefaultAuthURL,
			UserAgent:         "fudo-extractor/1.0",
			Timeout:           30 * time.Second,
			MaxAttempts:       client.DefaultRetryConfig().MaxAttempts,
			RequestsPerSecond: ratelimit.DefaultRequestsPerSecond,
			Burst:             ratelimit.DefaultBurst,
		},
		Storage:  StorageConfig{Type: storage.TypeGCS},
		Progress: ProgressConfig{Backend: ProgressObject},
		Extract: ExtractConfig{
			PageSize: pagination.DefaultPageSize,
			Timezone: partition.DefaultTimezone,
		},
		Datasets: DefaultDatasets(),
		Logging:  LoggingConfig{Level: string(logging.LevelInfo)},
		Metrics:  MetricsConfig{ListenAddr: ":9090"},
	}
}

// Load reads path (optional), loads envFiles (".env" when none are given and it
// exists), applies environment overrides and validates.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	return load(path, os.LookupEnv)
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	option := func(name, key string) {
		if v, ok := lookup(name); ok && v != "" {
			if c.Storage.Options == nil {
				c.Storage.Options = map[string]any{}
			}
			c.Storage.Options[key] = v
		}
	}

	str("FUDO_API_URL", &c.Fudo.APIURL)
	str("FUDO_AUTH_URL", &c.Fudo.AuthURL)
	str("STORAGE_TYPE", &c.Storage.Type)
	str("GCP_PROJECT_ID", &c.Secrets.GCPProjectID)
	str("REDIS_URL", &c.Progress.RedisURL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("PUSHGATEWAY_URL", &c.Metrics.PushgatewayURL)

	if strings.EqualFold(c.Storage.Type, storage.TypeGCS) {
		option("GCS_BUCKET_NAME", "bucket")
		option("GOOGLE_APPLICATION_CREDENTIALS", "credentials_file")
	}

	if v, ok := lookup("LOG_PRETTY"); ok && v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: LOG_PRETTY=%q: %v", ErrInvalid, v, err)
		}
		c.Logging.Pretty = pretty
	}
	return nil
}

// Validate checks the configuration for errors a run would only hit later.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Fudo.APIURL == "" {
		add("fudo.api_url is required")
	}
	if c.Fudo.AuthURL == "" {
		add("fudo.auth_url is required")
	}
	if c.Fudo.MaxAttempts < 1 {
		add("fudo.max_attempts must be at least 1")
	}
	if c.Extract.PageSize < 1 {
		add("extract.page_size must be positive")
	}
	if _, err := partition.LoadLocation(c.Extract.Timezone); err != nil {
		add("extract.timezone: %v", err)
	}
	if err := logging.ValidLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	if _, err := c.StorageOptions(); err != nil {
		add("storage: %v", err)
	}

	switch c.Progress.Backend {
	case ProgressObject:
	case ProgressRedis:
		if c.Progress.RedisURL == "" {
			add("progress.redis_url is required for the redis backend")
		}
	default:
		add("progress.backend %q is not one of object, redis", c.Progress.Backend)
	}

	if len(c.Datasets) == 0 {
		add("at least one dataset is required")
	}
	seen := make(map[string]bool, len(c.Datasets))
	for _, ds := range c.Datasets {
		if err := ds.Validate(); err != nil {
			add("%v", err)
			continue
		}
		if seen[ds.MarkerKey()] {
			add("dataset %q: duplicate folder/filename", ds.Endpoint)
		}
		seen[ds.MarkerKey()] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// StorageOptions decodes Storage.Options into the option block for Storage.Type.
func (c *Config) StorageOptions() (storage.Options, error) {
	opts := storage.Options{Type: strings.ToLower(c.Storage.Type)}

	var target any
	switch opts.Type {
	case storage.TypeGCS:
		target = &opts.GCS
	case storage.TypeS3:
		target = &opts.S3
	case storage.TypeAzure:
		target = &opts.Azure
	case storage.TypeFS:
		target = &opts.FS
	case storage.TypeMem:
		return opts, nil
	default:
		return opts, fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if err := decodeOptions(c.Storage.Options, target); err != nil {
		return opts, err
	}
	return opts, nil
}

func decodeOptions(input map[string]any, target any) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "yaml",
	})
	if err != nil {
		return fmt.Errorf("create options decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode storage options: %w", err)
	}
	return nil
}

// ClientConfig converts the fudo section into a client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.APIURL = c.Fudo.APIURL
	cfg.AuthURL = c.Fudo.AuthURL
	if c.Fudo.UserAgent != "" {
		cfg.UserAgent = c.Fudo.UserAgent
	}
	if c.Fudo.Timeout > 0 {
		cfg.Timeout = c.Fudo.Timeout
	}
	cfg.Retry.MaxAttempts = c.Fudo.MaxAttempts
	cfg.RequestsPerSecond = c.Fudo.RequestsPerSecond
	cfg.Burst = c.Fudo.Burst
	if len(c.Fudo.ExtraParams) > 0 {
		cfg.ExtraParams = url.Values{}
		for k, v := range c.Fudo.ExtraParams {
			cfg.ExtraParams.Set(k, v)
		}
	}
	return cfg
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.Level(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
