package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration shared by the api and worker processes.
type Config struct {
	DBDriver string `yaml:"db_driver"` // postgres | sqlite
	DBURL    string `yaml:"db_url"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	HTTPAddr  string `yaml:"http_addr"`
	QueueName string `yaml:"queue_name"`

	WorkerConcurrency int               `yaml:"worker_concurrency"`
	MaxRetries        int               `yaml:"max_retries"`
	RetryBaseDelay    time.Duration     `yaml:"retry_base_delay"`
	ProcessingTimeout time.Duration     `yaml:"processing_timeout"`
	DispatchTimeout   time.Duration     `yaml:"dispatch_timeout"`
	SweepInterval     time.Duration     `yaml:"sweep_interval"`
	SweepGrace        time.Duration     `yaml:"sweep_grace"`
	PublishChannel    string            `yaml:"publish_channel"`
	LogLevel          string            `yaml:"log_level"`
	OTLPEndpoint      string            `yaml:"otlp_endpoint"`
	APIKeysRaw        string            `yaml:"api_keys"`
	APIKeys           map[string]string `yaml:"-"` // apiKey -> tenantID
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		DBDriver:          "postgres",
		RedisAddr:         "localhost:6379",
		HTTPAddr:          ":8080",
		QueueName:         "events",
		WorkerConcurrency: 10,
		MaxRetries:        3,
		RetryBaseDelay:    time.Second,
		ProcessingTimeout: 30 * time.Minute,
		DispatchTimeout:   2 * time.Second,
		SweepInterval:     5 * time.Minute,
		SweepGrace:        10 * time.Minute,
		PublishChannel:    "events:processed",
		LogLevel:          "info",
	}
}

// Load reads configuration: defaults, then the optional YAML file named by
// CONFIG_FILE, then environment variables.
// API_KEYS format: "tenant1:key1,tenant2:key2"
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.DBURL == "" {
		return Config{}, errors.New("DB_URL required")
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return Config{}, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DBDriver)
	}
	if cfg.MaxRetries < 0 {
		return Config{}, errors.New("EVENT_MAX_RETRIES must be >= 0")
	}

	keys, err := parseAPIKeys(cfg.APIKeysRaw)
	if err != nil {
		return Config{}, err
	}
	// Local dev fallback so the service runs out-of-the-box.
	if len(keys) == 0 {
		keys["tenant-key-123"] = "tenant1"
	}
	cfg.APIKeys = keys

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	str("DB_DRIVER", &cfg.DBDriver)
	str("DB_URL", &cfg.DBURL)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("QUEUE_NAME", &cfg.QueueName)
	str("PUBLISH_CHANNEL", &cfg.PublishChannel)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	str("API_KEYS", &cfg.APIKeysRaw)

	ints := []struct {
		name string
		dst  *int
	}{
		{"REDIS_DB", &cfg.RedisDB},
		{"WORKER_CONCURRENCY", &cfg.WorkerConcurrency},
		{"EVENT_MAX_RETRIES", &cfg.MaxRetries},
	}
	for _, e := range ints {
		v := strings.TrimSpace(os.Getenv(e.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", e.name, err)
		}
		*e.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"EVENT_RETRY_BASE_DELAY", &cfg.RetryBaseDelay},
		{"EVENT_PROCESSING_TIMEOUT", &cfg.ProcessingTimeout},
		{"DISPATCH_TIMEOUT", &cfg.DispatchTimeout},
		{"SWEEP_INTERVAL", &cfg.SweepInterval},
		{"SWEEP_GRACE", &cfg.SweepGrace},
	}
	for _, e := range durations {
		v := strings.TrimSpace(os.Getenv(e.name))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s must be a duration like 30s: %w", e.name, err)
		}
		*e.dst = d
	}
	return nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apiKeys, nil
	}

	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "tenant:key,tenant:key"`)
		}
		tenant := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if tenant == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "tenant:key,tenant:key"`)
		}
		apiKeys[key] = tenant
	}
	return apiKeys, nil
}
