package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable consulted when no config path is given.
const EnvConfigPath = "INCIDENT_CONFIG"

// Config captures every setting required to boot the incident engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Rules         RulesConfig         `yaml:"rules"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Store         StoreConfig         `yaml:"store"`
	Cache         CacheConfig         `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
	Reflection      bool          `yaml:"reflection"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

// WorkflowConfig tunes the decision thresholds and executor safeguards.
type WorkflowConfig struct {
	ConfidenceThreshold float64 `yaml:"confidenceThreshold" validate:"gte=0,lte=1"`
	MaxRetries          int     `yaml:"maxRetries" validate:"gte=0"`
	MaxParallel         int     `yaml:"maxParallel" validate:"gte=1"`
	MaxSteps            int     `yaml:"maxSteps" validate:"gte=1"`
	OnFieldConflict     string  `yaml:"onFieldConflict" validate:"oneof=fail log"`
}

// RulesConfig points at the root cause rule pack. Empty uses the embedded pack.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// KnowledgeConfig points at the historical incident base. Empty uses the
// embedded base.
type KnowledgeConfig struct {
	Path string `yaml:"path"`
}

// NotificationsConfig controls delivery of workflow events.
type NotificationsConfig struct {
	Enabled       bool       `yaml:"enabled"`
	Async         bool       `yaml:"async"`
	RatePerSecond float64    `yaml:"ratePerSecond" validate:"gte=0"`
	Burst         int        `yaml:"burst" validate:"gte=0"`
	SMTP          SMTPConfig `yaml:"smtp"`
}

// SMTPConfig configures mail delivery. Mail is sent only when Host is set.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port" validate:"gte=0,lte=65535"`
	From     string        `yaml:"from" validate:"omitempty,email"`
	Password string        `yaml:"password"`
	To       []string      `yaml:"to" validate:"dive,email"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// StoreConfig selects where finished incidents are persisted.
type StoreConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite"`
	Path        string `yaml:"path" validate:"required_if=Driver sqlite"`
	MemoryLimit int    `yaml:"memoryLimit" validate:"gte=0"`
}

// CacheConfig controls the record cache and alert deduplication.
type CacheConfig struct {
	Backend      string        `yaml:"backend" validate:"oneof=none memory valkey"`
	RecordTTL    time.Duration `yaml:"recordTTL" validate:"gte=0"`
	DedupWindow  time.Duration `yaml:"dedupWindow" validate:"gte=0"`
	Addr         string        `yaml:"addr" validate:"required_if=Backend valkey"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries" validate:"gte=0"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment
// overrides, then validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			Reflection:      true,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Workflow: WorkflowConfig{
			ConfidenceThreshold: 0.8,
			MaxRetries:          3,
			MaxParallel:         3,
			MaxSteps:            25,
			OnFieldConflict:     "fail",
		},
		Notifications: NotificationsConfig{
			Enabled:       true,
			Async:         true,
			RatePerSecond: 10,
			Burst:         20,
			SMTP:          SMTPConfig{Port: 587, Timeout: 10 * time.Second},
		},
		Store: StoreConfig{Driver: "memory", MemoryLimit: 1000},
		Cache: CacheConfig{
			Backend:      "memory",
			RecordTTL:    5 * time.Minute,
			DedupWindow:  2 * time.Minute,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Address, "INCIDENT_SERVER_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "INCIDENT_METRICS_ADDRESS")
	setDuration(&cfg.Server.GracefulTimeout, "INCIDENT_GRACEFUL_TIMEOUT")
	setBool(&cfg.Server.Reflection, "INCIDENT_REFLECTION")

	setString(&cfg.Logging.Level, "INCIDENT_LOG_LEVEL")
	if v := os.Getenv("INCIDENT_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}

	setFloat(&cfg.Workflow.ConfidenceThreshold, "INCIDENT_CONFIDENCE_THRESHOLD")
	setInt(&cfg.Workflow.MaxRetries, "INCIDENT_MAX_RETRIES")
	setInt(&cfg.Workflow.MaxParallel, "INCIDENT_MAX_PARALLEL")
	setInt(&cfg.Workflow.MaxSteps, "INCIDENT_MAX_STEPS")
	setString(&cfg.Workflow.OnFieldConflict, "INCIDENT_ON_FIELD_CONFLICT")

	setString(&cfg.Rules.Path, "INCIDENT_RULES_PATH")
	setString(&cfg.Knowledge.Path, "INCIDENT_KNOWLEDGE_PATH")

	setBool(&cfg.Notifications.Enabled, "INCIDENT_NOTIFICATIONS_ENABLED")
	setBool(&cfg.Notifications.Async, "INCIDENT_NOTIFICATIONS_ASYNC")
	setString(&cfg.Notifications.SMTP.Host, "INCIDENT_SMTP_HOST")
	setInt(&cfg.Notifications.SMTP.Port, "INCIDENT_SMTP_PORT")
	setString(&cfg.Notifications.SMTP.From, "INCIDENT_SMTP_FROM")
	setString(&cfg.Notifications.SMTP.Password, "INCIDENT_SMTP_PASSWORD")
	if v := os.Getenv("INCIDENT_SMTP_TO"); v != "" {
		cfg.Notifications.SMTP.To = splitList(v)
	}

	setString(&cfg.Store.Driver, "INCIDENT_STORE_DRIVER")
	setString(&cfg.Store.Path, "INCIDENT_STORE_PATH")

	setString(&cfg.Cache.Backend, "INCIDENT_CACHE_BACKEND")
	setString(&cfg.Cache.Addr, "INCIDENT_CACHE_ADDR")
	setString(&cfg.Cache.Username, "INCIDENT_CACHE_USERNAME")
	setString(&cfg.Cache.Password, "INCIDENT_CACHE_PASSWORD")
	setInt(&cfg.Cache.DB, "INCIDENT_CACHE_DB")
	setBool(&cfg.Cache.TLS, "INCIDENT_CACHE_TLS")
	setDuration(&cfg.Cache.DedupWindow, "INCIDENT_DEDUP_WINDOW")
	setDuration(&cfg.Cache.RecordTTL, "INCIDENT_CACHE_RECORD_TTL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
