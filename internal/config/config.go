package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the incident service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Lock    LockConfig    `yaml:"lock"`
	NATS    NATSConfig    `yaml:"nats"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the gRPC, REST and metrics listeners.
type ServerConfig struct {
	GRPCAddress     string        `yaml:"grpcAddress"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	HealthInterval  time.Duration `yaml:"healthInterval"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// StorageConfig selects and tunes the event/incident store.
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// EngineConfig holds detection and correlation thresholds.
type EngineConfig struct {
	ErrorThreshold        int           `yaml:"errorThreshold"`
	HighSeverityThreshold int           `yaml:"highSeverityThreshold"`
	DetectionWindow       time.Duration `yaml:"detectionWindow"`
	CorrelationWindow     time.Duration `yaml:"correlationWindow"`
	MessageGroupLength    int           `yaml:"messageGroupLength"`
	RequestIndexSize      int           `yaml:"requestIndexSize"`
}

// LockConfig selects the keyed lock guarding incident detection.
type LockConfig struct {
	Backend        string        `yaml:"backend"`
	Addr           string        `yaml:"addr"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	TLS            bool          `yaml:"tls"`
	TTL            time.Duration `yaml:"ttl"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	RetryInterval  time.Duration `yaml:"retryInterval"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
}

// NATSConfig controls the streaming ingest subscriber.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	LockLocal      = "local"
	LockValkey     = "valkey"
)

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("BLACKBOX_CONFIG")
	}

	cfg := defaultConfig()

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

// Default returns the built-in configuration.
func Default() Config { return defaultConfig() }

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			GRPCAddress:     ":50051",
			HTTPAddress:     ":8000",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			HealthInterval:  15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Storage: StorageConfig{
			Driver:          DriverMemory,
			MaxOpenConns:    25,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Engine: EngineConfig{
			ErrorThreshold:        5,
			HighSeverityThreshold: 10,
			DetectionWindow:       3 * time.Minute,
			CorrelationWindow:     10 * time.Minute,
			MessageGroupLength:    100,
			RequestIndexSize:      4096,
		},
		Lock: LockConfig{
			Backend:        LockLocal,
			TTL:            5 * time.Second,
			DialTimeout:    2 * time.Second,
			ReadTimeout:    500 * time.Millisecond,
			WriteTimeout:   500 * time.Millisecond,
			MaxRetries:     2,
			RetryInterval:  20 * time.Millisecond,
			AcquireTimeout: 3 * time.Second,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "blackbox.events",
			Queue:   "blackbox-ingest",
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Validate rejects settings the engine or stores cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Lock.Backend {
	case LockLocal:
	case LockValkey:
		if c.Lock.Addr == "" {
			errs = append(errs, errors.New("lock.addr is required for the valkey backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock.backend %q", c.Lock.Backend))
	}
	if c.Engine.ErrorThreshold <= 0 {
		errs = append(errs, errors.New("engine.errorThreshold must be positive"))
	}
	if c.Engine.HighSeverityThreshold <= 0 {
		errs = append(errs, errors.New("engine.highSeverityThreshold must be positive"))
	}
	if c.Engine.DetectionWindow <= 0 {
		errs = append(errs, errors.New("engine.detectionWindow must be positive"))
	}
	if c.Engine.CorrelationWindow <= 0 {
		errs = append(errs, errors.New("engine.correlationWindow must be positive"))
	}
	if c.Engine.MessageGroupLength <= 0 {
		errs = append(errs, errors.New("engine.messageGroupLength must be positive"))
	}
	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Subject == "") {
		errs = append(errs, errors.New("nats.url and nats.subject are required when nats is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.GRPCAddress, "BLACKBOX_GRPC_ADDRESS")
	setString(&cfg.Server.HTTPAddress, "BLACKBOX_HTTP_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "BLACKBOX_METRICS_ADDRESS")
	setDuration(&cfg.Server.GracefulTimeout, "BLACKBOX_GRACEFUL_TIMEOUT")
	setDuration(&cfg.Server.HealthInterval, "BLACKBOX_HEALTH_INTERVAL")
	if v := os.Getenv("BLACKBOX_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	setString(&cfg.Storage.Driver, "BLACKBOX_STORAGE_DRIVER")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
		if os.Getenv("BLACKBOX_STORAGE_DRIVER") == "" {
			cfg.Storage.Driver = DriverPostgres
		}
	}
	setString(&cfg.Storage.DSN, "BLACKBOX_STORAGE_DSN")
	setInt(&cfg.Storage.MaxOpenConns, "BLACKBOX_STORAGE_MAX_OPEN_CONNS")
	setBool(&cfg.Storage.Migrate, "BLACKBOX_STORAGE_MIGRATE")

	setInt(&cfg.Engine.ErrorThreshold, "BLACKBOX_ERROR_THRESHOLD")
	setInt(&cfg.Engine.HighSeverityThreshold, "BLACKBOX_HIGH_SEVERITY_THRESHOLD")
	setDuration(&cfg.Engine.DetectionWindow, "BLACKBOX_DETECTION_WINDOW")
	setDuration(&cfg.Engine.CorrelationWindow, "BLACKBOX_CORRELATION_WINDOW")
	setInt(&cfg.Engine.MessageGroupLength, "BLACKBOX_MESSAGE_GROUP_LENGTH")
	setInt(&cfg.Engine.RequestIndexSize, "BLACKBOX_REQUEST_INDEX_SIZE")

	setString(&cfg.Lock.Backend, "BLACKBOX_LOCK_BACKEND")
	setString(&cfg.Lock.Addr, "BLACKBOX_LOCK_ADDR")
	setString(&cfg.Lock.Username, "BLACKBOX_LOCK_USERNAME")
	setString(&cfg.Lock.Password, "BLACKBOX_LOCK_PASSWORD")
	setInt(&cfg.Lock.DB, "BLACKBOX_LOCK_DB")
	setBool(&cfg.Lock.TLS, "BLACKBOX_LOCK_TLS")
	setDuration(&cfg.Lock.TTL, "BLACKBOX_LOCK_TTL")

	setBool(&cfg.NATS.Enabled, "BLACKBOX_NATS_ENABLED")
	setString(&cfg.NATS.URL, "BLACKBOX_NATS_URL")
	setString(&cfg.NATS.Subject, "BLACKBOX_NATS_SUBJECT")
	setString(&cfg.NATS.Queue, "BLACKBOX_NATS_QUEUE")

	setString(&cfg.Logging.Level, "BLACKBOX_LOG_LEVEL")
	if v := os.Getenv("BLACKBOX_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
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
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
