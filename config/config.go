// Package config loads pipeline configuration from a YAML file with
// environment variable overrides for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ilift/wellstream/errors"
	"github.com/ilift/wellstream/source/jetstream"
	"github.com/ilift/wellstream/source/kafka"
	"github.com/ilift/wellstream/storage"
)

// Source kinds.
const (
	SourceKafka     = "kafka"
	SourceJetStream = "jetstream"
)

// Config holds all pipeline configuration.
type Config struct {
	Source     SourceConfig         `yaml:"source"`
	InfluxDB   storage.InfluxConfig `yaml:"influxdb"`
	Processing ProcessingConfig     `yaml:"processing"`
	Writer     WriterConfig         `yaml:"writer"`
	Metrics    MetricsConfig        `yaml:"metrics"`
	Logging    LoggingConfig        `yaml:"logging"`
}

// SourceConfig selects and configures the streaming input.
type SourceConfig struct {
	Kind      string           `yaml:"kind"` // kafka or jetstream
	Kafka     kafka.Config     `yaml:"kafka"`
	JetStream jetstream.Config `yaml:"jetstream"`
}

// ProcessingConfig controls windowing, anomaly detection, and worker
// concurrency.
type ProcessingConfig struct {
	WindowSize       int           `yaml:"window_size"`
	AnomalyThreshold float64       `yaml:"anomaly_threshold"`
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// WriterConfig controls batching and write retries.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetryLimit    int           `yaml:"retry_limit"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
}

// MetricsConfig controls the observability HTTP server.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Kind: SourceKafka,
			Kafka: kafka.Config{
				Brokers: []string{"localhost:9092"},
				Topic:   "sensor-readings",
				GroupID: "wellstream",
			},
			JetStream: jetstream.Config{
				URL:     "nats://localhost:4222",
				Stream:  "SENSORS",
				Subject: "sensors.readings",
				Durable: "wellstream",
			},
		},
		InfluxDB: storage.InfluxConfig{
			URL:    "http://localhost:8086",
			Org:    "ilift",
			Bucket: "sensor-features",
		},
		Processing: ProcessingConfig{
			WindowSize:       60,
			AnomalyThreshold: 3.0,
			Workers:          4,
			QueueSize:        256,
			ShutdownTimeout:  30 * time.Second,
		},
		Writer: WriterConfig{
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
			RetryLimit:    3,
			BackoffBase:   100 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from path (optional), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.WrapFatal(err, "Config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapFatal(err, "Config", "Load", "parse config file")
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides deploy-time settings from the environment.
// Credentials in particular should come from the environment, not the
// config file.
func applyEnv(cfg *Config) {
	cfg.Source.Kind = getEnv("WELLSTREAM_SOURCE", cfg.Source.Kind)
	cfg.Source.Kafka.Brokers = getEnvStringSlice("KAFKA_BROKERS", cfg.Source.Kafka.Brokers)
	cfg.Source.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Source.Kafka.Topic)
	cfg.Source.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Source.Kafka.GroupID)
	cfg.Source.JetStream.URL = getEnv("NATS_URL", cfg.Source.JetStream.URL)
	cfg.Source.JetStream.Stream = getEnv("NATS_STREAM", cfg.Source.JetStream.Stream)
	cfg.Source.JetStream.Subject = getEnv("NATS_SUBJECT", cfg.Source.JetStream.Subject)

	cfg.InfluxDB.URL = getEnv("INFLUXDB_URL", cfg.InfluxDB.URL)
	cfg.InfluxDB.Token = getEnv("INFLUXDB_TOKEN", cfg.InfluxDB.Token)
	cfg.InfluxDB.Org = getEnv("INFLUXDB_ORG", cfg.InfluxDB.Org)
	cfg.InfluxDB.Bucket = getEnv("INFLUXDB_BUCKET", cfg.InfluxDB.Bucket)

	cfg.Processing.WindowSize = getEnvInt("WELLSTREAM_WINDOW_SIZE", cfg.Processing.WindowSize)
	cfg.Processing.AnomalyThreshold = getEnvFloat("WELLSTREAM_ANOMALY_THRESHOLD", cfg.Processing.AnomalyThreshold)
	cfg.Processing.Workers = getEnvInt("WELLSTREAM_WORKERS", cfg.Processing.Workers)

	cfg.Writer.BatchSize = getEnvInt("WELLSTREAM_BATCH_SIZE", cfg.Writer.BatchSize)
	cfg.Writer.FlushInterval = getEnvDuration("WELLSTREAM_FLUSH_INTERVAL", cfg.Writer.FlushInterval)

	cfg.Metrics.Port = getEnvInt("WELLSTREAM_METRICS_PORT", cfg.Metrics.Port)
	cfg.Logging.Level = getEnv("WELLSTREAM_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("WELLSTREAM_LOG_FORMAT", cfg.Logging.Format)
}

// Validate checks cross-field constraints. Connection-level validation
// (reachability, credentials) is left to the adapters.
func (c Config) Validate() error {
	switch c.Source.Kind {
	case SourceKafka, SourceJetStream:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown source kind %q", c.Source.Kind))
	}

	if c.Processing.WindowSize < 2 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"window_size must be at least 2")
	}
	if c.Processing.AnomalyThreshold <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"anomaly_threshold must be positive")
	}
	if c.Processing.Workers <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"workers must be positive")
	}
	if c.Writer.BatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"batch_size must be positive")
	}
	if c.Writer.FlushInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"flush_interval must be positive")
	}
	if c.Writer.RetryLimit <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_limit must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvStringSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
