package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	Export        ExportConfig
	Worker        WorkerConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// RedisConfig holds the two Redis endpoints of the job store: the broker
// queue and the result backend.
type RedisConfig struct {
	BrokerURL        string
	ResultBackendURL string
}

type DatabaseConfig struct {
	Driver   string // memory, json, sqlite or postgres
	URL      string
	TodoFile string
}

type ExportConfig struct {
	Dir       string
	Queue     string
	Retention time.Duration
	Delay     time.Duration
	Source    string // store or demo
}

type WorkerConfig struct {
	Concurrency int
	MetricsPort string
	Embedded    bool
}

type RateLimitConfig struct {
	ExportPerHour int
}

type ObservabilityConfig struct {
	TracingEnabled bool
	ServiceName    string
	OTLPEndpoint   string
}

// Load reads configuration from an optional .env file, an optional
// config.yaml and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	readSecret("DATABASE_URL")
	readSecret("CELERY_BROKER_URL")
	readSecret("CELERY_RESULT_BACKEND")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("server.env", "APP_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.broker_url", "CELERY_BROKER_URL", "BROKER_URL")
	_ = v.BindEnv("redis.result_backend_url", "CELERY_RESULT_BACKEND", "RESULT_BACKEND_URL")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.todo_file", "TODO_FILE")
	_ = v.BindEnv("export.dir", "EXPORT_DIR")
	_ = v.BindEnv("export.queue", "EXPORT_QUEUE")
	_ = v.BindEnv("export.retention", "EXPORT_RETENTION")
	_ = v.BindEnv("export.delay", "EXPORT_DELAY")
	_ = v.BindEnv("export.source", "EXPORT_SOURCE")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.metrics_port", "WORKER_METRICS_PORT")
	_ = v.BindEnv("worker.embedded", "WORKER_EMBEDDED")
	_ = v.BindEnv("ratelimit.export_per_hour", "EXPORT_RATE_LIMIT")
	_ = v.BindEnv("observability.tracing_enabled", "TRACING_ENABLED")
	_ = v.BindEnv("observability.service_name", "OTEL_SERVICE_NAME")
	_ = v.BindEnv("observability.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	v.SetDefault("server.port", "5000")
	v.SetDefault("server.env", "production")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.broker_url", "redis://localhost:6379/0")
	v.SetDefault("redis.result_backend_url", "redis://localhost:6379/1")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.todo_file", "./data/todos.json")
	v.SetDefault("export.dir", "./data/exports")
	v.SetDefault("export.queue", "export")
	v.SetDefault("export.retention", time.Duration(0))
	v.SetDefault("export.delay", time.Duration(0))
	v.SetDefault("export.source", "store")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.metrics_port", "9100")
	v.SetDefault("worker.embedded", false)
	v.SetDefault("ratelimit.export_per_hour", 0)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.service_name", "todo-web")
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4318")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			BrokerURL:        v.GetString("redis.broker_url"),
			ResultBackendURL: v.GetString("redis.result_backend_url"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(v.GetString("database.driver")),
			URL:      v.GetString("database.url"),
			TodoFile: v.GetString("database.todo_file"),
		},
		Export: ExportConfig{
			Dir:       v.GetString("export.dir"),
			Queue:     v.GetString("export.queue"),
			Retention: v.GetDuration("export.retention"),
			Delay:     v.GetDuration("export.delay"),
			Source:    strings.ToLower(v.GetString("export.source")),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			MetricsPort: v.GetString("worker.metrics_port"),
			Embedded:    v.GetBool("worker.embedded"),
		},
		RateLimit: RateLimitConfig{
			ExportPerHour: v.GetInt("ratelimit.export_per_hour"),
		},
		Observability: ObservabilityConfig{
			TracingEnabled: v.GetBool("observability.tracing_enabled"),
			ServiceName:    v.GetString("observability.service_name"),
			OTLPEndpoint:   v.GetString("observability.otlp_endpoint"),
		},
	}

	return cfg, nil
}
