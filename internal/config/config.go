package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jrjohn/arcana-queue/internal/jobs"
)

// DefaultFileName is the config file looked up when none is given
const DefaultFileName = "queued"

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Queues    []QueueSpec     `mapstructure:"queues" yaml:"queues"`
	Schedules []ScheduleSpec  `mapstructure:"schedules" yaml:"schedules"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Version     string `mapstructure:"version" yaml:"version"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Encoding string `mapstructure:"encoding" yaml:"encoding"` // json or console
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// QueueSpec declares a queue created at startup and the handler bound to it
type QueueSpec struct {
	Name             string `mapstructure:"name" yaml:"name"`
	jobs.QueueConfig `mapstructure:",squash" yaml:",inline"`

	Handler      string        `mapstructure:"handler" yaml:"handler"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency,omitempty"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval,omitempty"`
}

// ScheduleSpec declares a recurring enqueue
type ScheduleSpec struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Spec      string `mapstructure:"spec" yaml:"spec"`
	Queue     string `mapstructure:"queue" yaml:"queue"`
	Payload   any    `mapstructure:"payload" yaml:"payload,omitempty"`
	Priority  int    `mapstructure:"priority" yaml:"priority,omitempty"`
	Singleton bool   `mapstructure:"singleton" yaml:"singleton,omitempty"`
}

// IsProduction reports whether the app runs in production
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from file and environment variables into v.
// A nil v gets a fresh viper instance. When v has no config file set the
// usual locations are searched and a missing file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if v.ConfigFileUsed() == "" {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/arcana-queue/")
	}

	v.SetEnvPrefix("ARCANA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "arcana-queue")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")

	// Worker defaults
	w := DefaultWorkerConfig()
	v.SetDefault("worker.concurrency", w.Concurrency)
	v.SetDefault("worker.poll_interval", w.PollInterval)
	v.SetDefault("worker.shutdown_timeout", w.ShutdownTimeout)

	v.SetDefault("scheduler.enabled", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "arcana-queue")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	names := make(map[string]bool, len(c.Queues))
	for i, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("queues[%d]: name is required", i)
		}
		if names[q.Name] {
			return fmt.Errorf("queue %q is declared twice", q.Name)
		}
		names[q.Name] = true

		if err := q.QueueConfig.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("queue %q: %w", q.Name, err)
		}
		if q.Concurrency < 0 || q.PollInterval < 0 {
			return fmt.Errorf("queue %q: concurrency and poll interval must not be negative", q.Name)
		}
	}

	for _, q := range c.Queues {
		if q.DeadLetterQueue == "" {
			continue
		}
		if q.DeadLetterQueue == q.Name {
			return fmt.Errorf("queue %q cannot be its own dead-letter queue", q.Name)
		}
		if !names[q.DeadLetterQueue] {
			return fmt.Errorf("queue %q: dead-letter queue %q is not declared", q.Name, q.DeadLetterQueue)
		}
	}

	schedules := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.Name == "" || s.Spec == "" {
			return fmt.Errorf("schedules[%d]: name and spec are required", i)
		}
		if schedules[s.Name] {
			return fmt.Errorf("schedule %q is declared twice", s.Name)
		}
		schedules[s.Name] = true
		if !names[s.Queue] {
			return fmt.Errorf("schedule %q: queue %q is not declared", s.Name, s.Queue)
		}
	}
	return nil
}

// ProcessSettings returns the binding settings for q, falling back to the
// worker defaults.
func (c *Config) ProcessSettings(q QueueSpec) (int, time.Duration) {
	concurrency := q.Concurrency
	if concurrency == 0 {
		concurrency = c.Worker.Concurrency
	}
	poll := q.PollInterval
	if poll == 0 {
		poll = c.Worker.PollInterval
	}
	return concurrency, poll
}
