package config

import "time"

// WorkerConfig holds the defaults for queue bindings
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SchedulerConfig holds scheduler-specific configuration
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultWorkerConfig returns default worker configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:     1,
		PollInterval:    100 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
	}
}
