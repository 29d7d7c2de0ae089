package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrjohn/arcana-queue/internal/jobs"
)

// Default returns a starter configuration with a worked example of each
// queue feature.
func Default() *Config {
	return &Config{
		App:       AppConfig{Name: "arcana-queue", Version: "1.0.0", Environment: "development"},
		Log:       LogConfig{Level: "info", Encoding: "console"},
		Worker:    DefaultWorkerConfig(),
		Scheduler: SchedulerConfig{Enabled: true},
		Metrics:   MetricsConfig{Enabled: true, Addr: ":9100", Path: "/metrics"},
		Tracing:   TracingConfig{ServiceName: "arcana-queue", SampleRate: 1.0},
		Queues: []QueueSpec{
			{
				Name:        "default",
				QueueConfig: jobs.DefaultQueueConfig(),
				Handler:     "log",
			},
			{
				Name: "emails",
				QueueConfig: jobs.QueueConfig{
					Policy:          jobs.PolicyPriority,
					MaxSize:         1000,
					MaxRetries:      5,
					RetryDelay:      2 * time.Second,
					Backoff:         jobs.RetryStrategyExponential,
					MaxRetryDelay:   time.Minute,
					Timeout:         30 * time.Second,
					RateLimit:       &jobs.RateLimit{MaxRequests: 10, Window: time.Second},
					DeadLetterQueue: "emails-dead",
				},
				Handler:     "log",
				Concurrency: 4,
			},
			{
				Name:        "emails-dead",
				QueueConfig: jobs.QueueConfig{Policy: jobs.PolicyFIFO, MaxRetries: 0, Timeout: jobs.DefaultTimeout},
				Handler:     "log",
			},
		},
		Schedules: []ScheduleSpec{
			{Name: "heartbeat", Spec: "@every 1m", Queue: "default", Payload: "heartbeat", Singleton: true},
		},
	}
}

// Marshal encodes cfg as YAML
func Marshal(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// WriteDefault writes the starter configuration to path. An existing file
// is left untouched unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	out, err := Marshal(Default())
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
