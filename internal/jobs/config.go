package jobs

import (
	"strings"
	"time"
)

// Policy decides where a newly added job is inserted
type Policy string

const (
	PolicyFIFO     Policy = "fifo"
	PolicyLIFO     Policy = "lifo"
	PolicyPriority Policy = "priority"
)

// Default queue and worker settings
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
	DefaultTimeout      = 30 * time.Second
	DefaultConcurrency  = 1
	DefaultPollInterval = 100 * time.Millisecond
)

// RateLimit caps dispatches to MaxRequests per fixed Window
type RateLimit struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `json:"window" yaml:"window" mapstructure:"window"`
}

// QueueConfig holds the per-queue settings applied at creation
type QueueConfig struct {
	Policy          Policy        `json:"policy" yaml:"policy" mapstructure:"policy"`
	MaxSize         int           `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // 0 = unbounded
	MaxRetries      int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`
	Backoff         RetryStrategy `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
	MaxRetryDelay   time.Duration `json:"max_retry_delay" yaml:"max_retry_delay" mapstructure:"max_retry_delay"` // caps backoff, even below RetryDelay*N
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`                         // 0 = no timeout
	RateLimit       *RateLimit    `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	DeadLetterQueue string        `json:"dead_letter_queue,omitempty" yaml:"dead_letter_queue,omitempty" mapstructure:"dead_letter_queue"`
}

// DefaultQueueConfig returns a fifo, unbounded queue config
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Policy:     PolicyFIFO,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Backoff:    RetryStrategyLinear,
		Timeout:    DefaultTimeout,
	}
}

// WithDefaults fills zero-valued policy, delay and backoff fields.
// MaxRetries and Timeout are taken as given since zero is meaningful for both.
func (c QueueConfig) WithDefaults() QueueConfig {
	if c.Policy == "" {
		c.Policy = PolicyFIFO
	}
	c.Policy = Policy(strings.ToLower(string(c.Policy)))
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Backoff == "" {
		c.Backoff = RetryStrategyLinear
	}
	return c
}

// Validate checks the configuration
func (c QueueConfig) Validate() error {
	switch c.Policy {
	case PolicyFIFO, PolicyLIFO, PolicyPriority:
	default:
		return ErrInvalidConfig.WithMessagef("unknown queue policy %q", c.Policy)
	}

	switch c.Backoff {
	case "", RetryStrategyLinear, RetryStrategyExponential, RetryStrategyFixed:
	default:
		return ErrInvalidConfig.WithMessagef("unknown backoff strategy %q", c.Backoff)
	}

	if c.MaxSize < 0 {
		return ErrInvalidConfig.WithMessage("max size must not be negative")
	}
	if c.MaxRetries < 0 {
		return ErrInvalidConfig.WithMessage("max retries must not be negative")
	}
	if c.RetryDelay < 0 || c.MaxRetryDelay < 0 || c.Timeout < 0 {
		return ErrInvalidConfig.WithMessage("durations must not be negative")
	}

	if c.RateLimit != nil {
		if c.RateLimit.MaxRequests <= 0 {
			return ErrInvalidConfig.WithMessage("rate limit max requests must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return ErrInvalidConfig.WithMessage("rate limit window must be positive")
		}
	}

	return nil
}
