package worker

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/Soberat/GLAD/internal/event"
	"github.com/Soberat/GLAD/pkg/log"
)

// Config holds the tunables of a Worker.
type Config struct {
	// Kind names the instrument family, used for logging only.
	Kind string

	// PollInterval is the initial time between periodic polls.
	PollInterval time.Duration

	// PollPolicy is the unbounded reconnect schedule used by polls.
	PollPolicy Policy

	// TaskPolicy is the reconnect schedule used before a task.
	TaskPolicy Policy

	// TaskReconnectAttempts bounds the connect attempts made for a single task.
	TaskReconnectAttempts int

	// Seed feeds the jitter source. Zero picks a time-based seed.
	Seed uint64

	Clock  clock.Clock
	Bus    *event.Bus
	Logger log.Logger
}

func setDefaultConfig(cfg *Config) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PollPolicy == (Policy{}) {
		cfg.PollPolicy = DefaultPollPolicy()
	}
	if cfg.TaskPolicy == (Policy{}) {
		cfg.TaskPolicy = DefaultTaskPolicy()
	}
	if cfg.TaskReconnectAttempts == 0 {
		cfg.TaskReconnectAttempts = 3
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Std()
	}
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if err := c.PollPolicy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("poll policy: %w", err))
	}
	if err := c.TaskPolicy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("task policy: %w", err))
	}
	if c.TaskReconnectAttempts < 1 {
		errs = append(errs, errors.New("task reconnect attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
