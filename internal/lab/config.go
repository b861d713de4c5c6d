package lab

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/Soberat/GLAD/internal/instrument"
	"github.com/Soberat/GLAD/internal/profile"
	"github.com/Soberat/GLAD/pkg/log"
	"github.com/Soberat/GLAD/pkg/options"
)

// DeviceConfig describes one configured instrument.
type DeviceConfig struct {
	ID        string        `json:"id" mapstructure:"id"`
	Kind      string        `json:"kind" mapstructure:"kind"`
	Simulated bool          `json:"simulated" mapstructure:"simulated"`
	Latency   time.Duration `json:"latency" mapstructure:"latency"`

	// PollInterval overrides the worker default when set.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// Bounds overrides the setpoint range of a profiled instrument.
	Bounds *profile.Bounds `json:"bounds,omitempty" mapstructure:"bounds"`
}

// Validate checks one entry without constructing it.
func (d DeviceConfig) Validate() error {
	var errs []error
	if d.Kind == "" {
		errs = append(errs, errors.New("kind is required"))
	}
	if d.Latency < 0 {
		errs = append(errs, errors.New("latency must not be negative"))
	}
	if d.PollInterval < 0 {
		errs = append(errs, errors.New("poll-interval must not be negative"))
	}
	if d.Bounds != nil {
		if err := d.Bounds.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("device %q: %w", d.ID, err)
	}
	return nil
}

// Config holds everything needed to build a Lab.
type Config struct {
	HttpOptions     *options.HttpOptions
	MqttOptions     *options.MqttOptions
	WorkerOptions   *options.WorkerOptions
	RecorderOptions *options.RecorderOptions

	Devices []DeviceConfig

	// Clock drives workers, sequencers and simulations. Defaults to the real clock.
	Clock  clock.WithDelayedExecution
	Logger log.Logger
}

func setDefaultConfig(cfg *Config) {
	if cfg.HttpOptions == nil {
		cfg.HttpOptions = options.NewHttpOptions()
	}
	if cfg.MqttOptions == nil {
		cfg.MqttOptions = options.NewMqttOptions()
	}
	if cfg.WorkerOptions == nil {
		cfg.WorkerOptions = options.NewWorkerOptions()
	}
	if cfg.RecorderOptions == nil {
		cfg.RecorderOptions = options.NewRecorderOptions()
		cfg.RecorderOptions.Enabled = false
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Std()
	}
}

// NewLab builds the lab described by cfg. Nothing runs until Run.
func (cfg *Config) NewLab() (*Lab, error) {
	setDefaultConfig(cfg)
	for _, d := range cfg.Devices {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return New(cfg)
}

func (cfg *Config) instrumentConfig(d DeviceConfig) instrument.Config {
	return instrument.Config{
		ID:        d.ID,
		Simulated: d.Simulated,
		Latency:   d.Latency,
		Bounds:    d.Bounds,
		Clock:     cfg.Clock,
	}
}
