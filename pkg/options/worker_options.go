package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*WorkerOptions)(nil)

// BackoffOptions is one reconnect schedule.
type BackoffOptions struct {
	Base   time.Duration `json:"base" mapstructure:"base"`
	Max    time.Duration `json:"max" mapstructure:"max"`
	Factor float64       `json:"factor" mapstructure:"factor"`
	Jitter time.Duration `json:"jitter" mapstructure:"jitter"`
}

func (o *BackoffOptions) validate(name string) []error {
	var errs []error
	if o.Base <= 0 {
		errs = append(errs, fmt.Errorf("--%s.base must be positive", name))
	}
	if o.Max < o.Base {
		errs = append(errs, fmt.Errorf("--%s.max must not be below --%s.base", name, name))
	}
	if o.Factor < 1 {
		errs = append(errs, fmt.Errorf("--%s.factor must be at least 1", name))
	}
	if o.Jitter < 0 {
		errs = append(errs, fmt.Errorf("--%s.jitter must not be negative", name))
	}
	return errs
}

func (o *BackoffOptions) addFlags(fs *pflag.FlagSet, name, what string) {
	fs.DurationVar(&o.Base, name+".base", o.Base, "First delay between "+what+" connect attempts.")
	fs.DurationVar(&o.Max, name+".max", o.Max, "Upper bound of the delay between "+what+" connect attempts.")
	fs.Float64Var(&o.Factor, name+".factor", o.Factor, "Growth factor of the "+what+" reconnect delay.")
	fs.DurationVar(&o.Jitter, name+".jitter", o.Jitter, "Random delay added to each "+what+" reconnect.")
}

// WorkerOptions holds the defaults applied to every device worker.
type WorkerOptions struct {
	PollInterval          time.Duration  `json:"poll-interval" mapstructure:"poll-interval"`
	ShutdownTimeout       time.Duration  `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
	TaskReconnectAttempts int            `json:"task-reconnect-attempts" mapstructure:"task-reconnect-attempts"`
	PollBackoff           BackoffOptions `json:"poll-backoff" mapstructure:"poll-backoff"`
	TaskBackoff           BackoffOptions `json:"task-backoff" mapstructure:"task-backoff"`
}

func NewWorkerOptions() *WorkerOptions {
	return &WorkerOptions{
		PollInterval:          10 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		TaskReconnectAttempts: 3,
		PollBackoff: BackoffOptions{
			Base:   30 * time.Second,
			Max:    300 * time.Second,
			Factor: 2,
			Jitter: 30 * time.Second,
		},
		TaskBackoff: BackoffOptions{
			Base:   5 * time.Second,
			Max:    10 * time.Second,
			Factor: 2,
			Jitter: 5 * time.Second,
		},
	}
}

func (o *WorkerOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.PollInterval <= 0 {
		errs = append(errs, errors.New("--worker.poll-interval must be positive"))
	}
	if o.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("--worker.shutdown-timeout must be positive"))
	}
	if o.TaskReconnectAttempts < 1 {
		errs = append(errs, errors.New("--worker.task-reconnect-attempts must be at least 1"))
	}
	errs = append(errs, o.PollBackoff.validate("worker.poll-backoff")...)
	errs = append(errs, o.TaskBackoff.validate("worker.task-backoff")...)

	return errs
}

func (o *WorkerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.PollInterval, "worker.poll-interval", o.PollInterval, "Default time between device polls.")
	fs.DurationVar(&o.ShutdownTimeout, "worker.shutdown-timeout", o.ShutdownTimeout, "How long a worker may drain its queue on shutdown.")
	fs.IntVar(&o.TaskReconnectAttempts, "worker.task-reconnect-attempts", o.TaskReconnectAttempts, "Connect attempts made before a task is abandoned.")
	o.PollBackoff.addFlags(fs, "worker.poll-backoff", "poll")
	o.TaskBackoff.addFlags(fs, "worker.task-backoff", "task")
}
