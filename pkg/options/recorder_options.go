package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RecorderOptions)(nil)

// RecorderOptions configures the measurement log.
type RecorderOptions struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Path of the SQLite database file. ":memory:" keeps it in memory.
	Path string `json:"path" mapstructure:"path"`

	// Buffer is the number of events the recorder may lag behind.
	Buffer int `json:"buffer" mapstructure:"buffer"`
}

func NewRecorderOptions() *RecorderOptions {
	return &RecorderOptions{
		Enabled: true,
		Path:    "glad.db",
		Buffer:  1024,
	}
}

func (o *RecorderOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errs := []error{}
	if o.Path == "" {
		errs = append(errs, errors.New("--recorder.path must not be empty"))
	}
	if o.Buffer < 1 {
		errs = append(errs, errors.New("--recorder.buffer must be at least 1"))
	}
	return errs
}

func (o *RecorderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "recorder.enabled", o.Enabled, "Record readings and failures to SQLite.")
	fs.StringVar(&o.Path, "recorder.path", o.Path, "Path of the measurement database.")
	fs.IntVar(&o.Buffer, "recorder.buffer", o.Buffer, "Events the recorder may buffer before dropping.")
}
