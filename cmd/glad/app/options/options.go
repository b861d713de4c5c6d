package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/Soberat/GLAD/internal/lab"
	"github.com/Soberat/GLAD/pkg/app"
	"github.com/Soberat/GLAD/pkg/log"
	"github.com/Soberat/GLAD/pkg/options"
)

// LabOptions is the configuration of the glad command. Devices can only be
// given in the configuration file.
type LabOptions struct {
	HttpOptions     *options.HttpOptions     `json:"http" mapstructure:"http"`
	MqttOptions     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	WorkerOptions   *options.WorkerOptions   `json:"worker" mapstructure:"worker"`
	RecorderOptions *options.RecorderOptions `json:"recorder" mapstructure:"recorder"`
	Log             *log.Options             `json:"log" mapstructure:"log"`

	Devices []lab.DeviceConfig `json:"devices" mapstructure:"devices"`
}

var _ app.NamedFlagSetOptions = (*LabOptions)(nil)

func NewLabOptions() *LabOptions {
	return &LabOptions{
		HttpOptions:     options.NewHttpOptions(),
		MqttOptions:     options.NewMqttOptions(),
		WorkerOptions:   options.NewWorkerOptions(),
		RecorderOptions: options.NewRecorderOptions(),
		Log:             log.NewOptions(),
	}
}

func (o *LabOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.WorkerOptions.AddFlags(fss.FlagSet("worker"))
	o.RecorderOptions.AddFlags(fss.FlagSet("recorder"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *LabOptions) Complete() error {
	if o.Log.Name == "" {
		o.Log.Name = "glad"
	}
	return nil
}

func (o *LabOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.WorkerOptions.Validate()...)
	errs = append(errs, o.RecorderOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	seen := make(map[string]bool, len(o.Devices))
	for i, d := range o.Devices {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
		}
		if d.ID == "" {
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
	}

	return utilerrors.NewAggregate(errs)
}

func (o *LabOptions) Config() (*lab.Config, error) {
	return &lab.Config{
		HttpOptions:     o.HttpOptions,
		MqttOptions:     o.MqttOptions,
		WorkerOptions:   o.WorkerOptions,
		RecorderOptions: o.RecorderOptions,
		Devices:         o.Devices,
		Logger:          log.Std(),
	}, nil
}
