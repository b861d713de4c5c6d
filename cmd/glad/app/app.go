package app

import (
	"fmt"

	"github.com/spf13/viper"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/Soberat/GLAD/cmd/glad/app/options"
	"github.com/Soberat/GLAD/internal/settings"
	"github.com/Soberat/GLAD/pkg/app"
	"github.com/Soberat/GLAD/pkg/log"
)

const (
	commandName = "glad"
	commandDesc = `GLAD drives laboratory instruments: it polls every configured device,
serializes commands against it and runs setpoint profiles. Devices are
controlled through an HTTP API and, optionally, over MQTT.`
)

func NewApp() *app.App {
	opts := options.NewLabOptions()
	v := viper.New()
	application := app.NewApp(
		commandName,
		"Run the GLAD instrument control agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithViper(v),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts, v)),
		app.WithSubCommands(newDevicesCommand(opts)),
	)
	return application
}

func run(opts *options.LabOptions, v *viper.Viper) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer func() { _ = log.Sync() }()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		l, err := cfg.NewLab()
		if err != nil {
			return fmt.Errorf("failed to create lab: %w", err)
		}

		settings.NewStore(v, log.Std()).Watch(l)

		return l.Run(ctx)
	}
}
