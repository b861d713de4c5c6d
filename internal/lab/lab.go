// Package lab assembles the configured instruments into a running runtime:
// one worker per device, a profile sequencer per profiled device, and the
// servers that expose them.
package lab

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/event"
	"github.com/Soberat/GLAD/internal/instrument"
	_ "github.com/Soberat/GLAD/internal/instrument/mfc"
	_ "github.com/Soberat/GLAD/internal/instrument/rfgenerator"
	_ "github.com/Soberat/GLAD/internal/instrument/tempcontroller"
	"github.com/Soberat/GLAD/internal/profile"
	"github.com/Soberat/GLAD/internal/recorder"
	"github.com/Soberat/GLAD/internal/worker"
	"github.com/Soberat/GLAD/pkg/log"
	"github.com/Soberat/GLAD/pkg/mqtt"
)

var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrDuplicateDevice = errors.New("duplicate device id")
	ErrNotProfiled     = errors.New("device does not run profiles")
	ErrAlreadyStarted  = errors.New("lab already started")
)

// Server is a component that runs for the lifetime of the lab.
type Server interface {
	Start(ctx context.Context) error
}

// Device groups an instrument with the runtime pieces that drive it.
type Device struct {
	Instrument instrument.Instrument
	Worker     *worker.Worker
	// Sequencer is nil for instruments that do not run profiles.
	Sequencer *profile.Sequencer

	profiled instrument.Profiled
}

// Lab owns every configured device.
type Lab struct {
	cfg   *Config
	log   log.Logger
	clock clock.WithDelayedExecution
	bus   *event.Bus

	devices map[string]*Device
	order   []string
	tracker *tracker

	recorder *recorder.Recorder
	servers  []Server
	// sinks consume the bus and keep running until shutdown has produced
	// its last events.
	sinks []Server

	started atomic.Bool
	ready   atomic.Bool
}

// New builds the devices and servers of cfg.
func New(cfg *Config) (*Lab, error) {
	setDefaultConfig(cfg)

	l := &Lab{
		cfg:     cfg,
		log:     cfg.Logger.WithName("lab"),
		clock:   cfg.Clock,
		bus:     event.NewBus(),
		devices: make(map[string]*Device, len(cfg.Devices)),
	}
	l.tracker = newTracker(l.bus)

	for _, dc := range cfg.Devices {
		d, err := l.newDevice(dc)
		if err != nil {
			l.tracker.close()
			return nil, err
		}
		id := d.Instrument.ID()
		if _, dup := l.devices[id]; dup {
			l.tracker.close()
			return nil, fmt.Errorf("%w %q", ErrDuplicateDevice, id)
		}
		l.devices[id] = d
		l.order = append(l.order, id)
	}

	if err := l.newServers(); err != nil {
		l.tracker.close()
		return nil, err
	}
	return l, nil
}

func (l *Lab) newDevice(dc DeviceConfig) (*Device, error) {
	inst, err := instrument.New(dc.Kind, l.cfg.instrumentConfig(dc))
	if err != nil {
		return nil, fmt.Errorf("failed to create device %q: %w", dc.ID, err)
	}

	wo := l.cfg.WorkerOptions
	interval := dc.PollInterval
	if interval == 0 {
		interval = wo.PollInterval
	}
	w, err := worker.New(inst, inst.Poll, worker.Config{
		Kind:                  inst.Kind(),
		PollInterval:          interval,
		PollPolicy:            worker.Policy(wo.PollBackoff),
		TaskPolicy:            worker.Policy(wo.TaskBackoff),
		TaskReconnectAttempts: wo.TaskReconnectAttempts,
		Clock:                 l.clock,
		Bus:                   l.bus,
		Logger:                l.cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker for %q: %w", inst.ID(), err)
	}

	d := &Device{Instrument: inst, Worker: w}
	if p, ok := inst.(instrument.Profiled); ok {
		d.profiled = p
		d.Sequencer = profile.NewSequencer(instrument.NewTarget(p, w), profile.SequencerConfig{
			Clock:  l.clock,
			Bus:    l.bus,
			Logger: l.cfg.Logger.WithName("profile"),
		})
	}
	return d, nil
}

func (l *Lab) newServers() error {
	l.servers = append(l.servers, newHTTPServer(l.cfg.HttpOptions, l.Handler(), l.log))

	if mo := l.cfg.MqttOptions; mo.Enabled {
		clientCfg := mo.ToClientConfig()
		clientCfg.Logger = l.cfg.Logger
		client, err := mqtt.NewClient(clientCfg)
		if err != nil {
			return fmt.Errorf("failed to init mqtt client: %w", err)
		}
		l.sinks = append(l.sinks, newBridge(l, client, mo))
	}

	if ro := l.cfg.RecorderOptions; ro.Enabled {
		db, err := recorder.Open(ro.Path)
		if err != nil {
			return fmt.Errorf("failed to open recorder: %w", err)
		}
		rec, err := recorder.New(db, l.bus, recorder.Config{Buffer: ro.Buffer, Logger: l.cfg.Logger})
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to init recorder: %w", err)
		}
		l.recorder = rec
		l.sinks = append(l.sinks, rec)
	}
	return nil
}

// Bus returns the bus every device publishes on.
func (l *Lab) Bus() *event.Bus { return l.bus }

// Ready reports whether the workers are running.
func (l *Lab) Ready() bool { return l.ready.Load() }

// Run starts every worker and server and blocks until ctx is cancelled or
// a server fails. The lab is shut down before Run returns.
func (l *Lab) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	go l.tracker.run()

	// Workers outlive ctx so that Shutdown can drain their queues.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	for _, d := range l.list() {
		if err := d.Worker.Start(workerCtx); err != nil {
			return fmt.Errorf("failed to start worker %q: %w", d.Worker.ID(), err)
		}
	}
	l.ready.Store(true)
	l.log.Info("Lab started", "devices", len(l.order))

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	sinkCtx, cancelSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSinks()
	var sinks errgroup.Group
	for _, srv := range l.sinks {
		sinks.Go(func() error {
			err := srv.Start(sinkCtx)
			if err != nil {
				cancelRun(err)
			}
			return err
		})
	}

	g, gctx := errgroup.WithContext(runCtx)
	for _, srv := range l.servers {
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()

	l.shutdown()
	cancelSinks()
	sinkErr := sinks.Wait()

	if err == nil {
		err = sinkErr
	}
	return err
}

// shutdown stops the sequencers first so that their teardown tasks are
// queued, then stops every worker in parallel.
func (l *Lab) shutdown() {
	l.ready.Store(false)
	l.log.Info("Shutting down lab")

	ctx := context.Background()
	for _, d := range l.list() {
		if d.Sequencer == nil {
			continue
		}
		if err := d.Sequencer.Stop(ctx); err != nil && !errors.Is(err, profile.ErrNotRunning) {
			l.log.Error(err, "Failed to stop profile", "device", d.Worker.ID())
		}
	}

	var g errgroup.Group
	for _, d := range l.list() {
		g.Go(func() error {
			stopCtx, cancel := context.WithTimeout(ctx, l.cfg.WorkerOptions.ShutdownTimeout)
			defer cancel()
			if err := d.Worker.Stop(stopCtx); err != nil {
				l.log.Warn("Worker did not stop in time", "device", d.Worker.ID(), "reason", err.Error())
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	l.tracker.close()
	l.log.Info("Lab stopped")
}

// Device returns the device registered under id.
func (l *Lab) Device(id string) (*Device, error) {
	d, ok := l.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDevice, id)
	}
	return d, nil
}

func (l *Lab) list() []*Device {
	out := make([]*Device, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.devices[id])
	}
	return out
}

// Command enqueues a named domain command. It returns once the task is
// queued; the outcome arrives as a task event.
func (l *Lab) Command(id, name string, value float64) error {
	d, err := l.Device(id)
	if err != nil {
		return err
	}
	task, err := d.Instrument.Command(name, value)
	if err != nil {
		return err
	}
	d.Worker.Enqueue(task)
	l.log.Debug("Command queued", "device", id, "command", name, "value", value)
	return nil
}

func (l *Lab) SetPollInterval(id string, interval time.Duration) error {
	d, err := l.Device(id)
	if err != nil {
		return err
	}
	return d.Worker.SetPollInterval(interval)
}

func (l *Lab) Disconnect(id string) error {
	d, err := l.Device(id)
	if err != nil {
		return err
	}
	d.Worker.RequestDisconnect()
	return nil
}

// StartProfile starts a profile run on a profiled device and returns its run ID.
func (l *Lab) StartProfile(ctx context.Context, id string, spec ProfileSpec) (string, error) {
	d, err := l.profiledDevice(id)
	if err != nil {
		return "", err
	}
	req, err := spec.Request(d.profiled, l.clock.Now())
	if err != nil {
		return "", err
	}
	return d.Sequencer.Start(ctx, req)
}

func (l *Lab) StopProfile(ctx context.Context, id string) error {
	d, err := l.profiledDevice(id)
	if err != nil {
		return err
	}
	return d.Sequencer.Stop(ctx)
}

func (l *Lab) ProfileStatus(id string) (profile.Status, error) {
	d, err := l.profiledDevice(id)
	if err != nil {
		return profile.Status{}, err
	}
	return d.Sequencer.Status(), nil
}

func (l *Lab) profiledDevice(id string) (*Device, error) {
	d, err := l.Device(id)
	if err != nil {
		return nil, err
	}
	if d.Sequencer == nil {
		return nil, device.NewError(device.KindProgramming, id, "profile", ErrNotProfiled)
	}
	return d, nil
}

// ApplySettings applies the runtime-adjustable parts of a device list:
// poll intervals and profile bounds. Devices that are not running are
// reported; adding or removing devices needs a restart.
func (l *Lab) ApplySettings(devices []DeviceConfig) error {
	var errs []error
	for _, dc := range devices {
		d, ok := l.devices[dc.ID]
		if !ok {
			l.log.Warn("Ignoring settings of a device that is not running, restart to add it", "device", dc.ID)
			continue
		}

		if dc.PollInterval > 0 {
			if err := d.Worker.SetPollInterval(dc.PollInterval); err != nil {
				errs = append(errs, fmt.Errorf("device %q: %w", dc.ID, err))
			}
		}
		if dc.Bounds != nil && d.profiled != nil {
			if err := d.profiled.SetBounds(*dc.Bounds); err != nil {
				errs = append(errs, fmt.Errorf("device %q: %w", dc.ID, err))
			}
		}
	}
	if len(errs) == 0 {
		l.log.Info("Settings applied", "devices", len(devices))
	}
	return errors.Join(errs...)
}

// Recorder returns the measurement log, or nil when recording is off.
func (l *Lab) Recorder() *recorder.Recorder { return l.recorder }
