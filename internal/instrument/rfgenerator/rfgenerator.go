// Package rfgenerator implements a simulated DC/RF power supply with a
// programmable output ramp.
package rfgenerator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/instrument"
	"github.com/Soberat/GLAD/internal/profile"
	"github.com/Soberat/GLAD/internal/worker"
)

const Kind = "rfgenerator"

const (
	CommandSetpoint     = "setpoint"
	CommandRampTime     = "ramp-time"
	CommandEnableOutput = "enable-output"

	ReadingTargetPower = "target-power"
	ReadingActualPower = "actual-power"
)

// MaxPower is the highest accepted power setpoint in watts.
const MaxPower = 500.0

var DefaultBounds = profile.Bounds{Lower: 0, Upper: MaxPower}

func init() {
	instrument.Register(Kind, func(cfg instrument.Config) (instrument.Instrument, error) {
		return New(cfg), nil
	})
}

// Generator simulates a supply whose actual power moves linearly from the
// previous setpoint to the new one over the configured ramp time.
type Generator struct {
	*device.Sim
	clock clock.PassiveClock

	mu        sync.Mutex
	bounds    profile.Bounds
	output    bool
	ramp      time.Duration
	previous  float64
	target    float64
	changedAt time.Time
}

var _ instrument.Profiled = (*Generator)(nil)

func New(cfg instrument.Config) *Generator {
	g := &Generator{
		Sim:    device.NewSim(cfg.ID, cfg.Latency),
		clock:  cfg.Clock,
		bounds: DefaultBounds,
	}
	if cfg.Bounds != nil {
		g.bounds = *cfg.Bounds
	}
	if g.clock == nil {
		g.clock = clock.RealClock{}
	}
	g.changedAt = g.clock.Now()
	return g
}

func (g *Generator) Kind() string { return Kind }

// SetTargetPower starts a ramp from the current setpoint to watts.
func (g *Generator) SetTargetPower(ctx context.Context, watts float64) error {
	if err := g.Check(ctx, "set target power"); err != nil {
		return err
	}
	if err := instrument.CheckRange(g.ID(), "set target power", watts, 0, MaxPower); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.previous = g.target
	g.target = watts
	g.changedAt = g.clock.Now()
	return nil
}

// SetRampTime sets the duration of following setpoint changes. Zero means
// a step change.
func (g *Generator) SetRampTime(ctx context.Context, d time.Duration) error {
	if err := g.Check(ctx, "set ramp time"); err != nil {
		return err
	}
	if d < 0 {
		return device.ProtocolError(g.ID(), "set ramp time", fmt.Errorf("%w: negative ramp %v", device.ErrOutOfRange, d))
	}

	g.mu.Lock()
	g.ramp = d
	g.mu.Unlock()
	return nil
}

func (g *Generator) EnableOutput(ctx context.Context) error  { return g.setOutput(ctx, true) }
func (g *Generator) DisableOutput(ctx context.Context) error { return g.setOutput(ctx, false) }

func (g *Generator) setOutput(ctx context.Context, on bool) error {
	op := "disable output"
	if on {
		op = "enable output"
	}
	if err := g.Check(ctx, op); err != nil {
		return err
	}

	g.mu.Lock()
	g.output = on
	g.mu.Unlock()
	return nil
}

func (g *Generator) OutputEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.output
}

func (g *Generator) TargetPower(ctx context.Context) (float64, error) {
	if err := g.Check(ctx, "read target power"); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target, nil
}

// ActualPower returns the delivered power, zero while the output is off.
func (g *Generator) ActualPower(ctx context.Context) (float64, error) {
	if err := g.Check(ctx, "read actual power"); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.output {
		return 0, nil
	}
	frac := 1.0
	if g.ramp > 0 {
		frac = float64(g.clock.Since(g.changedAt)) / float64(g.ramp)
		frac = min(max(frac, 0), 1)
	}
	return g.previous + (g.target-g.previous)*frac, nil
}

func (g *Generator) Poll(ctx context.Context, r worker.Reporter) error {
	target, err := g.TargetPower(ctx)
	if err != nil {
		return err
	}
	r.Report(ReadingTargetPower, target)

	actual, err := g.ActualPower(ctx)
	if err != nil {
		return err
	}
	r.Report(ReadingActualPower, actual)
	return nil
}

func (g *Generator) Commands() []string {
	return []string{CommandSetpoint, CommandRampTime, CommandEnableOutput}
}

// Command builds a task. ramp-time takes seconds; enable-output switches
// the output on for any non-zero value.
func (g *Generator) Command(name string, value float64) (worker.Task, error) {
	switch name {
	case CommandSetpoint:
		return func(ctx context.Context) error { return g.SetTargetPower(ctx, value) }, nil
	case CommandRampTime:
		d := time.Duration(value * float64(time.Second))
		return func(ctx context.Context) error { return g.SetRampTime(ctx, d) }, nil
	case CommandEnableOutput:
		on := value != 0
		return func(ctx context.Context) error { return g.setOutput(ctx, on) }, nil
	default:
		return nil, instrument.UnknownCommand(g, name)
	}
}

func (g *Generator) Policy() profile.Policy { return profile.PolicySlope }

func (g *Generator) Bounds() profile.Bounds {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bounds
}

func (g *Generator) SetBounds(b profile.Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	g.bounds = b
	g.mu.Unlock()
	return nil
}

func (g *Generator) Setpoint() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

// BeginTasks zeroes the setpoint and enables the output.
func (g *Generator) BeginTasks() []worker.Task {
	return []worker.Task{
		func(ctx context.Context) error { return g.SetTargetPower(ctx, 0) },
		g.EnableOutput,
	}
}

// SetpointTasks configures the ramp before writing the new power.
func (g *Generator) SetpointTasks(sp profile.Setpoint) []worker.Task {
	return []worker.Task{
		func(ctx context.Context) error { return g.SetRampTime(ctx, sp.Ramp) },
		func(ctx context.Context) error { return g.SetTargetPower(ctx, sp.Value) },
	}
}

// EndTasks disables ramping and the output, then zeroes the setpoint.
func (g *Generator) EndTasks(bool) []worker.Task {
	return []worker.Task{
		func(ctx context.Context) error { return g.SetRampTime(ctx, 0) },
		g.DisableOutput,
		func(ctx context.Context) error { return g.SetTargetPower(ctx, 0) },
	}
}
