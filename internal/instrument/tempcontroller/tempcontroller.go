// Package tempcontroller implements a simulated process temperature controller.
package tempcontroller

import (
	"context"
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/instrument"
	"github.com/Soberat/GLAD/internal/profile"
	"github.com/Soberat/GLAD/internal/worker"
)

const Kind = "tempcontroller"

const (
	CommandSetpoint      = "setpoint"
	CommandToggleControl = "toggle-control"

	ReadingProcessValue = "process-value"
	ReadingSetpoint     = "setpoint"
)

// DisabledSetpoint is written when control is switched off.
const DisabledSetpoint = 20.0

// DefaultBounds is the temperature range accepted in degrees Celsius.
var DefaultBounds = profile.Bounds{Lower: 0, Upper: 250}

func init() {
	instrument.Register(Kind, func(cfg instrument.Config) (instrument.Instrument, error) {
		return New(cfg), nil
	})
}

// Controller simulates a controller whose process value approaches the
// active setpoint at a rate proportional to the remaining difference.
type Controller struct {
	*device.Sim
	clock clock.PassiveClock

	mu       sync.Mutex
	bounds   profile.Bounds
	control  bool
	setpoint float64
	target   float64
	pv       float64
	lastRead time.Time
}

var _ instrument.Profiled = (*Controller)(nil)

func New(cfg instrument.Config) *Controller {
	c := &Controller{
		Sim:    device.NewSim(cfg.ID, cfg.Latency),
		clock:  cfg.Clock,
		bounds: DefaultBounds,
	}
	if cfg.Bounds != nil {
		c.bounds = *cfg.Bounds
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	c.lastRead = c.clock.Now()
	return c
}

func (c *Controller) Kind() string { return Kind }

// SetSetpoint stores v and writes it to the loop. With control disabled
// the loop is held at DisabledSetpoint instead.
func (c *Controller) SetSetpoint(ctx context.Context, v float64) error {
	if err := c.Check(ctx, "set setpoint"); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := instrument.CheckRange(c.ID(), "set setpoint", v, c.bounds.Lower, c.bounds.Upper); err != nil {
		return err
	}
	c.setpoint = v
	c.writeLocked()
	return nil
}

// ResendSetpoint writes the stored setpoint again.
func (c *Controller) ResendSetpoint(ctx context.Context) error {
	if err := c.Check(ctx, "resend setpoint"); err != nil {
		return err
	}

	c.mu.Lock()
	c.writeLocked()
	c.mu.Unlock()
	return nil
}

// ToggleControl enables or disables setpoint control. Disabling resets the
// stored setpoint to DisabledSetpoint.
func (c *Controller) ToggleControl(ctx context.Context, enabled bool) error {
	if err := c.Check(ctx, "toggle control"); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !enabled {
		c.setpoint = DisabledSetpoint
		c.writeLocked()
	}
	c.control = enabled
	return nil
}

func (c *Controller) ControlEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}

// ProcessValue advances the simulation to now and returns the process value.
func (c *Controller) ProcessValue(ctx context.Context) (float64, error) {
	if err := c.Check(ctx, "read process value"); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	elapsed := now.Sub(c.lastRead).Seconds()
	c.lastRead = now

	diff := c.target - c.pv
	change := 4 * elapsed * (math.Abs(diff) / 10)
	switch {
	case diff > 0:
		c.pv = min(c.pv+change, c.target)
	case diff < 0:
		c.pv = max(c.pv-change, c.target)
	}
	return c.pv, nil
}

// SetpointValue reads the setpoint the loop is working towards.
func (c *Controller) SetpointValue(ctx context.Context) (float64, error) {
	if err := c.Check(ctx, "read setpoint"); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, nil
}

// Poll re-sends the setpoint, then reports the process value and setpoint.
func (c *Controller) Poll(ctx context.Context, r worker.Reporter) error {
	if err := c.ResendSetpoint(ctx); err != nil {
		return err
	}
	pv, err := c.ProcessValue(ctx)
	if err != nil {
		return err
	}
	r.Report(ReadingProcessValue, pv)

	sp, err := c.SetpointValue(ctx)
	if err != nil {
		return err
	}
	r.Report(ReadingSetpoint, sp)
	return nil
}

func (c *Controller) Commands() []string {
	return []string{CommandSetpoint, CommandToggleControl}
}

func (c *Controller) Command(name string, value float64) (worker.Task, error) {
	switch name {
	case CommandSetpoint:
		return func(ctx context.Context) error { return c.SetSetpoint(ctx, value) }, nil
	case CommandToggleControl:
		enabled := value != 0
		return func(ctx context.Context) error { return c.ToggleControl(ctx, enabled) }, nil
	default:
		return nil, instrument.UnknownCommand(c, name)
	}
}

func (c *Controller) Policy() profile.Policy { return profile.PolicyAbsolute }

func (c *Controller) Bounds() profile.Bounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bounds
}

func (c *Controller) SetBounds(b profile.Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.bounds = b
	c.mu.Unlock()
	return nil
}

func (c *Controller) Setpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint
}

// BeginTasks turns control on so that profile setpoints reach the loop.
func (c *Controller) BeginTasks() []worker.Task {
	return []worker.Task{func(ctx context.Context) error { return c.ToggleControl(ctx, true) }}
}

func (c *Controller) SetpointTasks(sp profile.Setpoint) []worker.Task {
	return []worker.Task{func(ctx context.Context) error { return c.SetSetpoint(ctx, sp.Value) }}
}

// EndTasks is empty: the last setpoint stays active after a run.
func (c *Controller) EndTasks(bool) []worker.Task { return nil }

func (c *Controller) writeLocked() {
	if c.control {
		c.target = c.setpoint
	} else {
		c.target = DisabledSetpoint
	}
}
