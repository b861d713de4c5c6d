// Package mfc implements a simulated mass-flow controller.
package mfc

import (
	"context"
	"fmt"
	"sync"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/instrument"
	"github.com/Soberat/GLAD/internal/worker"
)

const Kind = "mfc"

const (
	CommandSetpoint   = "setpoint"
	CommandValveState = "valve-state"

	ReadingFlow       = "flow"
	ReadingValveState = "valve-state"
)

// FullScale is the flow delivered with the valve forced open, in sccm.
const FullScale = 100.0

// ValveState is the valve override of the controller.
type ValveState int

const (
	// ValveNormal lets the controller regulate towards its setpoint.
	ValveNormal ValveState = iota
	ValveClosed
	ValveOpen
)

func (s ValveState) String() string {
	switch s {
	case ValveNormal:
		return "normal"
	case ValveClosed:
		return "closed"
	case ValveOpen:
		return "open"
	default:
		return fmt.Sprintf("ValveState(%d)", int(s))
	}
}

// ParseValveState converts the numeric command value of a valve state.
func ParseValveState(v float64) (ValveState, error) {
	s := ValveState(v)
	if float64(s) != v || s < ValveNormal || s > ValveOpen {
		return 0, fmt.Errorf("invalid valve state %v, expected 0 (normal), 1 (closed) or 2 (open)", v)
	}
	return s, nil
}

func init() {
	instrument.Register(Kind, func(cfg instrument.Config) (instrument.Instrument, error) {
		return New(cfg), nil
	})
}

// Controller simulates an MFC that delivers its setpoint instantly.
type Controller struct {
	*device.Sim

	mu       sync.Mutex
	setpoint float64
	valve    ValveState
}

var _ instrument.Instrument = (*Controller)(nil)

func New(cfg instrument.Config) *Controller {
	return &Controller{Sim: device.NewSim(cfg.ID, cfg.Latency)}
}

func (c *Controller) Kind() string { return Kind }

func (c *Controller) SetSetpoint(ctx context.Context, v float64) error {
	if err := c.Check(ctx, "set setpoint"); err != nil {
		return err
	}
	if err := instrument.CheckRange(c.ID(), "set setpoint", v, 0, FullScale); err != nil {
		return err
	}

	c.mu.Lock()
	c.setpoint = v
	c.mu.Unlock()
	return nil
}

func (c *Controller) Setpoint(ctx context.Context) (float64, error) {
	if err := c.Check(ctx, "read setpoint"); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint, nil
}

func (c *Controller) SetValveState(ctx context.Context, s ValveState) error {
	if err := c.Check(ctx, "set valve state"); err != nil {
		return err
	}

	c.mu.Lock()
	c.valve = s
	c.mu.Unlock()
	return nil
}

func (c *Controller) ValveState(ctx context.Context) (ValveState, error) {
	if err := c.Check(ctx, "read valve state"); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valve, nil
}

// Flow returns the measured flow for the current valve state.
func (c *Controller) Flow(ctx context.Context) (float64, error) {
	if err := c.Check(ctx, "read flow"); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.valve {
	case ValveClosed:
		return 0, nil
	case ValveOpen:
		return FullScale, nil
	default:
		return c.setpoint, nil
	}
}

func (c *Controller) Poll(ctx context.Context, r worker.Reporter) error {
	flow, err := c.Flow(ctx)
	if err != nil {
		return err
	}
	r.Report(ReadingFlow, flow)

	state, err := c.ValveState(ctx)
	if err != nil {
		return err
	}
	r.Report(ReadingValveState, float64(state))
	return nil
}

func (c *Controller) Commands() []string {
	return []string{CommandSetpoint, CommandValveState}
}

func (c *Controller) Command(name string, value float64) (worker.Task, error) {
	switch name {
	case CommandSetpoint:
		return func(ctx context.Context) error { return c.SetSetpoint(ctx, value) }, nil
	case CommandValveState:
		state, err := ParseValveState(value)
		if err != nil {
			return nil, device.NewError(device.KindProgramming, c.ID(), "command", err)
		}
		return func(ctx context.Context) error { return c.SetValveState(ctx, state) }, nil
	default:
		return nil, instrument.UnknownCommand(c, name)
	}
}
