// Package instrument binds device families to the worker runtime and to
// profile execution.
package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/profile"
	"github.com/Soberat/GLAD/internal/worker"
)

var (
	ErrUnknownKind    = errors.New("unknown instrument kind")
	ErrUnknownCommand = errors.New("unknown command")
)

// Instrument is a device family as seen by the lab: a Device with a
// periodic poll and a set of named commands.
type Instrument interface {
	device.Device

	Kind() string

	// Poll is the periodic operation run by the owning worker.
	Poll(ctx context.Context, r worker.Reporter) error

	// Command builds the task for a named command. The returned task
	// captures value; errors are returned for names the family does not know.
	Command(name string, value float64) (worker.Task, error)

	// Commands lists the names accepted by Command.
	Commands() []string
}

// Profiled is implemented by instruments that can follow a setpoint profile.
//
// Bounds, SetBounds and Setpoint are the only methods callers other than the
// owning worker may use. They read or replace values cached in memory under
// the instrument's lock and never touch the device link. Every device
// operation goes through the tasks returned by the *Tasks methods.
type Profiled interface {
	Instrument

	Policy() profile.Policy
	Bounds() profile.Bounds
	SetBounds(b profile.Bounds) error

	// Setpoint is the last setpoint written to the instrument. A scheduled
	// profile holds it until its start time.
	Setpoint() float64

	BeginTasks() []worker.Task
	SetpointTasks(sp profile.Setpoint) []worker.Task
	EndTasks(aborted bool) []worker.Task
}

// Enqueuer accepts tasks for a device, normally its Worker.
type Enqueuer interface {
	Enqueue(t worker.Task)
}

// NewTarget binds p to the queue of the worker that owns it.
func NewTarget(p Profiled, q Enqueuer) profile.Target {
	return &target{p: p, q: q}
}

type target struct {
	p Profiled
	q Enqueuer
}

var _ profile.Target = (*target)(nil)

func (t *target) ID() string             { return t.p.ID() }
func (t *target) Bounds() profile.Bounds { return t.p.Bounds() }
func (t *target) Begin()                 { t.enqueue(t.p.BeginTasks()) }
func (t *target) End(aborted bool)       { t.enqueue(t.p.EndTasks(aborted)) }

func (t *target) Apply(sp profile.Setpoint) {
	t.enqueue(t.p.SetpointTasks(sp))
}

func (t *target) enqueue(tasks []worker.Task) {
	for _, task := range tasks {
		t.q.Enqueue(task)
	}
}

// UnknownCommand reports a command name the instrument does not accept.
func UnknownCommand(inst Instrument, name string) error {
	return device.NewError(device.KindProgramming, inst.ID(), "command",
		fmt.Errorf("%w %q, expected one of %v", ErrUnknownCommand, name, inst.Commands()))
}

// CheckRange returns a protocol error when v lies outside [lower, upper].
func CheckRange(id, op string, v, lower, upper float64) error {
	if v < lower || v > upper {
		return device.ProtocolError(id, op, fmt.Errorf("%w: %v not in [%v, %v]", device.ErrOutOfRange, v, lower, upper))
	}
	return nil
}
