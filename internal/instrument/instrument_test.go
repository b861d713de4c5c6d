package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/profile"
	"github.com/Soberat/GLAD/internal/worker"
)

type fakeInstrument struct {
	*device.Sim
	bounds profile.Bounds
	log    *[]string
}

func (f *fakeInstrument) Kind() string                                 { return "fake" }
func (f *fakeInstrument) Poll(context.Context, worker.Reporter) error { return nil }
func (f *fakeInstrument) Commands() []string                           { return []string{"noop"} }
func (f *fakeInstrument) Policy() profile.Policy                       { return profile.PolicyAbsolute }
func (f *fakeInstrument) Bounds() profile.Bounds                       { return f.bounds }
func (f *fakeInstrument) SetBounds(b profile.Bounds) error             { f.bounds = b; return nil }
func (f *fakeInstrument) Setpoint() float64                            { return 0 }

func (f *fakeInstrument) Command(name string, _ float64) (worker.Task, error) {
	if name != "noop" {
		return nil, UnknownCommand(f, name)
	}
	return f.record(name), nil
}

func (f *fakeInstrument) record(s string) worker.Task {
	return func(context.Context) error {
		*f.log = append(*f.log, s)
		return nil
	}
}

func (f *fakeInstrument) BeginTasks() []worker.Task {
	return []worker.Task{f.record("begin-1"), f.record("begin-2")}
}

func (f *fakeInstrument) SetpointTasks(sp profile.Setpoint) []worker.Task {
	return []worker.Task{f.record("apply")}
}

func (f *fakeInstrument) EndTasks(aborted bool) []worker.Task {
	if aborted {
		return []worker.Task{f.record("abort")}
	}
	return []worker.Task{f.record("end")}
}

type sliceQueue []worker.Task

func (q *sliceQueue) Enqueue(t worker.Task) { *q = append(*q, t) }

func init() {
	Register("fake", func(cfg Config) (Instrument, error) {
		var log []string
		return &fakeInstrument{Sim: device.NewSim(cfg.ID, 0), log: &log}, nil
	})
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Kinds(), "fake")

	inst, err := New("fake", Config{Simulated: true})
	require.NoError(t, err)
	assert.Contains(t, inst.ID(), "fake--")

	_, err = New("fake", Config{ID: "fake--1"})
	require.ErrorIs(t, err, device.ErrNoDriver)

	_, err = New("teleporter", Config{Simulated: true})
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = New("fake", Config{Simulated: true, Bounds: &profile.Bounds{Lower: 5, Upper: 1}})
	assert.Error(t, err)

	assert.Panics(t, func() { Register("fake", nil) })
}

func TestTargetEnqueuesInOrder(t *testing.T) {
	var log []string
	inst := &fakeInstrument{Sim: device.NewSim("fake--2", 0), log: &log, bounds: profile.Bounds{Upper: 10}}
	var q sliceQueue

	target := NewTarget(inst, &q)
	assert.Equal(t, "fake--2", target.ID())
	assert.Equal(t, profile.Bounds{Upper: 10}, target.Bounds())

	target.Begin()
	target.Apply(profile.Setpoint{Value: 3})
	target.End(true)

	for _, task := range q {
		require.NoError(t, task(context.Background()))
	}
	assert.Equal(t, []string{"begin-1", "begin-2", "apply", "abort"}, log)
}

func TestUnknownCommand(t *testing.T) {
	var log []string
	inst := &fakeInstrument{Sim: device.NewSim("fake--3", 0), log: &log}

	_, err := inst.Command("explode", 1)
	require.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, device.KindProgramming, device.KindOf(err))
	assert.Contains(t, err.Error(), "noop")
}

func TestCheckRange(t *testing.T) {
	assert.NoError(t, CheckRange("x", "op", 5, 0, 10))
	assert.NoError(t, CheckRange("x", "op", 10, 0, 10))

	err := CheckRange("x", "op", 11, 0, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrOutOfRange))
	assert.Equal(t, device.KindProtocol, device.KindOf(err))
}
