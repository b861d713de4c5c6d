package tempcontroller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/instrument"
	"github.com/Soberat/GLAD/internal/profile"
)

type readings map[string]float64

func (r readings) Report(name string, v float64) { r[name] = v }

func newConnected(t *testing.T) (*Controller, *testingclock.FakeClock) {
	t.Helper()
	fc := testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(instrument.Config{ID: "tempcontroller--test", Clock: fc})
	require.NoError(t, c.Connect(context.Background()))
	return c, fc
}

func TestPollRequiresConnection(t *testing.T) {
	c := New(instrument.Config{ID: "tempcontroller--test"})

	err := c.Poll(context.Background(), readings{})
	require.ErrorIs(t, err, device.ErrNotConnected)
	assert.Equal(t, device.KindConnection, device.KindOf(err))
}

func TestProcessValueApproachesSetpoint(t *testing.T) {
	ctx := context.Background()
	c, fc := newConnected(t)

	r := readings{}
	require.NoError(t, c.Poll(ctx, r))
	assert.Equal(t, DisabledSetpoint, r[ReadingSetpoint], "disabled control holds the loop at the safe setpoint")
	assert.Equal(t, 0.0, r[ReadingProcessValue])

	fc.Step(time.Second)
	require.NoError(t, c.Poll(ctx, r))
	assert.InDelta(t, 8.0, r[ReadingProcessValue], 1e-9)

	fc.Step(time.Hour)
	require.NoError(t, c.Poll(ctx, r))
	assert.Equal(t, DisabledSetpoint, r[ReadingProcessValue], "never overshoots")
}

func TestToggleControl(t *testing.T) {
	ctx := context.Background()
	c, _ := newConnected(t)

	require.NoError(t, c.SetSetpoint(ctx, 120))
	sp, err := c.SetpointValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, DisabledSetpoint, sp)

	require.NoError(t, c.ToggleControl(ctx, true))
	require.NoError(t, c.SetSetpoint(ctx, 120))
	sp, err = c.SetpointValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 120.0, sp)
	assert.Equal(t, 120.0, c.Setpoint())

	require.NoError(t, c.ToggleControl(ctx, false))
	assert.False(t, c.ControlEnabled())
	assert.Equal(t, DisabledSetpoint, c.Setpoint())
}

func TestSetpointOutOfBounds(t *testing.T) {
	c, _ := newConnected(t)

	err := c.SetSetpoint(context.Background(), 300)
	require.ErrorIs(t, err, device.ErrOutOfRange)
	assert.Equal(t, device.KindProtocol, device.KindOf(err))

	require.NoError(t, c.SetBounds(profile.Bounds{Lower: 0, Upper: 400}))
	assert.NoError(t, c.SetSetpoint(context.Background(), 300))
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	c, _ := newConnected(t)

	task, err := c.Command(CommandToggleControl, 1)
	require.NoError(t, err)
	require.NoError(t, task(ctx))
	assert.True(t, c.ControlEnabled())

	task, err = c.Command(CommandSetpoint, 55)
	require.NoError(t, err)
	require.NoError(t, task(ctx))
	assert.Equal(t, 55.0, c.Setpoint())

	_, err = c.Command("defrost", 1)
	assert.ErrorIs(t, err, instrument.ErrUnknownCommand)
}

func TestProfileTasks(t *testing.T) {
	ctx := context.Background()
	c, _ := newConnected(t)

	assert.Equal(t, profile.PolicyAbsolute, c.Policy())
	assert.Empty(t, c.EndTasks(true))

	for _, task := range c.BeginTasks() {
		require.NoError(t, task(ctx))
	}
	for _, task := range c.SetpointTasks(profile.Setpoint{Value: 80}) {
		require.NoError(t, task(ctx))
	}

	assert.True(t, c.ControlEnabled())
	sp, err := c.SetpointValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80.0, sp)
}

func TestCachedProfileStateIsSafeBesideTheWorker(t *testing.T) {
	ctx := context.Background()
	c, _ := newConnected(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 200 {
			assert.NoError(t, c.SetSetpoint(ctx, float64(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 200 {
			_ = c.Setpoint()
			_ = c.Bounds()
			_ = c.SetBounds(profile.Bounds{Lower: 0, Upper: float64(300 + i)})
		}
	}()
	wg.Wait()

	assert.Equal(t, profile.Bounds{Lower: 0, Upper: 499}, c.Bounds())
	assert.Equal(t, 199.0, c.Setpoint())
	assert.Equal(t, 1, c.Connects(), "cached accessors never open the link")
}
