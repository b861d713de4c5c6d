package lab

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/event"
	"github.com/Soberat/GLAD/internal/instrument"
	"github.com/Soberat/GLAD/internal/profile"
	"github.com/Soberat/GLAD/internal/recorder"
	"github.com/Soberat/GLAD/pkg/log"
	"github.com/Soberat/GLAD/pkg/options"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testDevices() []DeviceConfig {
	return []DeviceConfig{
		{ID: "oven", Kind: "tempcontroller", Simulated: true, PollInterval: time.Second},
		{ID: "rf", Kind: "rfgenerator", Simulated: true},
		{ID: "flow", Kind: "mfc", Simulated: true},
	}
}

func newTestLab(t *testing.T, devices ...DeviceConfig) (*Lab, *testingclock.FakeClock) {
	t.Helper()
	if len(devices) == 0 {
		devices = testDevices()
	}

	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"

	fc := testingclock.NewFakeClock(t0)
	cfg := &Config{
		HttpOptions: httpOpts,
		Devices:     devices,
		Clock:       fc,
		Logger:      log.NewNopLogger(),
	}
	l, err := cfg.NewLab()
	require.NoError(t, err)
	return l, fc
}

func TestNewLab(t *testing.T) {
	l, _ := newTestLab(t)

	list := l.Devices()
	require.Len(t, list, 3)
	assert.Equal(t, "oven", list[0].ID)
	assert.Equal(t, "tempcontroller", list[0].Kind)
	assert.True(t, list[0].Profiled)
	assert.Equal(t, "1s", list[0].PollInterval)
	assert.Equal(t, "10s", list[1].PollInterval)
	assert.False(t, list[2].Profiled)
	assert.Equal(t, HealthUnknown, list[2].Health)
}

func TestNewLabErrors(t *testing.T) {
	tests := []struct {
		name    string
		devices []DeviceConfig
		want    error
	}{
		{
			name:    "unknown kind",
			devices: []DeviceConfig{{ID: "x", Kind: "laser", Simulated: true}},
			want:    instrument.ErrUnknownKind,
		},
		{
			name:    "real hardware",
			devices: []DeviceConfig{{ID: "x", Kind: "mfc"}},
			want:    device.ErrNoDriver,
		},
		{
			name: "duplicate id",
			devices: []DeviceConfig{
				{ID: "x", Kind: "mfc", Simulated: true},
				{ID: "x", Kind: "mfc", Simulated: true},
			},
			want: ErrDuplicateDevice,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Devices: tt.devices, Logger: log.NewNopLogger()}
			_, err := cfg.NewLab()
			assert.ErrorIs(t, err, tt.want)
		})
	}

	cfg := &Config{Devices: []DeviceConfig{{ID: "x", Kind: "mfc", Simulated: true, PollInterval: -time.Second}}}
	_, err := cfg.NewLab()
	assert.Error(t, err)
}

func TestCommandAndLookups(t *testing.T) {
	l, _ := newTestLab(t)

	require.NoError(t, l.Command("flow", "setpoint", 10))
	d, err := l.Device("flow")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Worker.QueueLen())

	assert.ErrorIs(t, l.Command("nope", "setpoint", 1), ErrUnknownDevice)
	assert.ErrorIs(t, l.Command("flow", "explode", 1), instrument.ErrUnknownCommand)

	_, err = l.ProfileStatus("flow")
	assert.ErrorIs(t, err, ErrNotProfiled)
	assert.Equal(t, device.KindProgramming, device.KindOf(err))
}

func TestTrackerFoldsEvents(t *testing.T) {
	l, _ := newTestLab(t)
	go l.tracker.run()
	t.Cleanup(l.tracker.close)

	l.bus.Publish(event.Event{Kind: event.Reading, Device: "oven", Reading: &event.Value{Name: "process-value", Value: 21.5}, Time: t0})
	l.bus.Publish(event.Event{Kind: event.PollFailed, Device: "oven", Reason: "timeout", Time: t0})

	require.Eventually(t, func() bool {
		st, err := l.Describe("oven")
		return err == nil && st.Health == HealthFailing && st.Readings["process-value"] == 21.5
	}, time.Second, 5*time.Millisecond)

	st, err := l.Describe("oven")
	require.NoError(t, err)
	assert.Equal(t, "timeout", st.LastReason)
	require.NotNil(t, st.Profile)
	assert.Equal(t, profile.StateIdle, st.Profile.State)

	l.bus.Publish(event.Event{Kind: event.TaskSucceeded, Device: "oven", Time: t0.Add(time.Second)})
	require.Eventually(t, func() bool {
		st, _ := l.Describe("oven")
		return st.Health == HealthOK
	}, time.Second, 5*time.Millisecond)

	list := l.Devices()
	assert.Nil(t, list[0].Readings)
}

func TestApplySettings(t *testing.T) {
	l, _ := newTestLab(t)

	err := l.ApplySettings([]DeviceConfig{
		{ID: "oven", PollInterval: 5 * time.Second, Bounds: &profile.Bounds{Lower: 10, Upper: 90}},
		{ID: "ghost", PollInterval: time.Second},
	})
	require.NoError(t, err)

	d, err := l.Device("oven")
	require.NoError(t, err)
	assert.Equal(t, profile.Bounds{Lower: 10, Upper: 90}, d.profiled.Bounds())

	err = l.ApplySettings([]DeviceConfig{{ID: "oven", Bounds: &profile.Bounds{Lower: 90, Upper: 10}}})
	assert.Error(t, err)
	assert.Equal(t, profile.Bounds{Lower: 10, Upper: 90}, d.profiled.Bounds())
}

func TestRunPollsAndShutsDown(t *testing.T) {
	l, fc := newTestLab(t)
	sub := l.bus.Subscribe(1024, event.OfKind(event.ProfileAborted))
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, l.Ready, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		fc.Step(time.Second)
		st, err := l.Describe("oven")
		return err == nil && st.Connected && len(st.Readings) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := l.StartProfile(ctx, "oven", ProfileSpec{Steps: []StepSpec{{Duration: 10, Target: 50}}})
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lab did not stop")
	}

	assert.False(t, l.Ready())
	select {
	case e := <-sub.C:
		assert.Equal(t, "oven", e.Device)
	case <-time.After(time.Second):
		t.Fatal("profile was not aborted on shutdown")
	}

	d, err := l.Device("oven")
	require.NoError(t, err)
	assert.False(t, d.Instrument.IsConnected())
	assert.ErrorIs(t, l.Run(context.Background()), ErrAlreadyStarted)
}

func TestRunRecordsShutdownEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glad.db")
	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"
	recOpts := options.NewRecorderOptions()
	recOpts.Path = path

	cfg := &Config{
		HttpOptions:     httpOpts,
		RecorderOptions: recOpts,
		Devices:         []DeviceConfig{{ID: "oven", Kind: "tempcontroller", Simulated: true}},
		Clock:           testingclock.NewFakeClock(t0),
		Logger:          log.NewNopLogger(),
	}
	l, err := cfg.NewLab()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, l.Ready, time.Second, 5*time.Millisecond)

	_, err = l.StartProfile(ctx, "oven", ProfileSpec{Steps: []StepSpec{{Duration: 10, Target: 50}}})
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lab did not stop")
	}

	db, err := recorder.Open(path)
	require.NoError(t, err)
	rec, err := recorder.New(db, event.NewBus(), recorder.Config{Logger: log.NewNopLogger()})
	require.NoError(t, err)
	defer rec.Close()

	entries, err := rec.Entries(context.Background(), "oven", 100)
	require.NoError(t, err)
	kinds := make([]event.Kind, 0, len(entries))
	for _, en := range entries {
		kinds = append(kinds, en.Kind)
	}
	assert.Contains(t, kinds, event.ProfileStarted)
	assert.Contains(t, kinds, event.ProfileAborted)
}
