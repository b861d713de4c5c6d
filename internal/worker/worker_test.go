package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/event"
)

// mockDevice counts operations and records any overlap between them.
type mockDevice struct {
	mu              sync.Mutex
	connected       bool
	connectFailures int
	connects        int

	inFlight atomic.Int32
	overlaps atomic.Int32
	polls    atomic.Int32
}

func (d *mockDevice) enter() func() {
	if d.inFlight.Add(1) > 1 {
		d.overlaps.Add(1)
	}
	return func() { d.inFlight.Add(-1) }
}

func (d *mockDevice) ID() string { return "mock--0001" }

func (d *mockDevice) Connect(context.Context) error {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connects++
	if d.connectFailures > 0 {
		d.connectFailures--
		return device.ConnectionError("mock", "connect", errors.New("port busy"))
	}
	d.connected = true
	return nil
}

func (d *mockDevice) Disconnect() error {
	defer d.enter()()
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

func (d *mockDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *mockDevice) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func (d *mockDevice) poll(_ context.Context, r Reporter) error {
	defer d.enter()()
	d.polls.Add(1)
	r.Report("value", 1)
	return nil
}

func newTestWorker(t *testing.T, dev *mockDevice, clk clock.Clock, cfg Config) *Worker {
	t.Helper()
	cfg.Clock = clk
	cfg.Seed = 1
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	w, err := New(dev, dev.poll, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return w
}

func recv(t *testing.T, sub *event.Subscription) event.Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

// stepUntilEvent advances the fake clock in small steps until an event arrives.
func stepUntilEvent(t *testing.T, fc *testingclock.FakeClock, sub *event.Subscription, step time.Duration) event.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-sub.C:
			return e
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return event.Event{}
		case <-time.After(time.Millisecond):
			fc.Step(step)
		}
	}
}

func fastPolicy() Policy {
	return Policy{Base: time.Second, Max: 2 * time.Second, Factor: 2}
}

func TestPollReconnectsAfterFailures(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	dev := &mockDevice{connectFailures: 2}
	w := newTestWorker(t, dev, fc, Config{PollInterval: time.Second, PollPolicy: fastPolicy()})
	sub := w.Events().Subscribe(16, event.OfKind(event.PollSucceeded, event.PollFailed))

	require.NoError(t, w.Start(context.Background()))

	kinds := []event.Kind{
		stepUntilEvent(t, fc, sub, 100*time.Millisecond).Kind,
		stepUntilEvent(t, fc, sub, 100*time.Millisecond).Kind,
		stepUntilEvent(t, fc, sub, 100*time.Millisecond).Kind,
	}

	assert.Equal(t, []event.Kind{event.PollFailed, event.PollFailed, event.PollSucceeded}, kinds)
	assert.EqualValues(t, 1, dev.polls.Load())
	assert.Equal(t, 3, dev.Connects())
	assert.True(t, w.Connected())
}

func TestTasksQueuedBeforeStartRunInOrder(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	dev := &mockDevice{}
	w := newTestWorker(t, dev, fc, Config{PollInterval: time.Hour})
	sub := w.Events().Subscribe(16, event.OfKind(event.TaskSucceeded, event.TaskFailed, event.PollSucceeded))

	var mu sync.Mutex
	var ran []string
	for _, name := range []string{"A", "B", "C"} {
		name := name
		w.Enqueue(func(context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		})
	}
	assert.Equal(t, 3, w.QueueLen())

	require.NoError(t, w.Start(context.Background()))
	for i := 0; i < 3; i++ {
		assert.Equal(t, event.TaskSucceeded, recv(t, sub).Kind)
	}

	mu.Lock()
	assert.Equal(t, []string{"A", "B", "C"}, ran)
	mu.Unlock()
	assert.Zero(t, dev.polls.Load())
	assert.Zero(t, w.QueueLen())
}

func TestWorkerNeverRunsOperationsConcurrently(t *testing.T) {
	dev := &mockDevice{}
	w := newTestWorker(t, dev, clock.RealClock{}, Config{PollInterval: time.Millisecond})
	sub := w.Events().Subscribe(1024, event.OfKind(event.TaskSucceeded, event.TaskFailed))

	require.NoError(t, w.Start(context.Background()))

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				w.Enqueue(func(context.Context) error {
					defer dev.enter()()
					time.Sleep(50 * time.Microsecond)
					return nil
				})
				if i%5 == 0 {
					w.RequestDisconnect()
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < producers*perProducer; i++ {
		assert.Equal(t, event.TaskSucceeded, recv(t, sub).Kind)
	}
	require.Eventually(t, func() bool { return dev.polls.Load() > 0 }, 2*time.Second, time.Millisecond)
	assert.Zero(t, dev.overlaps.Load())
}

func TestTaskAbandonedWhenReconnectKeepsFailing(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	dev := &mockDevice{connectFailures: 100}
	w := newTestWorker(t, dev, fc, Config{
		PollInterval:          time.Hour,
		TaskPolicy:            fastPolicy(),
		TaskReconnectAttempts: 2,
	})
	sub := w.Events().Subscribe(16, event.OfKind(event.TaskSucceeded, event.TaskFailed))

	var ran atomic.Bool
	w.Enqueue(func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, w.Start(context.Background()))

	e := stepUntilEvent(t, fc, sub, 100*time.Millisecond)
	assert.Equal(t, event.TaskFailed, e.Kind)
	assert.Contains(t, e.Reason, "giving up after 2 connect attempts")
	assert.False(t, ran.Load())
	assert.Equal(t, 2, dev.Connects())
	assert.Zero(t, w.QueueLen())
}

func TestTaskFailuresAreReported(t *testing.T) {
	dev := &mockDevice{}
	w := newTestWorker(t, dev, clock.RealClock{}, Config{PollInterval: time.Hour})
	sub := w.Events().Subscribe(16, event.OfKind(event.TaskSucceeded, event.TaskFailed))
	require.NoError(t, w.Start(context.Background()))

	w.Enqueue(func(context.Context) error {
		return device.ProtocolError("mock", "set setpoint", device.ErrOutOfRange)
	})
	w.Enqueue(func(context.Context) error { panic("boom") })
	w.Enqueue(func(context.Context) error { return nil })

	e := recv(t, sub)
	assert.Equal(t, event.TaskFailed, e.Kind)
	assert.Contains(t, e.Reason, "value out of range")

	e = recv(t, sub)
	assert.Equal(t, event.TaskFailed, e.Kind)
	assert.Equal(t, "panic: boom", e.Reason)

	assert.Equal(t, event.TaskSucceeded, recv(t, sub).Kind)
}

func TestSetPollInterval(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	dev := &mockDevice{}
	w := newTestWorker(t, dev, fc, Config{PollInterval: 10 * time.Second})
	sub := w.Events().Subscribe(16, event.OfKind(event.PollSucceeded, event.PollFailed))
	require.NoError(t, w.Start(context.Background()))

	assert.ErrorIs(t, w.SetPollInterval(0), ErrInvalidPeriod)

	// An unchanged interval must not restart the countdown.
	fc.Step(5 * time.Second)
	require.NoError(t, w.SetPollInterval(10*time.Second))
	fc.Step(5 * time.Second)
	assert.Equal(t, event.PollSucceeded, recv(t, sub).Kind)

	require.NoError(t, w.SetPollInterval(20*time.Second))
	require.Eventually(t, func() bool { return w.Interval() == 20*time.Second }, time.Second, time.Millisecond)

	fc.Step(10 * time.Second)
	select {
	case e := <-sub.C:
		t.Fatalf("unexpected %s before the new interval elapsed", e.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	fc.Step(10 * time.Second)
	assert.Equal(t, event.PollSucceeded, recv(t, sub).Kind)
	assert.EqualValues(t, 2, dev.polls.Load())
}

func TestRequestDisconnectTriggersReconnect(t *testing.T) {
	dev := &mockDevice{}
	w := newTestWorker(t, dev, clock.RealClock{}, Config{PollInterval: time.Hour})
	sub := w.Events().Subscribe(16, event.OfKind(event.TaskSucceeded))
	require.NoError(t, w.Start(context.Background()))

	w.Enqueue(func(context.Context) error { return nil })
	recv(t, sub)
	require.Equal(t, 1, dev.Connects())

	w.RequestDisconnect()
	require.Eventually(t, func() bool { return !w.Connected() }, time.Second, time.Millisecond)
	assert.False(t, dev.IsConnected())

	w.Enqueue(func(context.Context) error { return nil })
	recv(t, sub)
	assert.Equal(t, 2, dev.Connects())
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	dev := &mockDevice{}
	w := newTestWorker(t, dev, clock.RealClock{}, Config{PollInterval: time.Hour})
	sub := w.Events().Subscribe(16, event.OfKind(event.TaskSucceeded, event.TaskFailed))
	require.NoError(t, w.Start(context.Background()))

	started, release := make(chan struct{}), make(chan struct{})
	w.Enqueue(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	w.Enqueue(func(context.Context) error { return nil })
	w.Enqueue(func(context.Context) error { return nil })

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop(context.Background()) }()
	close(release)

	require.NoError(t, <-stopped)
	for i := 0; i < 3; i++ {
		assert.Equal(t, event.TaskSucceeded, recv(t, sub).Kind)
	}
	assert.False(t, dev.IsConnected())
	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
}

func TestStopIsBoundedByContext(t *testing.T) {
	dev := &mockDevice{}
	w := newTestWorker(t, dev, clock.RealClock{}, Config{PollInterval: time.Hour})
	require.NoError(t, w.Start(context.Background()))

	started, release := make(chan struct{}), make(chan struct{})
	var secondRan atomic.Bool
	w.Enqueue(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	w.Enqueue(func(context.Context) error {
		secondRan.Store(true)
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Stop(ctx), context.DeadlineExceeded)

	close(release)
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.False(t, secondRan.Load())
}
