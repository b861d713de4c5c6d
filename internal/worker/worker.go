package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/event"
	"github.com/Soberat/GLAD/internal/pkg/metrics"
	"github.com/Soberat/GLAD/pkg/log"
)

var (
	ErrAlreadyStarted = errors.New("worker already started")
	ErrInvalidPeriod  = errors.New("poll interval must be positive")

	errStopping = errors.New("worker stopping")
)

const (
	modePoll = "poll"
	modeTask = "task"
)

// Reporter publishes domain readings from inside a poll.
type Reporter interface {
	Report(name string, value float64)
}

// PollFunc is the device-specific periodic operation.
type PollFunc func(ctx context.Context, r Reporter) error

// Worker owns one Device. A single goroutine runs the periodic poll and
// the queued tasks, so no two device operations ever overlap.
type Worker struct {
	dev  device.Device
	poll PollFunc
	cfg  Config

	id    string
	log   log.Logger
	clock clock.Clock
	bus   *event.Bus
	queue *Queue

	pollBackoff *Backoff
	taskBackoff *Backoff

	interval     atomic.Int64
	requested    atomic.Int64
	connected    atomic.Bool
	intervalCh   chan struct{}
	disconnectCh chan struct{}

	mu       sync.Mutex
	started  bool
	timer    clock.Timer
	cancel   context.CancelFunc
	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a worker for dev. The worker does nothing until Start.
func New(dev device.Device, poll PollFunc, cfg Config) (*Worker, error) {
	if dev == nil {
		return nil, errors.New("device is required")
	}
	if poll == nil {
		return nil, errors.New("poll function is required")
	}

	setDefaultConfig(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	w := &Worker{
		dev:          dev,
		poll:         poll,
		cfg:          cfg,
		id:           dev.ID(),
		clock:        cfg.Clock,
		bus:          cfg.Bus,
		queue:        NewQueue(),
		pollBackoff:  NewBackoff(cfg.PollPolicy, cfg.Seed),
		taskBackoff:  NewBackoff(cfg.TaskPolicy, cfg.Seed+1),
		intervalCh:   make(chan struct{}, 1),
		disconnectCh: make(chan struct{}, 1),
		stopping:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	w.log = log.ForDevice(cfg.Logger, w.id, cfg.Kind)
	w.interval.Store(int64(cfg.PollInterval))
	w.requested.Store(int64(cfg.PollInterval))

	return w, nil
}

func (w *Worker) ID() string             { return w.id }
func (w *Worker) Kind() string           { return w.cfg.Kind }
func (w *Worker) Events() *event.Bus     { return w.bus }
func (w *Worker) QueueLen() int          { return w.queue.Len() }
func (w *Worker) Interval() time.Duration { return time.Duration(w.interval.Load()) }

// Connected reports the link state observed by the worker's last operation.
func (w *Worker) Connected() bool { return w.connected.Load() }

// Start arms the first poll one interval from now and launches the loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.timer = w.clock.NewTimer(time.Duration(w.requested.Load()))
	w.interval.Store(w.requested.Load())

	w.log.Info("Starting device worker", "interval", w.Interval())
	go w.run(ctx)
	return nil
}

// Enqueue appends a task to the command queue. It never blocks.
func (w *Worker) Enqueue(t Task) {
	if t == nil {
		return
	}
	w.queue.Push(t)
	metrics.QueueDepth.WithLabelValues(w.id).Set(float64(w.queue.Len()))
}

// SetPollInterval requests a new poll interval. It takes effect on the
// worker's own loop; an unchanged value leaves the running countdown alone.
func (w *Worker) SetPollInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidPeriod
	}
	w.requested.Store(int64(d))
	select {
	case w.intervalCh <- struct{}{}:
	default:
	}
	return nil
}

// RequestDisconnect asks the worker to close the device link. The next poll
// or task reconnects.
func (w *Worker) RequestDisconnect() {
	select {
	case w.disconnectCh <- struct{}{}:
	default:
	}
}

// Stop halts scheduling, runs the tasks still queued while ctx allows, and
// closes the device. An operation in flight is never interrupted.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return nil
	}

	w.stopOnce.Do(func() { close(w.stopping) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cancel()
		return ctx.Err()
	}
}

// Done is closed once the loop has exited and the device is closed.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Report implements Reporter.
func (w *Worker) Report(name string, value float64) {
	w.bus.Publish(event.Event{
		Kind:    event.Reading,
		Device:  w.id,
		Reading: &event.Value{Name: name, Value: value},
		Time:    w.clock.Now(),
	})
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.timer.Stop()

	// Device calls never see the cancellation of ctx: in-flight I/O runs to
	// completion or to its own timeout.
	opCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-w.stopping:
			w.drain(ctx, opCtx)
			return
		default:
		}

		select {
		case <-ctx.Done():
			w.closeDevice()
			return
		case <-w.stopping:
			w.drain(ctx, opCtx)
			return
		case <-w.queue.Ready():
			w.runNext(ctx, opCtx)
		case <-w.timer.C():
			w.tick(ctx, opCtx)
			w.timer.Reset(w.Interval())
		case <-w.intervalCh:
			w.applyInterval()
		case <-w.disconnectCh:
			w.log.Info("Disconnect requested")
			w.closeDevice()
		}
	}
}

func (w *Worker) tick(ctx, opCtx context.Context) {
	w.log.Debug("Worker starting periodic call")

	if !w.dev.IsConnected() {
		err := w.reconnect(ctx, opCtx, modePoll, w.pollBackoff, 0, func(err error) {
			metrics.PollTotal.WithLabelValues(w.id, "failed").Inc()
			w.publish(event.PollFailed, err.Error())
		})
		if err != nil {
			return
		}
	}

	err := w.call(opCtx, func(ctx context.Context) error { return w.poll(ctx, w) })
	w.connected.Store(w.dev.IsConnected())
	if err != nil {
		w.log.Error(err, "Error executing periodic function", "kind", device.KindOf(err).String())
		metrics.PollTotal.WithLabelValues(w.id, "failed").Inc()
		w.publish(event.PollFailed, err.Error())
		return
	}

	w.log.Debug("Periodic call successful")
	metrics.PollTotal.WithLabelValues(w.id, "success").Inc()
	w.publish(event.PollSucceeded, "")
}

func (w *Worker) runNext(ctx, opCtx context.Context) {
	task, ok := w.queue.Pop()
	metrics.QueueDepth.WithLabelValues(w.id).Set(float64(w.queue.Len()))
	if !ok {
		return
	}

	if !w.dev.IsConnected() {
		if err := w.reconnect(ctx, opCtx, modeTask, w.taskBackoff, w.cfg.TaskReconnectAttempts, nil); err != nil {
			w.log.Error(err, "Abandoning task, device unavailable")
			metrics.TaskTotal.WithLabelValues(w.id, "abandoned").Inc()
			w.publish(event.TaskFailed, err.Error())
			return
		}
	}

	w.execute(opCtx, task)
}

func (w *Worker) execute(opCtx context.Context, task Task) {
	start := w.clock.Now()
	err := w.call(opCtx, task)
	metrics.TaskDuration.WithLabelValues(w.id).Observe(w.clock.Since(start).Seconds())
	w.connected.Store(w.dev.IsConnected())

	if err != nil {
		w.log.Error(err, "Error executing task", "kind", device.KindOf(err).String())
		metrics.TaskTotal.WithLabelValues(w.id, "failed").Inc()
		w.publish(event.TaskFailed, err.Error())
		return
	}

	metrics.TaskTotal.WithLabelValues(w.id, "success").Inc()
	w.publish(event.TaskSucceeded, "")
}

// drain runs what is left in the queue after Stop. Nothing reconnects
// any more: tasks against a closed link fail straight away.
func (w *Worker) drain(ctx, opCtx context.Context) {
	defer w.closeDevice()

	for {
		if ctx.Err() != nil {
			if n := w.queue.Len(); n > 0 {
				w.log.Warn("Shutdown deadline reached, dropping queued tasks", "count", n)
			}
			return
		}

		task, ok := w.queue.Pop()
		if !ok {
			return
		}
		if !w.dev.IsConnected() {
			metrics.TaskTotal.WithLabelValues(w.id, "abandoned").Inc()
			w.publish(event.TaskFailed, errStopping.Error())
			continue
		}
		w.execute(opCtx, task)
	}
}

// reconnect calls Connect until it succeeds, the attempt limit is hit
// (maxAttempts <= 0 means no limit) or the worker stops.
func (w *Worker) reconnect(ctx, opCtx context.Context, mode string, b *Backoff, maxAttempts int, onFailure func(error)) error {
	for attempt := 1; ; attempt++ {
		err := w.dev.Connect(opCtx)
		if err == nil {
			w.connected.Store(true)
			w.log.Info("Device connected", "mode", mode, "attempts", attempt)
			return nil
		}

		w.connected.Store(false)
		if device.KindOf(err) == device.KindUnknown {
			err = device.ConnectionError(w.id, "connect", err)
		}
		metrics.ReconnectAttempts.WithLabelValues(w.id, mode).Inc()
		if onFailure != nil {
			onFailure(err)
		}

		if maxAttempts > 0 && attempt >= maxAttempts {
			return fmt.Errorf("giving up after %d connect attempts: %w", attempt, err)
		}

		delay := b.Delay(attempt)
		w.log.Warn("Connect failed, retrying", "mode", mode, "attempt", attempt, "delay", delay, "reason", err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopping:
			return errStopping
		case <-w.clock.After(delay):
		}
	}
}

func (w *Worker) applyInterval() {
	next := time.Duration(w.requested.Load())
	if next == w.Interval() {
		return
	}

	if !w.timer.Stop() {
		select {
		case <-w.timer.C():
		default:
		}
	}
	w.timer.Reset(next)
	w.log.Info("Poll interval changed", "from", w.Interval(), "to", next)
	w.interval.Store(int64(next))
}

func (w *Worker) closeDevice() {
	if !w.dev.IsConnected() {
		w.connected.Store(false)
		return
	}
	if err := w.dev.Disconnect(); err != nil {
		w.log.Error(err, "Failed to disconnect device")
	}
	w.connected.Store(w.dev.IsConnected())
}

// call runs fn and turns a panic into an error so that one bad operation
// cannot take the worker down.
func (w *Worker) call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (w *Worker) publish(kind event.Kind, reason string) {
	w.bus.Publish(event.Event{
		Kind:   kind,
		Device: w.id,
		Reason: reason,
		Time:   w.clock.Now(),
	})
}
