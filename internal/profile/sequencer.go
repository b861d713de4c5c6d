package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/event"
	"github.com/Soberat/GLAD/pkg/log"
)

var (
	ErrAlreadyRunning  = errors.New("a profile is already active")
	ErrNotRunning      = errors.New("no profile is active")
	ErrProfileTooShort = errors.New("profile needs at least two points")
	ErrPointMismatch   = errors.New("plotted points do not match the steps")
	ErrInvalidStep     = errors.New("step duration must be positive")
)

// Setpoint is one action a Target performs for a profile.
type Setpoint struct {
	// Index is the position of the step in the run, counting a scheduled
	// hold as step zero.
	Index int
	Value float64
	// Ramp is the time the device should take to reach Value. Zero means a step change.
	Ramp time.Duration
	// Hold marks the synthetic step that keeps the current value until a scheduled start.
	Hold bool
}

// Target turns profile actions into device work. Implementations enqueue
// tasks on the worker that owns the device and must not block.
type Target interface {
	ID() string
	Bounds() Bounds
	// Begin enqueues the tasks preparing the device for a run.
	Begin()
	// Apply enqueues the tasks for one setpoint.
	Apply(sp Setpoint)
	// End enqueues the teardown tasks of a finished or aborted run.
	End(aborted bool)
}

// Request describes a run.
type Request struct {
	Policy Policy
	Steps  []Step
	// Points is the plotted form of Steps; len(Points) must be len(Steps)+1.
	Points []Point
	// ScheduledAt delays the run. Nil or a time not in the future starts immediately.
	ScheduledAt *time.Time
	// Hold is the current setpoint, kept until ScheduledAt.
	Hold float64
}

// NewRequest builds a request whose plotted points are derived from steps.
func NewRequest(policy Policy, steps []Step, start float64) Request {
	return Request{Policy: policy, Steps: steps, Points: PointsFromSteps(steps, start)}
}

// Validate applies the basic length checks a run needs.
func (r Request) Validate() error {
	if _, err := ParsePolicy(string(r.Policy)); err != nil {
		return err
	}
	if len(r.Points) < 2 || len(r.Steps) == 0 {
		return ErrProfileTooShort
	}
	if len(r.Steps) != len(r.Points)-1 {
		return fmt.Errorf("%w: %d steps, %d points", ErrPointMismatch, len(r.Steps), len(r.Points))
	}
	for i, s := range r.Steps {
		if s.Duration <= 0 {
			return fmt.Errorf("%w: step %d has duration %v", ErrInvalidStep, i, s.Duration)
		}
	}
	return nil
}

// Status is a snapshot of a sequencer.
type Status struct {
	State     State         `json:"state"`
	RunID     string        `json:"run_id,omitempty"`
	Policy    Policy        `json:"policy,omitempty"`
	Step      int           `json:"step"`
	Steps     int           `json:"steps"`
	NextIn    time.Duration `json:"next_in"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Points    []Point       `json:"points,omitempty"`
}

// SequencerConfig holds the collaborators of a Sequencer.
type SequencerConfig struct {
	Clock  clock.WithDelayedExecution
	Bus    *event.Bus
	Logger log.Logger
}

type action struct {
	at time.Duration
	sp Setpoint
}

type run struct {
	id      string
	policy  Policy
	actions []action
	wait    time.Duration
	end     time.Duration
	points  []Point
	started time.Time

	at    time.Duration
	next  int
	due   time.Time
	timer clock.Timer
}

// Sequencer walks one profile at a time against a Target. It owns no
// long-lived goroutine: each timer callback takes the lock, enqueues work
// through the Target and re-arms the timer.
type Sequencer struct {
	target Target
	clock  clock.WithDelayedExecution
	bus    *event.Bus
	log    log.Logger

	mu  sync.Mutex
	sm  *stateMachine
	cur *run
}

func NewSequencer(target Target, cfg SequencerConfig) *Sequencer {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Std()
	}

	s := &Sequencer{
		target: target,
		clock:  cfg.Clock,
		bus:    cfg.Bus,
		log:    log.ForDevice(cfg.Logger, target.ID(), ""),
	}
	s.sm = newStateMachine(target.ID(), s.log, func(aborted bool) { s.target.End(aborted) })
	return s
}

// Start begins a run. It fails without side effects if a run is active or
// the request is malformed.
func (s *Sequencer) Start(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sm.State() != StateIdle {
		return "", s.reject("start profile", ErrAlreadyRunning)
	}
	if err := req.Validate(); err != nil {
		return "", s.reject("start profile", err)
	}
	policy, _ := ParsePolicy(string(req.Policy))

	now := s.clock.Now()
	var wait time.Duration
	if req.ScheduledAt != nil {
		wait = req.ScheduledAt.Sub(now)
	}
	if wait < 0 {
		wait = 0
	}

	r := s.plan(policy, req, wait)
	r.id = uuid.NewString()
	r.started = now

	ev := eventRun
	if wait > 0 {
		ev = eventSchedule
	}
	if err := s.sm.Event(ctx, ev, r); err != nil {
		return "", s.reject("start profile", err)
	}
	s.cur = r

	s.log.Info("Profile started", "run", r.id, "policy", policy, "steps", len(req.Steps), "wait", wait)
	s.publish(event.ProfileStarted, r, 0, 0)

	s.target.Begin()
	s.advance(ctx, r)
	return r.id, nil
}

// Stop aborts the active run. Tasks the run already enqueued still execute.
func (s *Sequencer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sm.Can(eventAbort) || s.cur == nil {
		return s.reject("stop profile", ErrNotRunning)
	}

	r := s.cur
	if r.timer != nil {
		r.timer.Stop()
	}
	s.cur = nil

	if err := s.sm.Event(ctx, eventAbort); err != nil {
		return fmt.Errorf("stop profile: %w", err)
	}
	s.log.Info("Profile stopped", "run", r.id, "step", r.next)
	s.publish(event.ProfileAborted, r, r.next, 0)

	return s.reset(ctx)
}

// Status returns a snapshot of the active run, or an Idle status.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.sm.State()}
	if r := s.cur; r != nil {
		st.RunID = r.id
		st.Policy = r.policy
		st.Step = r.next
		st.Steps = len(r.actions)
		st.StartedAt = r.started
		st.Points = append([]Point(nil), r.points...)
		if !r.due.IsZero() {
			st.NextIn = r.due.Sub(s.clock.Now())
		}
	}
	return st
}

// plan lays out every setpoint of a run on a timeline starting at zero.
func (s *Sequencer) plan(policy Policy, req Request, wait time.Duration) *run {
	b := s.target.Bounds()
	r := &run{policy: policy, wait: wait}

	index := 0
	points := req.Points
	if wait > 0 {
		hold := b.Clamp(req.Hold)
		r.actions = append(r.actions, action{at: 0, sp: Setpoint{Index: 0, Value: hold, Hold: true}})
		points = append([]Point{{Offset: 0, Value: hold}}, Shift(points, wait)...)
		index = 1
	}
	r.points = points

	at := wait
	for i, step := range req.Steps {
		sp := Setpoint{Index: index + i, Value: b.Clamp(step.Target)}
		switch policy {
		case PolicySlope:
			sp.Ramp = step.Duration
			r.actions = append(r.actions, action{at: at, sp: sp})
			at += step.Duration
		default:
			at += step.Duration
			r.actions = append(r.actions, action{at: at, sp: sp})
		}
	}
	r.end = at
	return r
}

// advance issues every action due at r.at and arms the timer for the next
// point of interest. Callers hold s.mu.
func (s *Sequencer) advance(ctx context.Context, r *run) {
	for r.next < len(r.actions) && r.actions[r.next].at <= r.at {
		sp := r.actions[r.next].sp
		s.target.Apply(sp)
		s.publish(event.ProfileSetpoint, r, sp.Index, sp.Value)
		s.log.Info("Applying profile setpoint", "run", r.id, "step", sp.Index, "value", sp.Value, "ramp", sp.Ramp)
		r.next++
	}

	if r.next == len(r.actions) && r.at >= r.end {
		s.finish(ctx, r)
		return
	}

	nextAt := r.end
	if r.next < len(r.actions) {
		nextAt = r.actions[r.next].at
	}
	if r.at < r.wait && r.wait < nextAt {
		nextAt = r.wait
	}

	r.due = r.started.Add(nextAt)
	delay := r.due.Sub(s.clock.Now())
	if delay <= 0 {
		r.timer = nil
		go s.fire(r, nextAt)
		return
	}
	// The callback must not call back into the clock from the clock's own
	// goroutine, so fire runs on its own.
	r.timer = s.clock.AfterFunc(delay, func() { go s.fire(r, nextAt) })
}

func (s *Sequencer) fire(r *run, at time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != r {
		return
	}
	ctx := context.Background()

	r.at = at
	if s.sm.State() == StateScheduled && r.at >= r.wait {
		if err := s.sm.Event(ctx, eventRun, r); err != nil {
			s.log.Error(err, "Failed to leave scheduled wait", "run", r.id)
			return
		}
		s.log.Info("Scheduled profile running", "run", r.id)
	}
	s.advance(ctx, r)
}

func (s *Sequencer) finish(ctx context.Context, r *run) {
	s.cur = nil
	r.due = time.Time{}

	if err := s.sm.Event(ctx, eventFinish); err != nil {
		s.log.Error(err, "Failed to finish profile", "run", r.id)
		return
	}
	s.log.Info("Profile finished", "run", r.id)
	s.publish(event.ProfileFinished, r, r.next, 0)

	if err := s.reset(ctx); err != nil {
		s.log.Error(err, "Failed to reset profile state", "run", r.id)
	}
}

func (s *Sequencer) reset(ctx context.Context) error {
	if err := s.sm.Event(ctx, eventReset); err != nil {
		return fmt.Errorf("reset profile: %w", err)
	}
	return nil
}

func (s *Sequencer) reject(op string, err error) error {
	return device.NewError(device.KindProgramming, s.target.ID(), op, err)
}

func (s *Sequencer) publish(kind event.Kind, r *run, step int, target float64) {
	s.bus.Publish(event.Event{
		Kind:   kind,
		Device: s.target.ID(),
		Profile: &event.Profile{
			RunID:  r.id,
			State:  s.sm.Current(),
			Step:   step,
			Target: target,
		},
		Time: s.clock.Now(),
	})
}
