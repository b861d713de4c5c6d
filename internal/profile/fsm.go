package profile

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/Soberat/GLAD/internal/pkg/metrics"
	fsmutil "github.com/Soberat/GLAD/internal/pkg/util/fsm"
	"github.com/Soberat/GLAD/pkg/log"
)

// State is the execution state of a profile run.
type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
	StateFinished  State = "finished"
	StateAborted   State = "aborted"
)

const (
	// eventSchedule starts a run that waits for its scheduled time.
	eventSchedule = "schedule"
	// eventRun starts executing steps, from Idle or after the wait.
	eventRun = "run"
	// eventFinish ends a run whose steps are exhausted.
	eventFinish = "finish"
	// eventAbort ends a run on request.
	eventAbort = "abort"
	// eventReset makes a terminal run Idle again.
	eventReset = "reset"
)

type stateMachine struct {
	*fsm.FSM

	device   string
	log      log.Logger
	teardown func(aborted bool)
}

func newStateMachine(device string, logger log.Logger, teardown func(aborted bool)) *stateMachine {
	m := &stateMachine{device: device, log: logger, teardown: teardown}

	idle, scheduled, running := string(StateIdle), string(StateScheduled), string(StateRunning)
	finished, aborted := string(StateFinished), string(StateAborted)

	events := fsm.Events{
		{Name: eventSchedule, Src: []string{idle}, Dst: scheduled},
		{Name: eventRun, Src: []string{idle, scheduled}, Dst: running},
		{Name: eventFinish, Src: []string{running}, Dst: finished},
		{Name: eventAbort, Src: []string{scheduled, running}, Dst: aborted},
		{Name: eventReset, Src: []string{finished, aborted}, Dst: idle},
	}

	callbacks := fsm.Callbacks{
		fsmutil.Before(eventSchedule): fsmutil.WrapEvent(m.GuardHasSetpoints),
		fsmutil.Before(eventRun):      fsmutil.WrapEvent(m.GuardHasSetpoints),

		fsmutil.EnterAny:        fsmutil.WrapEvent(m.ActionEnterState),
		fsmutil.Enter(finished): fsmutil.WrapEvent(m.ActionTeardown),
		fsmutil.Enter(aborted):  fsmutil.WrapEvent(m.ActionTeardown),
	}

	m.FSM = fsm.NewFSM(idle, events, callbacks)
	metrics.ProfileState.WithLabelValues(device).Set(stateValue(StateIdle))
	return m
}

func (m *stateMachine) State() State {
	return State(m.Current())
}

// GuardHasSetpoints cancels a transition into an active state unless the
// event carries a run with setpoints left to apply.
func (m *stateMachine) GuardHasSetpoints(ctx context.Context, e *fsm.Event) error {
	var r *run
	if len(e.Args) > 0 {
		r, _ = e.Args[0].(*run)
	}
	if r == nil || r.next >= len(r.actions) {
		e.Cancel(ErrProfileTooShort)
	}
	return nil
}

// ActionEnterState exports every transition as a metric and a log line.
func (m *stateMachine) ActionEnterState(ctx context.Context, e *fsm.Event) error {
	metrics.ProfileState.WithLabelValues(m.device).Set(stateValue(State(e.Dst)))
	m.log.Debug("Profile state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
	return nil
}

// ActionTeardown hands the device back to safe defaults.
func (m *stateMachine) ActionTeardown(ctx context.Context, e *fsm.Event) error {
	m.teardown(e.Event == eventAbort)
	return nil
}

func stateValue(s State) float64 {
	switch s {
	case StateScheduled:
		return 1
	case StateRunning:
		return 2
	default:
		return 0
	}
}
