package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning handler to a looplab callback; the
// error is surfaced through event.Err.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Before is the callback key of the guard run before event.
func Before(event string) string { return "before_" + event }

// Enter is the callback key of the side effect run on entering state.
func Enter(state string) string { return "enter_" + state }

// EnterAny is the callback key run on entering every state.
const EnterAny = "enter_state"
