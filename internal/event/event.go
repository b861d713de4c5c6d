package event

import "time"

// Kind identifies what happened.
type Kind string

const (
	TaskSucceeded Kind = "task.succeeded"
	TaskFailed    Kind = "task.failed"
	PollSucceeded Kind = "poll.succeeded"
	PollFailed    Kind = "poll.failed"

	// Reading carries a domain value produced by a poll, e.g. a flow or a process value.
	Reading Kind = "reading"

	ProfileStarted  Kind = "profile.started"
	ProfileSetpoint Kind = "profile.setpoint"
	ProfileFinished Kind = "profile.finished"
	ProfileAborted  Kind = "profile.aborted"
)

// Failure reports whether the kind is a negative status.
func (k Kind) Failure() bool {
	return k == TaskFailed || k == PollFailed
}

// Value is a named measurement.
type Value struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Profile describes the state of a profile run at the time of the event.
type Profile struct {
	RunID  string  `json:"run_id"`
	State  string  `json:"state"`
	Step   int     `json:"step"`
	Target float64 `json:"target,omitempty"`
}

// Event is the single message type carried by a Bus.
type Event struct {
	Kind    Kind      `json:"kind"`
	Device  string    `json:"device"`
	Reason  string    `json:"reason,omitempty"`
	Reading *Value    `json:"reading,omitempty"`
	Profile *Profile  `json:"profile,omitempty"`
	Time    time.Time `json:"time"`
}

// Filter selects the events a subscription receives.
type Filter func(Event) bool

// ForDevice matches events of one device.
func ForDevice(id string) Filter {
	return func(e Event) bool { return e.Device == id }
}

// OfKind matches any of the given kinds.
func OfKind(kinds ...Kind) Filter {
	return func(e Event) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}
