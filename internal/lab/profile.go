package lab

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Soberat/GLAD/internal/instrument"
	"github.com/Soberat/GLAD/internal/profile"
)

var ErrInvalidProfile = errors.New("invalid profile")

// StepSpec is one absolute step; Duration is in minutes.
type StepSpec struct {
	Duration float64 `json:"duration"`
	Target   float64 `json:"target"`
}

// SlopeSpec changes the value by Rate per minute for Duration minutes.
type SlopeSpec struct {
	Rate     float64 `json:"rate"`
	Duration float64 `json:"duration"`
}

// ProfileSpec is the user-facing description of a profile run. Exactly one
// of Steps and Slopes is set, and at most one of ScheduledAt and Schedule.
type ProfileSpec struct {
	Policy string      `json:"policy,omitempty"`
	Steps  []StepSpec  `json:"steps,omitempty"`
	Slopes []SlopeSpec `json:"slopes,omitempty"`

	// Interpolate resamples the profile into this many evenly spaced steps.
	Interpolate int `json:"interpolate,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	// Schedule is a standard five-field cron expression; the run starts at
	// its next activation.
	Schedule string `json:"schedule,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProfile, fmt.Sprintf(format, args...))
}

// Request converts s into a sequencer request for p, evaluated at now.
func (s ProfileSpec) Request(p instrument.Profiled, now time.Time) (profile.Request, error) {
	policy, err := profile.ParsePolicy(s.Policy)
	if err != nil {
		return profile.Request{}, invalid("%v", err)
	}
	if s.Policy == "" {
		policy = p.Policy()
	}

	var points []profile.Point
	switch {
	case len(s.Steps) > 0 && len(s.Slopes) > 0:
		return profile.Request{}, invalid("steps and slopes are mutually exclusive")
	case len(s.Slopes) > 0:
		if s.Policy == "" {
			policy = profile.PolicySlope
		}
		segments := make([]profile.Segment, 0, len(s.Slopes))
		for i, sl := range s.Slopes {
			if sl.Duration <= 0 {
				return profile.Request{}, invalid("slope %d has duration %v", i, sl.Duration)
			}
			segments = append(segments, profile.Segment{Rate: sl.Rate, Duration: profile.Minutes(sl.Duration)})
		}
		points = profile.SlopePoints(segments, 0, p.Bounds())
	case len(s.Steps) > 0:
		steps := make([]profile.Step, 0, len(s.Steps))
		for i, st := range s.Steps {
			if st.Duration <= 0 {
				return profile.Request{}, invalid("step %d has duration %v", i, st.Duration)
			}
			steps = append(steps, profile.Step{Duration: profile.Minutes(st.Duration), Target: st.Target})
		}
		points = profile.PointsFromSteps(steps, p.Setpoint())
	default:
		return profile.Request{}, invalid("no steps or slopes given")
	}

	if s.Interpolate < 0 {
		return profile.Request{}, invalid("interpolate must not be negative")
	}
	points = profile.Interpolate(points, s.Interpolate)

	req := profile.Request{
		Policy: policy,
		Steps:  profile.StepsFromPoints(points),
		Points: points,
		Hold:   p.Setpoint(),
	}

	switch {
	case s.ScheduledAt != nil && s.Schedule != "":
		return profile.Request{}, invalid("scheduled_at and schedule are mutually exclusive")
	case s.ScheduledAt != nil:
		at := *s.ScheduledAt
		req.ScheduledAt = &at
	case s.Schedule != "":
		sched, err := cron.ParseStandard(s.Schedule)
		if err != nil {
			return profile.Request{}, invalid("schedule %q: %v", s.Schedule, err)
		}
		at := sched.Next(now)
		req.ScheduledAt = &at
	}
	return req, nil
}
