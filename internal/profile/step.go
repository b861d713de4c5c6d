package profile

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Unit is the time unit profile durations and slope rates are expressed in.
const Unit = time.Minute

// Step holds Target once Duration has elapsed.
type Step struct {
	Duration time.Duration `json:"duration"`
	Target   float64       `json:"target"`
}

// Point is one vertex of the plotted representation of a profile.
type Point struct {
	Offset time.Duration `json:"offset"`
	Value  float64       `json:"value"`
}

// Segment is one entry of a slope profile: change Rate units per Unit for Duration.
type Segment struct {
	Rate     float64       `json:"rate"`
	Duration time.Duration `json:"duration"`
}

// Policy selects how steps turn into device setpoints.
type Policy string

const (
	// PolicyAbsolute applies each target when its step ends.
	PolicyAbsolute Policy = "absolute"
	// PolicySlope applies each target when its step begins, with a ramp over the step.
	PolicySlope Policy = "slope"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAbsolute, "":
		return PolicyAbsolute, nil
	case PolicySlope:
		return PolicySlope, nil
	default:
		return "", fmt.Errorf("unknown profile policy %q", s)
	}
}

// Bounds is the allowed range of the process variable.
type Bounds struct {
	Lower float64 `json:"lower" mapstructure:"lower"`
	Upper float64 `json:"upper" mapstructure:"upper"`
}

func (b Bounds) Clamp(v float64) float64 {
	return math.Min(math.Max(v, b.Lower), b.Upper)
}

func (b Bounds) Validate() error {
	if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) {
		return errors.New("bounds must be numbers")
	}
	if b.Lower > b.Upper {
		return fmt.Errorf("lower bound %v is above upper bound %v", b.Lower, b.Upper)
	}
	return nil
}

// Total returns the summed duration of steps.
func Total(steps []Step) time.Duration {
	var d time.Duration
	for _, s := range steps {
		d += s.Duration
	}
	return d
}

// Minutes converts a float number of Units to a duration.
func Minutes(v float64) time.Duration {
	return time.Duration(v * float64(Unit))
}
