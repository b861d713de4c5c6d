package worker

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Policy describes a reconnect backoff schedule.
type Policy struct {
	// Base is the wait after the first failed attempt and the lower bound of every wait.
	Base time.Duration `json:"base" mapstructure:"base"`
	// Max caps every wait.
	Max time.Duration `json:"max" mapstructure:"max"`
	// Factor multiplies the un-jittered wait on each further attempt.
	Factor float64 `json:"factor" mapstructure:"factor"`
	// Jitter is the upper bound of the uniform random addition.
	Jitter time.Duration `json:"jitter" mapstructure:"jitter"`
}

// DefaultPollPolicy is used while a periodic poll waits for its device.
func DefaultPollPolicy() Policy {
	return Policy{Base: 30 * time.Second, Max: 300 * time.Second, Factor: 2, Jitter: 30 * time.Second}
}

// DefaultTaskPolicy is used before an interactive task; its ceiling is much lower.
func DefaultTaskPolicy() Policy {
	return Policy{Base: 5 * time.Second, Max: 10 * time.Second, Factor: 2, Jitter: 5 * time.Second}
}

func (p Policy) Validate() error {
	var errs []error
	if p.Base <= 0 {
		errs = append(errs, errors.New("backoff base must be positive"))
	}
	if p.Max < p.Base {
		errs = append(errs, errors.New("backoff max must not be lower than base"))
	}
	if p.Factor < 1 {
		errs = append(errs, errors.New("backoff factor must be at least 1"))
	}
	if p.Jitter < 0 {
		errs = append(errs, errors.New("backoff jitter must not be negative"))
	}
	return errors.Join(errs...)
}

// Backoff computes waits for a Policy. The random source is seeded, so the
// sequence of waits is reproducible.
type Backoff struct {
	policy Policy

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBackoff(p Policy, seed uint64) *Backoff {
	return &Backoff{
		policy: p,
		rnd:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (b *Backoff) Policy() Policy { return b.policy }

// Delay returns the wait after the given failed attempt (1-based). The
// result always lies in [Base, Max].
func (b *Backoff) Delay(attempt int) time.Duration {
	p := b.policy
	if attempt < 1 {
		attempt = 1
	}

	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(p.Base) * math.Pow(factor, float64(attempt-1))
	if p.Jitter > 0 {
		b.mu.Lock()
		d += float64(b.rnd.Int64N(int64(p.Jitter)))
		b.mu.Unlock()
	}

	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(p.Max) {
		return p.Max
	}
	if d < float64(p.Base) {
		return p.Base
	}
	return time.Duration(d)
}
