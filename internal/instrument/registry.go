package instrument

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/profile"
)

// Config describes one instrument to construct.
type Config struct {
	ID        string
	Simulated bool
	// Latency is added to every simulated operation.
	Latency time.Duration
	// Bounds overrides the family's default setpoint range when set.
	Bounds *profile.Bounds
	Clock  clock.PassiveClock
}

// Factory builds the simulated variant of a family.
type Factory func(cfg Config) (Instrument, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a family available under kind. Registering a kind twice panics.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("instrument: kind %q registered twice", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// New constructs an instrument of the given kind. Only simulated variants
// ship; asking for real hardware fails with device.ErrNoDriver.
func New(kind string, cfg Config) (Instrument, error) {
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q, expected one of %v", ErrUnknownKind, kind, Kinds())
	}

	if cfg.ID == "" {
		cfg.ID = device.NewID(kind)
	}
	if !cfg.Simulated {
		return nil, device.NewError(device.KindConnection, cfg.ID, "open", device.ErrNoDriver)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Bounds != nil {
		if err := cfg.Bounds.Validate(); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", cfg.ID, err)
		}
	}

	return f(cfg)
}
