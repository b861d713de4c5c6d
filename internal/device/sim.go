package device

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errSimulatedRefusal = errors.New("simulated connection refused")

// Sim is the in-memory link shared by simulated instruments. It tracks the
// connection state and can be told to refuse connects or drop the link, so
// reconnect behaviour can be exercised without hardware.
type Sim struct {
	id      string
	latency time.Duration

	mu           sync.Mutex
	connected    bool
	failConnects int
	connects     int
}

// NewSim returns a disconnected link. Latency is added to every checked
// operation to mimic a serial round trip.
func NewSim(id string, latency time.Duration) *Sim {
	return &Sim{id: id, latency: latency}
}

func (s *Sim) ID() string { return s.id }

func (s *Sim) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ConnectionError(s.id, "connect", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connects++
	if s.failConnects > 0 {
		s.failConnects--
		return ConnectionError(s.id, "connect", errSimulatedRefusal)
	}
	s.connected = true
	return nil
}

func (s *Sim) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// FailConnects makes the next n connect attempts fail.
func (s *Sim) FailConnects(n int) {
	s.mu.Lock()
	s.failConnects = n
	s.mu.Unlock()
}

// Drop simulates losing the link, e.g. the instrument being powered off.
func (s *Sim) Drop() {
	_ = s.Disconnect()
}

// Connects returns the number of connect attempts so far.
func (s *Sim) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Check gates an instrument operation on the link state and applies the
// configured latency.
func (s *Sim) Check(ctx context.Context, op string) error {
	if !s.IsConnected() {
		return ConnectionError(s.id, op, ErrNotConnected)
	}
	if s.latency <= 0 {
		return nil
	}

	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return TransientError(s.id, op, ctx.Err())
	case <-t.C:
		return nil
	}
}
