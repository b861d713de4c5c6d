package lab

import (
	"maps"
	"sync"
	"time"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/event"
	"github.com/Soberat/GLAD/internal/profile"
)

const trackerBuffer = 256

// Health summarizes the last status event of a device.
type Health string

const (
	HealthUnknown Health = "unknown"
	HealthOK      Health = "ok"
	HealthFailing Health = "failing"
)

// DeviceStatus is the observable state of one device.
type DeviceStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Kind         string     `json:"kind"`
	Connected    bool       `json:"connected"`
	Health       Health     `json:"health"`
	LastStatus   event.Kind `json:"last_status,omitempty"`
	LastReason   string     `json:"last_reason,omitempty"`
	LastUpdate   time.Time  `json:"last_update,omitempty"`
	PollInterval string     `json:"poll_interval"`
	QueueLen     int        `json:"queue_len"`
	Commands     []string   `json:"commands"`
	Profiled     bool       `json:"profiled"`

	Readings map[string]float64 `json:"readings,omitempty"`
	Profile  *profile.Status    `json:"profile,omitempty"`
}

type deviceState struct {
	lastStatus event.Kind
	lastReason string
	lastUpdate time.Time
	readings   map[string]float64
}

// tracker folds the event stream into the latest state of each device.
type tracker struct {
	sub  *event.Subscription
	done chan struct{}

	mu     sync.RWMutex
	states map[string]*deviceState
}

func newTracker(bus *event.Bus) *tracker {
	return &tracker{
		sub:    bus.Subscribe(trackerBuffer),
		done:   make(chan struct{}),
		states: make(map[string]*deviceState),
	}
}

func (t *tracker) run() {
	defer close(t.done)
	for e := range t.sub.C {
		t.observe(e)
	}
}

func (t *tracker) close() { t.sub.Close() }

func (t *tracker) observe(e event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[e.Device]
	if !ok {
		s = &deviceState{readings: make(map[string]float64)}
		t.states[e.Device] = s
	}

	switch e.Kind {
	case event.Reading:
		if e.Reading != nil {
			s.readings[e.Reading.Name] = e.Reading.Value
		}
	case event.TaskSucceeded, event.TaskFailed, event.PollSucceeded, event.PollFailed:
		s.lastStatus = e.Kind
		s.lastReason = e.Reason
		s.lastUpdate = e.Time
	}
}

func (t *tracker) fill(st *DeviceStatus, withReadings bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st.Health = HealthUnknown
	s, ok := t.states[st.ID]
	if !ok {
		return
	}
	if s.lastStatus != "" {
		st.Health = HealthOK
		if s.lastStatus.Failure() {
			st.Health = HealthFailing
		}
	}
	st.LastStatus = s.lastStatus
	st.LastReason = s.lastReason
	st.LastUpdate = s.lastUpdate
	if withReadings {
		st.Readings = maps.Clone(s.readings)
	}
}

func (l *Lab) status(d *Device, detail bool) DeviceStatus {
	id := d.Instrument.ID()
	st := DeviceStatus{
		ID:           id,
		Name:         device.ShortName(id),
		Kind:         d.Instrument.Kind(),
		Connected:    d.Worker.Connected(),
		PollInterval: d.Worker.Interval().String(),
		QueueLen:     d.Worker.QueueLen(),
		Commands:     d.Instrument.Commands(),
		Profiled:     d.Sequencer != nil,
	}
	l.tracker.fill(&st, detail)
	if detail && d.Sequencer != nil {
		ps := d.Sequencer.Status()
		st.Profile = &ps
	}
	return st
}

// Devices lists every device in configuration order.
func (l *Lab) Devices() []DeviceStatus {
	out := make([]DeviceStatus, 0, len(l.order))
	for _, d := range l.list() {
		out = append(out, l.status(d, false))
	}
	return out
}

// Describe returns the state of one device with its latest readings and
// profile status.
func (l *Lab) Describe(id string) (DeviceStatus, error) {
	d, err := l.Device(id)
	if err != nil {
		return DeviceStatus{}, err
	}
	return l.status(d, true), nil
}
