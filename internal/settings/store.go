// Package settings exposes the configuration file as a key/value store and
// applies device settings to a running lab when the file changes.
package settings

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Soberat/GLAD/internal/lab"
	"github.com/Soberat/GLAD/pkg/log"
)

// DevicesKey is the configuration key holding the device list.
const DevicesKey = "devices"

// Applier receives device settings read from the file.
type Applier interface {
	ApplySettings(devices []lab.DeviceConfig) error
}

// Store is a get/set-by-key view of a viper configuration. Viper is not safe
// for concurrent use, so every access goes through the store's lock.
type Store struct {
	mu  sync.Mutex
	v   *viper.Viper
	log log.Logger
}

func NewStore(v *viper.Viper, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Std()
	}
	return &Store{v: v, log: logger.WithName("settings")}
}

func (s *Store) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.Get(key)
}

func (s *Store) IsSet(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.IsSet(key)
}

// Set overrides key for the rest of the process. Call Save to persist it.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// Save writes the current settings back to the file they were read from.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Devices decodes the device list.
func (s *Store) Devices() ([]lab.DeviceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devicesLocked()
}

func (s *Store) devicesLocked() ([]lab.DeviceConfig, error) {
	var devices []lab.DeviceConfig
	if err := s.v.UnmarshalKey(DevicesKey, &devices); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", DevicesKey, err)
	}
	return devices, nil
}

// Reload handles a change of the settings file and forwards the device
// settings to a.
func (s *Store) Reload(e fsnotify.Event, a Applier) {
	s.mu.Lock()
	devices, err := s.devicesLocked()
	s.mu.Unlock()
	if err != nil {
		s.log.Error(err, "Failed to reload settings", "file", e.Name)
		return
	}

	s.log.Info("Settings file changed", "file", e.Name, "op", e.Op.String())
	if err := a.ApplySettings(devices); err != nil {
		s.log.Error(err, "Failed to apply settings", "file", e.Name)
	}
}

// Watch re-reads the settings file whenever it changes on disk and applies
// the device settings to a. It returns immediately.
func (s *Store) Watch(a Applier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.v.ConfigFileUsed() == "" {
		s.log.Info("No settings file in use, not watching")
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) { s.Reload(e, a) })
	s.v.WatchConfig()
	s.log.Info("Watching settings file", "file", s.v.ConfigFileUsed())
}
