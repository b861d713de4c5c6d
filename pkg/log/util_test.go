package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name  string
		input []any
		keys  []string
	}{
		{"empty input", []any{}, nil},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, []string{"a", "b", "c"}},
		{"time and duration", []any{"t", now, "d", 3 * time.Second}, []string{"t", "d"}},
		{"float", []any{"setpoint", 21.5}, []string{"setpoint"}},
		{"bytes", []any{"data", []byte("xyz")}, []string{"data"}},
		{"error only", []any{err}, []string{"error"}},
		{"field passthrough", []any{"msg", "ok", zap.String("x", "y"), "num", 42}, []string{"msg", "x", "num"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, []string{"a", "b"}},
		{"stringer", []any{"state", zapcore.InfoLevel}, []string{"state"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			keys := make([]string, 0, len(fields))
			for _, f := range fields {
				assert.NotEmpty(t, f.Key)
				keys = append(keys, f.Key)
			}
			if tt.keys == nil {
				assert.Empty(t, keys)
				return
			}
			assert.Equal(t, tt.keys, keys)
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := NewOptions()
	assert.Empty(t, opts.Validate())

	opts.Level = "loud"
	opts.Format = "xml"
	assert.Len(t, opts.Validate(), 2)
}

func TestForDevice(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := &zapLogger{z: zap.New(core)}

	ForDevice(base, "oven--0001", "tempcontroller").WithName("worker").Warn("Poll failed", "attempt", 2)
	ForDevice(base, "flow--0002", "").Info("Connected")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "worker", entries[0].LoggerName)
	assert.Equal(t, map[string]any{
		KeyDevice: "oven--0001",
		KeyKind:   "tempcontroller",
		"attempt": int64(2),
	}, entries[0].ContextMap())
	assert.Equal(t, map[string]any{KeyDevice: "flow--0002"}, entries[1].ContextMap())
}
