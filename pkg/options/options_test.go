package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:8080", "localhost:80", ":9090", "[::1]:443"} {
		assert.NoError(t, ValidateAddress(addr), addr)
	}
	for _, addr := range []string{"8080", "example.com:80", "0.0.0.0:http", "0.0.0.0:70000"} {
		assert.Error(t, ValidateAddress(addr), addr)
	}
}

func TestDefaultsAreValid(t *testing.T) {
	opts := []IOptions{NewHttpOptions(), NewMqttOptions(), NewWorkerOptions(), NewRecorderOptions()}
	for _, o := range opts {
		assert.Empty(t, o.Validate())
	}

	m := NewMqttOptions()
	m.Enabled = true
	assert.Empty(t, m.Validate())
}

func TestWorkerOptionsValidate(t *testing.T) {
	o := NewWorkerOptions()
	o.PollInterval = 0
	o.TaskBackoff.Max = time.Second
	o.PollBackoff.Factor = 0.5

	assert.Len(t, o.Validate(), 3)
}

func TestMqttOptionsFlags(t *testing.T) {
	o := NewMqttOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--mqtt.enabled", "--mqtt.qos=5", "--mqtt.broker=nope"}))
	assert.True(t, o.Enabled)
	assert.Len(t, o.Validate(), 2)

	cfg := NewMqttOptions().ToClientConfig()
	assert.Equal(t, "glad/v1/online/glad", cfg.WillTopic)
	assert.Equal(t, "glad", cfg.ClientID)
	assert.True(t, cfg.WillRetain)
}
