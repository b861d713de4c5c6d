package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soberat/GLAD/pkg/log"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"glad/command/oven", "glad/command/oven", true},
		{"glad/command/+", "glad/command/oven", true},
		{"glad/command/+", "glad/command/oven/extra", false},
		{"glad/#", "glad/device/oven/reading", true},
		{"glad/device/+/reading", "glad/device/oven/reading", true},
		{"glad/device/+/reading", "glad/device/oven/poll", false},
		{"glad/command/oven", "glad/command/mfc", false},
		{"glad/+/+", "glad/online", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, topicsMatch(tt.filter, tt.topic))
		})
	}
}

func TestTopicFilterStripsSharePrefix(t *testing.T) {
	assert.Equal(t, "glad/command/+", topicFilter("$share/lab/glad/command/+"))
	assert.Equal(t, "glad/command/+", topicFilter("glad/command/+"))
}

func TestClientConfigValidate(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{})
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "localhost"})
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "tcp://localhost:1883", WillQoS: 3})
	require.Error(t, err)

	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://localhost:1883", Logger: log.NewNopLogger()})
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(context.Background(), "t", 0, false, nil), errNotStarted)
}

func TestWillMessage(t *testing.T) {
	c := &pahoClient{cfg: &ClientConfig{}}
	assert.Nil(t, c.willMessage())

	c.cfg = &ClientConfig{WillTopic: "glad/online/lab", WillPayload: []byte("offline"), WillQoS: 1, WillRetain: true}
	w := c.willMessage()
	require.NotNil(t, w)
	assert.Equal(t, "glad/online/lab", w.Topic)
	assert.Equal(t, []byte("offline"), w.Payload)
	assert.True(t, w.Retain)
}
