package lab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Soberat/GLAD/internal/event"
	"github.com/Soberat/GLAD/pkg/log"
	"github.com/Soberat/GLAD/pkg/mqtt"
	"github.com/Soberat/GLAD/pkg/mqtt/topic"
	"github.com/Soberat/GLAD/pkg/options"
)

const (
	bridgeBuffer          = 1024
	bridgePublishTimeout  = 5 * time.Second
	bridgeShutdownTimeout = 5 * time.Second
)

// bridge mirrors the event bus onto MQTT and accepts commands from it.
type bridge struct {
	lab    *Lab
	client mqtt.Client
	topics *topic.TopicBuilder
	agent  string
	qos    int
	log    log.Logger
	sub    *event.Subscription
}

func newBridge(l *Lab, client mqtt.Client, opts *options.MqttOptions) *bridge {
	return &bridge{
		lab:    l,
		client: client,
		topics: topic.NewTopicBuilder(opts.TopicRoot),
		agent:  opts.Agent(),
		qos:    opts.QoS,
		log:    l.log.WithName("bridge"),
		sub:    l.bus.Subscribe(bridgeBuffer),
	}
}

// Start connects, announces the lab online and forwards events until ctx
// is cancelled.
func (b *bridge) Start(ctx context.Context) error {
	defer b.sub.Close()

	if err := b.client.Start(ctx); err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), bridgeShutdownTimeout)
		defer cancel()
		if err := b.client.Publish(shutdownCtx, b.topics.Online(b.agent), b.qos, true, []byte(topic.Offline)); err != nil {
			b.log.Error(err, "Failed to publish offline status")
		}
		b.client.Disconnect(shutdownCtx)
	}()

	b.log.Info("Waiting for MQTT connection...")
	if err := b.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := b.client.Publish(ctx, b.topics.Online(b.agent), b.qos, true, []byte(topic.Online)); err != nil {
		return fmt.Errorf("failed to publish online status: %w", err)
	}
	if err := b.client.Subscribe(ctx, b.topics.CommandWildcard(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			b.flush()
			return nil
		case e, ok := <-b.sub.C:
			if !ok {
				return nil
			}
			b.forward(ctx, e)
		}
	}
}

// flush forwards the events still buffered when the lab stops.
func (b *bridge) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), bridgeShutdownTimeout)
	defer cancel()
	for {
		select {
		case e, ok := <-b.sub.C:
			if !ok {
				return
			}
			b.forward(ctx, e)
		default:
			return
		}
	}
}

func (b *bridge) forward(ctx context.Context, e event.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.log.Error(err, "Failed to encode event", "kind", e.Kind)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, bridgePublishTimeout)
	defer cancel()
	if err := b.client.Publish(pubCtx, b.topics.DeviceEvent(e.Device, string(e.Kind)), b.qos, false, payload); err != nil {
		b.log.Warn("Failed to publish event", "device", e.Device, "kind", e.Kind, "reason", err.Error())
	}
}

func (b *bridge) handleCommand(_ context.Context, t string, payload []byte) {
	id, ok := b.topics.DeviceFromCommand(t)
	if !ok {
		b.log.Warn("Ignoring command on malformed topic", "topic", t)
		return
	}

	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.log.Error(err, "Failed to decode command", "device", id)
		return
	}
	if err := b.lab.Command(id, req.Name, req.Value); err != nil {
		b.log.Error(err, "Rejected command", "device", id, "command", req.Name)
	}
}
