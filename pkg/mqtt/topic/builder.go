package topic

import (
	"strings"
)

// Topic segments shared by the lab and any consumer of its events.
const (
	// SuffixDevice carries device events (Lab -> Broker).
	// Structure: {root}/device/{deviceID}/{kind...}
	SuffixDevice = "device"

	// SuffixCommand carries commands for one device (Broker -> Lab).
	// Structure: {root}/command/{deviceID}
	SuffixCommand = "command"

	// SuffixOnline carries the retained online/offline status of a lab.
	// Structure: {root}/online/{agentID}
	SuffixOnline = "online"
)

// Payloads of the online topic.
const (
	Online  = "online"
	Offline = "offline"
)

// TopicBuilder constructs topic strings under one root namespace.
type TopicBuilder struct {
	root string
}

// NewTopicBuilder creates a TopicBuilder for root, e.g. "glad/v1".
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

func (b *TopicBuilder) Root() string { return b.root }

// DeviceEvent returns the topic of an event of the given kind. Dots in the
// kind become levels, so "poll.failed" is published under .../poll/failed.
func (b *TopicBuilder) DeviceEvent(deviceID, kind string) string {
	return b.Build(SuffixDevice, deviceID, strings.ReplaceAll(kind, ".", "/"))
}

// DeviceEventWildcard matches every event of every device.
// Result: {root}/device/#
func (b *TopicBuilder) DeviceEventWildcard() string {
	return b.Build(SuffixDevice, MultiWildcard)
}

// Command returns the command topic of a device.
func (b *TopicBuilder) Command(deviceID string) string {
	return b.Build(SuffixCommand, deviceID)
}

// CommandWildcard matches the command topics of all devices.
// Result: {root}/command/+
func (b *TopicBuilder) CommandWildcard() string {
	return b.Build(SuffixCommand, Wildcard)
}

// Online returns the status topic of a lab agent.
func (b *TopicBuilder) Online(agentID string) string {
	return b.Build(SuffixOnline, agentID)
}

// DeviceFromCommand extracts the device ID from a command topic.
func (b *TopicBuilder) DeviceFromCommand(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, b.Build(SuffixCommand)+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Build joins the root and segments.
// Pattern: {root}/{segment}/...
func (b *TopicBuilder) Build(segments ...string) string {
	return strings.Join(append([]string{b.root}, segments...), "/")
}
