package topic

// MQTT wildcards.
const (
	// Wildcard matches exactly one level: "glad/command/+".
	Wildcard = "+"

	// MultiWildcard matches the remaining levels and must come last: "glad/device/#".
	MultiWildcard = "#"
)
