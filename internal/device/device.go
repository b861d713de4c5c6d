package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Device is the capability set every instrument exposes to its worker.
// Operations may block on I/O and may fail; implementations are not
// required to be safe for concurrent use, a Device is only ever driven
// from the goroutine of the worker that owns it.
type Device interface {
	// ID returns the stable internal identifier of the instrument.
	ID() string

	// Connect opens the underlying link.
	Connect(ctx context.Context) error

	// Disconnect closes the underlying link. Closing a closed link is not an error.
	Disconnect() error

	// IsConnected reports whether the link is currently usable.
	IsConnected() bool
}

// NewID returns a fresh internal identifier of the form "<kind>--<uuid>".
func NewID(kind string) string {
	return fmt.Sprintf("%s--%s", kind, uuid.NewString())
}

// ShortName renders an identifier for humans, e.g. "tempcontroller @ 1b4e28ba".
func ShortName(id string) string {
	kind, rest, ok := strings.Cut(id, "--")
	if !ok {
		return id
	}
	if len(rest) > 8 {
		rest = rest[:8]
	}
	return fmt.Sprintf("%s @ %s", kind, rest)
}
