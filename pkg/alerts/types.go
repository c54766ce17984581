// Package alerts formats triaged alerts and routes them to recipients over
// external channels.
package alerts

import (
	"context"
	"errors"
)

// ErrChannelNotFound is returned when a preference names an unregistered channel.
var ErrChannelNotFound = errors.New("channel not registered")

// Channel delivers formatted text to one address on an external system.
type Channel interface {
	// Name returns the channel identifier stored in preferences.
	Name() string

	// Deliver sends text to address. Implementations must be safe for
	// concurrent use and must honour ctx cancellation.
	Deliver(ctx context.Context, address, text string) error
}
