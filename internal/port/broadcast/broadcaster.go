// Package broadcast defines the port for broadcasting real-time events to
// connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients. Every open
// tab holds one subscription and observes the same events in the same order.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
