package providers

import (
	"context"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.RecordsChangedEvent) error

	// Subscribe subscribes to events on a channel until ctx is done
	Subscribe(ctx context.Context, channel string) (<-chan *entities.RecordsChangedEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

const (
	// EventChannelRecordsPrefix is the prefix for per-kind invalidation channels
	EventChannelRecordsPrefix = "records:"
)

// GetRecordsChannel returns the invalidation channel for a record kind
func GetRecordsChannel(kind string) string {
	return EventChannelRecordsPrefix + kind
}
