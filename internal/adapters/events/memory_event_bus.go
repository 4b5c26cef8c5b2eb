package events

import (
	"context"
	"sync"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/domain/providers"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

// MemoryEventBus delivers events within one process. It backs a single
// dashboard instance running without Redis.
type MemoryEventBus struct {
	subscribers *fanout
	mu          sync.Mutex
	closed      bool
}

// NewMemoryEventBus creates an in-process event bus
func NewMemoryEventBus() providers.EventBus {
	return &MemoryEventBus{subscribers: newFanout()}
}

// Publish delivers event to every current subscriber of channel
func (b *MemoryEventBus) Publish(_ context.Context, channel string, event *entities.RecordsChangedEvent) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return apperrors.NewInternalError("event bus is closed", nil)
	}

	b.subscribers.broadcast(channel, event)
	return nil
}

// Subscribe subscribes to channel until ctx is done
func (b *MemoryEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.RecordsChangedEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, apperrors.NewInternalError("event bus is closed", nil)
	}

	eventChan, _ := b.subscribers.add(channel)
	go func() {
		<-ctx.Done()
		b.subscribers.remove(channel, eventChan)
	}()
	return eventChan, nil
}

// Unsubscribe closes every subscriber of channel
func (b *MemoryEventBus) Unsubscribe(_ context.Context, channel string) error {
	b.subscribers.closeChannel(channel)
	return nil
}

// Close closes every subscription
func (b *MemoryEventBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.subscribers.closeAll()
	return nil
}
