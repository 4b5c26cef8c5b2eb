package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
)

// subscriberBuffer is the per-subscriber backlog; events beyond it are dropped
const subscriberBuffer = 100

// fanout tracks local subscriber channels per event channel.
type fanout struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.RecordsChangedEvent]struct{}
}

func newFanout() *fanout {
	return &fanout{subscribers: make(map[string]map[chan *entities.RecordsChangedEvent]struct{})}
}

func (f *fanout) add(channel string) (chan *entities.RecordsChangedEvent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribers[channel] == nil {
		f.subscribers[channel] = make(map[chan *entities.RecordsChangedEvent]struct{})
	}
	eventChan := make(chan *entities.RecordsChangedEvent, subscriberBuffer)
	f.subscribers[channel][eventChan] = struct{}{}
	return eventChan, len(f.subscribers[channel])
}

// remove closes eventChan and returns the channel's remaining subscriber count.
func (f *fanout) remove(channel string, eventChan chan *entities.RecordsChangedEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	subscribers, exists := f.subscribers[channel]
	if !exists {
		return 0
	}
	if _, ok := subscribers[eventChan]; !ok {
		return len(subscribers)
	}

	delete(subscribers, eventChan)
	close(eventChan)

	if len(subscribers) == 0 {
		delete(f.subscribers, channel)
	}
	return len(subscribers)
}

func (f *fanout) broadcast(channel string, event *entities.RecordsChangedEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for subscriber := range f.subscribers[channel] {
		select {
		case subscriber <- event:
		default:
			log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber channel full, skipping event")
		}
	}
}

func (f *fanout) closeChannel(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for subscriber := range f.subscribers[channel] {
		close(subscriber)
	}
	delete(f.subscribers, channel)
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for channel, subscribers := range f.subscribers {
		for subscriber := range subscribers {
			close(subscriber)
		}
		delete(f.subscribers, channel)
	}
}
