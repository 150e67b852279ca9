package services

import (
	"sync"

	"streampulse/internal/core/domain"

	"go.uber.org/zap"
)

// Broker fans engine events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full loses the event. There is no replay and
// no delivery guarantee beyond best-effort, matching the one-way emission
// contract between the engine and its collaborators.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int
	closed bool

	logger *zap.SugaredLogger
}

func NewBroker(logger *zap.SugaredLogger) *Broker {
	return &Broker{
		subs:   make(map[int]chan domain.Event),
		logger: logger,
	}
}

// Publish delivers evt to every subscriber that has buffer capacity.
func (b *Broker) Publish(evt domain.Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = domain.NowMillis()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Debugw("dropping event for slow subscriber",
				"subscriber", id,
				"type", evt.Type,
			)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along with a
// cancel function. The channel is closed when cancel is called or the broker
// shuts down.
func (b *Broker) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan domain.Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan domain.Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
