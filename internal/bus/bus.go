// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
	"time"
)

// EventType identifies different event types
type EventType string

// Event types published by the speech pipeline
const (
	// Submission events
	EventTypeUtteranceStarted   EventType = "speech.utterance_started"
	EventTypeUtteranceCancelled EventType = "speech.utterance_cancelled"
	EventTypeGeneratingChanged  EventType = "speech.generating_changed"
	EventTypeSpeechFailed       EventType = "speech.failed"
	EventTypeTranscript         EventType = "speech.transcript"

	// Chunk events
	EventTypeChunkFetched  EventType = "chunk.fetched"
	EventTypeChunkFailed   EventType = "chunk.failed"
	EventTypeChunkBuffered EventType = "chunk.buffered"
	EventTypeChunkDropped  EventType = "chunk.dropped"

	// Playback events
	EventTypePlaybackStarted EventType = "playback.started"
	EventTypePlaybackEnded   EventType = "playback.ended"
	EventTypePlaybackIdle    EventType = "playback.idle"

	// Avatar events
	EventTypeAnimationChanged EventType = "avatar.animation_changed"
	EventTypeProfileChanged   EventType = "avatar.profile_changed"
)

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{Type: t, Time: time.Now(), Data: data}
}

// Handler is a function that handles events
type Handler func(Event)

// subscriber queues events for one handler and delivers them in publish
// order from at most one goroutine at a time.
type subscriber struct {
	handler Handler

	mu      sync.Mutex
	queue   []Event
	running bool
}

func (s *subscriber) enqueue(event Event) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.drain()
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		event := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(event)
	}
}

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*subscriber
	all      []*subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]*subscriber),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.SubscribeMultiple([]EventType{eventType}, handler)
}

// SubscribeMultiple adds a handler for multiple event types. Events of all
// the types reach the handler in the order they were published.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{handler: handler}
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], sub)
	}
}

// SubscribeAll adds a handler receiving every event.
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, &subscriber{handler: handler})
}

func (b *EventBus) snapshot(t EventType) []*subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]*subscriber, 0, len(b.handlers[t])+len(b.all))
	subs = append(subs, b.handlers[t]...)
	subs = append(subs, b.all...)
	return subs
}

// Publish queues an event for all subscribed handlers without blocking the
// caller. Each handler sees events in publish order.
func (b *EventBus) Publish(event Event) {
	for _, sub := range b.snapshot(event.Type) {
		sub.enqueue(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	var wg sync.WaitGroup
	for _, sub := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(sub.handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]*subscriber)
	b.all = nil
}
