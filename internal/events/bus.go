// Package events is the host's in-process event bus. Background tasks
// publish on named topics; the HTTP API and IPC clients subscribe.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	TopicResourceState = "resource_state"
	TopicSidecarLog    = "sidecar_log"
	TopicSidecar       = "sidecar"
	TopicLog           = "log"
)

// Event is one message on a topic
type Event struct {
	Topic   string          `json:"topic"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

type topic struct {
	clients map[chan Event]bool
	history []Event // Ring buffer for recent events
}

// Bus fans events out to subscribers without ever blocking publishers
type Bus struct {
	topics  map[string]*topic
	maxHist int
	mu      sync.RWMutex
}

// NewBus creates a bus keeping historySize events per topic
func NewBus(historySize int) *Bus {
	if historySize <= 0 {
		historySize = 100
	}
	return &Bus{
		topics:  make(map[string]*topic),
		maxHist: historySize,
	}
}

func (b *Bus) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{clients: make(map[chan Event]bool)}
		b.topics[name] = t
	}
	return t
}

// Subscribe adds a client on a topic
func (b *Bus) Subscribe(name string) chan Event {
	ch, _ := b.SubscribeWithHistory(name, 0)
	return ch
}

// SubscribeWithHistory adds a client and returns up to historyLines recent
// events. History is returned separately so the channel never blocks.
func (b *Bus) SubscribeWithHistory(name string, historyLines int) (chan Event, []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(name)
	ch := make(chan Event, 100)
	t.clients[ch] = true

	var history []Event
	if historyLines > 0 && len(t.history) > 0 {
		start := max(len(t.history)-historyLines, 0)
		history = make([]Event, len(t.history)-start)
		copy(history, t.history[start:])
	}
	return ch, history
}

// Unsubscribe removes a client and closes its channel
func (b *Bus) Unsubscribe(name string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok || !t.clients[ch] {
		return
	}
	delete(t.clients, ch)
	close(ch)
}

// Publish marshals payload and sends it to every subscriber of the topic
func (b *Bus) Publish(name string, payload any) error {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = json.RawMessage(p)
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = data
	}

	ev := Event{Topic: name, Time: time.Now(), Payload: raw}

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(name)
	if len(t.history) >= b.maxHist {
		t.history = t.history[1:]
	}
	t.history = append(t.history, ev)

	for ch := range t.clients {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind, drop rather than block the publisher
		}
	}
	return nil
}

// Latest returns the most recent event on a topic
func (b *Bus) Latest(name string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[name]
	if !ok || len(t.history) == 0 {
		return Event{}, false
	}
	return t.history[len(t.history)-1], true
}

// Writer returns an io.Writer that publishes each write as a JSON string
// on the topic, used to tee slog output onto the bus.
func (b *Bus) Writer(name string) *TopicWriter {
	return &TopicWriter{bus: b, topic: name}
}

// TopicWriter is an io.Writer that publishes to a bus topic
type TopicWriter struct {
	bus   *Bus
	topic string
}

func (w *TopicWriter) Write(p []byte) (int, error) {
	if err := w.bus.Publish(w.topic, string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
