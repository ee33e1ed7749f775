// Package events fans training progress out to in-process listeners (the
// HTTP event stream and the monitor) and keeps recent events for replay.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the orchestrator and the dataset endpoints.
const (
	TypeProgress       = "training.progress"
	TypeStarted        = "training.started"
	TypeFinished       = "training.finished"
	TypeStopRequested  = "training.stop_requested"
	TypeDatasetChanged = "dataset.changed"
)

// DefaultCapacity is the replay buffer size used when none is given.
const DefaultCapacity = 256

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Hub is an in-memory pub/sub with a ring buffer for late subscribers.
// Publishing never blocks: a subscriber that falls behind misses events and
// can catch up from SnapshotSince.
type Hub struct {
	nextID atomic.Int64

	mu     sync.Mutex
	ring   []Event
	start  int
	size   int
	closed bool

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event. data is marshalled to JSON; nil becomes {}.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	if h.closed {
		return ev
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of future events and a cancel func. The
// channel is closed by cancel or Close.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 128)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Latest returns the most recent buffered event of the given type.
func (h *Hub) Latest(eventType string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := h.size - 1; i >= 0; i-- {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.Type == eventType {
			return ev, true
		}
	}
	return Event{}, false
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
