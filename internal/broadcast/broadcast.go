// Package broadcast delivers column state changes to listeners.
package broadcast

import (
	"sync"
	"time"

	"github.com/bryan-buckman/onosendai/internal/model"
)

// listenerBuffer is the per-listener queue; events beyond it are dropped.
const listenerBuffer = 64

// Event is a column state change.
type Event struct {
	ColumnID int               `json:"column_id"`
	State    model.ColumnState `json:"state"`
	At       time.Time         `json:"at"`
}

// Publisher accepts column state changes. Publish must not block.
type Publisher interface {
	Publish(columnID int, state model.ColumnState)
}

// Hub is the in-process publisher. It remembers the latest state of each
// column and fans events out to subscribers without blocking.
type Hub struct {
	mu        sync.Mutex
	states    map[int]model.ColumnState
	listeners map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		states:    make(map[int]model.ColumnState),
		listeners: make(map[chan Event]struct{}),
	}
}

// Publish records the state and notifies subscribers. Slow subscribers
// miss events rather than stalling the sync.
func (h *Hub) Publish(columnID int, state model.ColumnState) {
	h.deliver(Event{ColumnID: columnID, State: state, At: time.Now()})
}

func (h *Hub) deliver(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[ev.ColumnID] = ev.State
	for ch := range h.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// State returns the last published state for a column.
func (h *Hub) State(columnID int) (model.ColumnState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[columnID]
	return s, ok
}

// Running reports whether the column's last published state is UpdateRunning.
func (h *Hub) Running(columnID int) bool {
	s, ok := h.State(columnID)
	return ok && s == model.UpdateRunning
}

// Subscribe returns a channel of events and a func to stop receiving them.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, listenerBuffer)
	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}
