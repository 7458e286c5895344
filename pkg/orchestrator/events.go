package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kylo111/make-it-heavy/pkg/cost"
)

// EventType names an orchestration event
type EventType string

const (
	EventPhaseChanged      EventType = "phase_changed"
	EventAgentStatus       EventType = "agent_status"
	EventQuestionsFallback EventType = "questions_fallback"
	EventSynthesisFallback EventType = "synthesis_fallback"
	EventCostAlert         EventType = "cost_alert"
)

// Event is one status transition. Agent carries a snapshot, never a live
// record.
type Event struct {
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	RequestID string          `json:"request_id"`
	Phase     Phase           `json:"phase,omitempty"`
	Agent     *AgentExecution `json:"agent,omitempty"`
	Alert     *cost.Alert     `json:"alert,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventBus fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	seq     int64
	dropped int64
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel; it is safe to call twice.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps ev with a sequence number and timestamp and delivers it.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	ev.Seq = atomic.AddInt64(&b.seq, 1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			atomic.AddInt64(&b.dropped, 1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *EventBus) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// Subscribers returns the number of active subscribers.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
