package server

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Kylo111/make-it-heavy/pkg/orchestrator"
)

// EventBroadcaster forwards orchestration events to websocket clients
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Run forwards events until ctx is done or the channel is closed.
func (b *EventBroadcaster) Run(ctx context.Context, events <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Forward(ev)
		}
	}
}

// Forward sends one event to the clients subscribed to its request.
func (b *EventBroadcaster) Forward(ev orchestrator.Event) {
	b.send(b.clients.Subscribers(ev.RequestID), EventMessage{
		Type:  MessageEvent,
		Event: &ev,
	})
}

// Broadcast sends a server notice to every client.
func (b *EventBroadcaster) Broadcast(msgType, message string) {
	b.send(b.clients.All(), EventMessage{
		Type:    msgType,
		Message: message,
	})
}

func (b *EventBroadcaster) send(clients []*Client, msg EventMessage) {
	msg.Seq = b.nextSeq()
	msg.Timestamp = time.Now().UnixMilli()

	var eventType orchestrator.EventType
	if msg.Event != nil {
		eventType = msg.Event.Type
	}

	if len(clients) == 0 {
		b.logger.Debug().
			Str("type", msg.Type).
			Str("event", string(eventType)).
			Int64("seq", msg.Seq).
			Msg("No clients to broadcast to")
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("type", msg.Type).
			Int64("seq", msg.Seq).
			Msg("Failed to marshal event")
		return
	}

	successCount := 0
	failureCount := 0

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", string(eventType)).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			failureCount++
		} else {
			successCount++
		}
	}

	b.logger.Debug().
		Str("type", msg.Type).
		Str("event", string(eventType)).
		Int64("seq", msg.Seq).
		Int("success", successCount).
		Int("failed", failureCount).
		Msg("Event broadcast complete")
}

func (b *EventBroadcaster) nextSeq() int64 {
	return int64(atomic.AddUint64(&b.seq, 1))
}
