package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Event is the wire envelope for every inbound command and outbound
// broadcast. Dispatcher carries the originating connection id and is never
// serialized.
type Event struct {
	Dispatcher string          `json:"-"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Dispatcher: %s, Type: %s, Payload.Size: %d}", e.Dispatcher, e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// EventTransport is the boundary between the relay and the network layer.
// Relay handlers only ever see events and connection ids.
type EventTransport interface {
	// SendToConns delivers an event to the given connections. Connection ids
	// that are no longer open are skipped.
	SendToConns(event *Event, connIDs ...string)
	Receive() <-chan *Event
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches inbound events to their registered handlers.
//
// Handlers run synchronously on the router goroutine, one event to
// completion before the next, so the relay's shared state sees commands in
// arrival order. Outbound sends go through each connection's buffered write
// stream and do not block the loop.
type EventRouter struct {
	listeners map[string]EventHandler
	ctx       context.Context
	transport EventTransport
	logger    *slog.Logger
}

func NewEventRouter(ctx context.Context, logger *slog.Logger, transport EventTransport) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		ctx:       ctx,
		transport: transport,
		logger:    logger,
	}
}

// On registers the handler for an event type. An event type with no handler
// is dropped with a log line.
func (em *EventRouter) On(eventName string, handler EventHandler) {
	em.listeners[eventName] = handler
}

// Listen consumes the transport's receive stream until the context is done.
func (em *EventRouter) Listen(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-em.ctx.Done():
				return
			case e, ok := <-em.transport.Receive():
				if !ok {
					return
				}
				em.dispatch(e)
			}
		}
	}()
}

func (em *EventRouter) dispatch(e *Event) {
	em.logger.Debug(fmt.Sprintf("received: %v", e))
	handler, ok := em.listeners[e.Type]
	if !ok {
		em.logger.Debug(fmt.Sprintf("no handler for %s, dropping", e.Type))
		return
	}
	if err := handler(em.ctx, e); err != nil {
		em.logger.Error(fmt.Sprintf("%s handler: %s", e.Type, err))
	}
}

// EmitToConns marshals payload and sends it to the given connections.
func (em *EventRouter) EmitToConns(t string, payload interface{}, connIDs ...string) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	e := &Event{
		Type:    t,
		Payload: b,
	}
	em.transport.SendToConns(e, connIDs...)
	return nil
}
