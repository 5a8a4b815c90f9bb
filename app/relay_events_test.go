package chatfilm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatfilm/core"
)

const (
	akashConn      = "conn-akash"
	divyanginiConn = "conn-divyangini"
)

type recordedSend struct {
	event   *core.Event
	connIDs []string
}

type mockTransport struct {
	in   chan *core.Event
	mu   sync.Mutex
	sent []recordedSend
}

func newMockTransport() *mockTransport {
	return &mockTransport{in: make(chan *core.Event, 16)}
}

func (t *mockTransport) SendToConns(e *core.Event, connIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, recordedSend{event: e, connIDs: connIDs})
}

func (t *mockTransport) Receive() <-chan *core.Event {
	return t.in
}

// byType returns every send of the given outbound event type.
func (t *mockTransport) byType(eventType string) []recordedSend {
	t.mu.Lock()
	defer t.mu.Unlock()
	return lo.Filter(t.sent, func(s recordedSend, _ int) bool {
		return s.event.Type == eventType
	})
}

type relayFixture struct {
	app       *App
	transport *mockTransport
	ctx       context.Context
	t         *testing.T
}

// newRelayFixture builds an App whose event router is bound to a mock
// transport, so handlers can be driven and their broadcasts inspected
// without a websocket in sight.
func newRelayFixture(t *testing.T) *relayFixture {
	ctx := context.Background()
	app := New(ctx, &Config{
		Port:           3001,
		Hostname:       "127.0.0.1",
		Roles:          []string{"akash", "divyangini"},
		AllowedOrigins: []string{"*"},
	})
	app.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	transport := newMockTransport()
	app.eventRouter = core.NewEventRouter(ctx, app.logger, transport)

	return &relayFixture{app: app, transport: transport, ctx: ctx, t: t}
}

func (f *relayFixture) join(role, connID string) {
	f.t.Helper()
	payload, err := json.Marshal(role)
	require.NoError(f.t, err)
	require.NoError(f.t, f.app.JoinHandler(f.ctx, &core.Event{
		Dispatcher: connID, Type: JoinEvent, Payload: payload,
	}))
}

func (f *relayFixture) send(connID string, input core.MessageCreateInput) core.Message {
	f.t.Helper()
	payload, err := json.Marshal(input)
	require.NoError(f.t, err)
	require.NoError(f.t, f.app.SendMessageHandler(f.ctx, &core.Event{
		Dispatcher: connID, Type: SendMessageEvent, Payload: payload,
	}))

	broadcasts := f.transport.byType(NewMessageEvent)
	require.NotEmpty(f.t, broadcasts)
	var msg core.Message
	require.NoError(f.t, json.Unmarshal(broadcasts[len(broadcasts)-1].event.Payload, &msg))
	return msg
}

func (f *relayFixture) markAsSeen(connID, messageID string) {
	f.t.Helper()
	payload, err := json.Marshal(MarkAsSeenPayload{MessageID: messageID})
	require.NoError(f.t, err)
	require.NoError(f.t, f.app.MarkAsSeenHandler(f.ctx, &core.Event{
		Dispatcher: connID, Type: MarkAsSeenEvent, Payload: payload,
	}))
}

func (f *relayFixture) deleteMessage(connID, messageID string) {
	f.t.Helper()
	payload, err := json.Marshal(DeleteMessagePayload{MessageID: messageID})
	require.NoError(f.t, err)
	require.NoError(f.t, f.app.DeleteMessageHandler(f.ctx, &core.Event{
		Dispatcher: connID, Type: DeleteMessageEvent, Payload: payload,
	}))
}

func TestJoin(t *testing.T) {
	t.Run("joining connection gets the backlog, and only it", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)

		loads := f.transport.byType(LoadMessagesEvent)
		require.Len(t, loads, 1)
		assert.Equal(t, []string{akashConn}, loads[0].connIDs)

		var backlog []core.Message
		require.NoError(t, json.Unmarshal(loads[0].event.Payload, &backlog))
		assert.Empty(t, backlog)
	})

	t.Run("unknown role is dropped", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("stranger", "conn-x")
		assert.Empty(t, f.transport.byType(LoadMessagesEvent))
	})

	t.Run("rejoin replays the current history", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.send(akashConn, core.MessageCreateInput{Content: "hi", Type: core.TextMessage})

		f.join("divyangini", divyanginiConn)
		loads := f.transport.byType(LoadMessagesEvent)
		require.Len(t, loads, 2)
		var backlog []core.Message
		require.NoError(t, json.Unmarshal(loads[1].event.Payload, &backlog))
		require.Len(t, backlog, 1)
		assert.Equal(t, "hi", backlog[0].Content)
	})
}

func TestSendMessage(t *testing.T) {
	t.Run("delivered to both members exactly once, sender included", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)

		msg := f.send(akashConn, core.MessageCreateInput{
			ClientID: "tmp-1", Content: "hi", Type: core.TextMessage,
		})

		broadcasts := f.transport.byType(NewMessageEvent)
		require.Len(t, broadcasts, 1)
		assert.ElementsMatch(t, []string{akashConn, divyanginiConn}, broadcasts[0].connIDs)

		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "tmp-1", msg.ClientID)
		assert.Equal(t, "akash", msg.Sender)
		assert.Equal(t, "hi", msg.Content)
		assert.False(t, msg.Seen)
		assert.False(t, msg.Delivered)
	})

	t.Run("sender is taken from the connection, not the payload", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)

		msg := f.send(akashConn, core.MessageCreateInput{
			Sender: "divyangini", Content: "spoofed", Type: core.TextMessage,
		})
		assert.Equal(t, "akash", msg.Sender)
	})

	t.Run("connection that never joined is ignored", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)

		payload, _ := json.Marshal(core.MessageCreateInput{Content: "hi", Type: core.TextMessage})
		require.NoError(t, f.app.SendMessageHandler(f.ctx, &core.Event{
			Dispatcher: "conn-ghost", Type: SendMessageEvent, Payload: payload,
		}))
		assert.Empty(t, f.transport.byType(NewMessageEvent))
	})

	t.Run("invalid payload is dropped with an error", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)

		payload, _ := json.Marshal(core.MessageCreateInput{Content: "hi", Type: "carrier-pigeon"})
		err := f.app.SendMessageHandler(f.ctx, &core.Event{
			Dispatcher: akashConn, Type: SendMessageEvent, Payload: payload,
		})
		assert.ErrorIs(t, err, core.ErrInvalidMessage)
		assert.Empty(t, f.transport.byType(NewMessageEvent))
	})
}

func TestTyping(t *testing.T) {
	t.Run("typing reaches the target connection only", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)

		payload, _ := json.Marshal(TypingPayload{To: "divyangini"})
		require.NoError(t, f.app.TypingHandler(f.ctx, &core.Event{
			Dispatcher: akashConn, Type: TypingEvent, Payload: payload,
		}))

		sends := f.transport.byType(UserTypingEvent)
		require.Len(t, sends, 1)
		assert.Equal(t, []string{divyanginiConn}, sends[0].connIDs)

		var notify TypingNotifyPayload
		require.NoError(t, json.Unmarshal(sends[0].event.Payload, &notify))
		assert.Equal(t, "akash", notify.From)
	})

	t.Run("stopTyping mirrors typing", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)

		payload, _ := json.Marshal(TypingPayload{To: "akash"})
		require.NoError(t, f.app.StopTypingHandler(f.ctx, &core.Event{
			Dispatcher: divyanginiConn, Type: StopTypingEvent, Payload: payload,
		}))

		sends := f.transport.byType(UserStoppedTypingEvent)
		require.Len(t, sends, 1)
		assert.Equal(t, []string{akashConn}, sends[0].connIDs)
	})

	t.Run("absent recipient is skipped silently", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)

		payload, _ := json.Marshal(TypingPayload{To: "divyangini"})
		require.NoError(t, f.app.TypingHandler(f.ctx, &core.Event{
			Dispatcher: akashConn, Type: TypingEvent, Payload: payload,
		}))
		assert.Empty(t, f.transport.byType(UserTypingEvent))
	})
}

func TestMarkAsSeen(t *testing.T) {
	t.Run("notifies sender and requester, and flips stored state", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)
		msg := f.send(akashConn, core.MessageCreateInput{Content: "hi", Type: core.TextMessage})

		f.markAsSeen(divyanginiConn, msg.ID)

		updates := f.transport.byType(MessageSeenUpdateEvent)
		require.Len(t, updates, 1)
		assert.ElementsMatch(t, []string{akashConn, divyanginiConn}, updates[0].connIDs)

		var update MessageSeenUpdatePayload
		require.NoError(t, json.Unmarshal(updates[0].event.Payload, &update))
		assert.Equal(t, msg.ID, update.MessageID)
		assert.Equal(t, "divyangini", update.SeenBy)

		stored, ok := f.app.messageStore.Find("akash-divyangini", msg.ID)
		require.True(t, ok)
		assert.True(t, stored.Seen)
	})

	t.Run("second markAsSeen is a no-op", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)
		msg := f.send(akashConn, core.MessageCreateInput{Content: "hi", Type: core.TextMessage})

		f.markAsSeen(divyanginiConn, msg.ID)
		f.markAsSeen(divyanginiConn, msg.ID)

		assert.Len(t, f.transport.byType(MessageSeenUpdateEvent), 1)
	})

	t.Run("unknown message id emits nothing", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)

		f.markAsSeen(divyanginiConn, "no-such-id")
		assert.Empty(t, f.transport.byType(MessageSeenUpdateEvent))
	})
}

func TestDeleteMessage(t *testing.T) {
	t.Run("author delete broadcasts once to the room", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)
		msg := f.send(akashConn, core.MessageCreateInput{Content: "hi", Type: core.TextMessage})

		f.deleteMessage(akashConn, msg.ID)

		deleted := f.transport.byType(MessageDeletedEvent)
		require.Len(t, deleted, 1)
		assert.ElementsMatch(t, []string{akashConn, divyanginiConn}, deleted[0].connIDs)
		assert.Empty(t, f.app.messageStore.Backlog("akash-divyangini"))
	})

	t.Run("double delete emits exactly one broadcast and no error", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)
		msg := f.send(akashConn, core.MessageCreateInput{Content: "hi", Type: core.TextMessage})

		f.deleteMessage(akashConn, msg.ID)
		f.deleteMessage(akashConn, msg.ID)

		assert.Len(t, f.transport.byType(MessageDeletedEvent), 1)
	})

	t.Run("non-author delete is rejected and the message survives", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)
		msg := f.send(akashConn, core.MessageCreateInput{Content: "hi", Type: core.TextMessage})

		f.deleteMessage(divyanginiConn, msg.ID)

		assert.Empty(t, f.transport.byType(MessageDeletedEvent))

		rejections := f.transport.byType(DeleteMessageRejectedEvent)
		require.Len(t, rejections, 1)
		assert.Equal(t, []string{divyanginiConn}, rejections[0].connIDs)

		// still retrievable by a subsequent join's backlog
		f.join("divyangini", divyanginiConn)
		loads := f.transport.byType(LoadMessagesEvent)
		var backlog []core.Message
		require.NoError(t, json.Unmarshal(loads[len(loads)-1].event.Payload, &backlog))
		require.Len(t, backlog, 1)
		assert.Equal(t, msg.ID, backlog[0].ID)
	})

	t.Run("deleted message never reappears in a later backlog", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)
		msg := f.send(akashConn, core.MessageCreateInput{Content: "hi", Type: core.TextMessage})

		f.deleteMessage(akashConn, msg.ID)

		f.join("divyangini", divyanginiConn)
		loads := f.transport.byType(LoadMessagesEvent)
		var backlog []core.Message
		require.NoError(t, json.Unmarshal(loads[len(loads)-1].event.Payload, &backlog))
		assert.Empty(t, backlog)
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("remaining participant gets exactly one userOffline", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)

		f.app.onConnectionClosed(akashConn)

		offline := f.transport.byType(UserOfflineEvent)
		require.Len(t, offline, 1)
		assert.Equal(t, []string{divyanginiConn}, offline[0].connIDs)

		var payload UserOfflinePayload
		require.NoError(t, json.Unmarshal(offline[0].event.Payload, &payload))
		assert.Equal(t, "akash", payload.Role)
	})

	t.Run("disconnect with no counterpart emits nothing", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)

		f.app.onConnectionClosed(akashConn)
		assert.Empty(t, f.transport.byType(UserOfflineEvent))
	})

	t.Run("disconnect of a connection that never joined is a no-op", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("divyangini", divyanginiConn)

		f.app.onConnectionClosed("conn-ghost")
		assert.Empty(t, f.transport.byType(UserOfflineEvent))
	})

	t.Run("stale disconnect after rejoin does not go offline", func(t *testing.T) {
		f := newRelayFixture(t)
		f.join("akash", akashConn)
		f.join("divyangini", divyanginiConn)
		f.join("akash", "conn-akash-2")

		// the superseded connection finally drops
		f.app.onConnectionClosed(akashConn)
		assert.Empty(t, f.transport.byType(UserOfflineEvent))
	})
}
