package chatfilm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"chatfilm/core"
)

const (
	// client -> relay
	JoinEvent          = "join"
	SendMessageEvent   = "sendMessage"
	TypingEvent        = "typing"
	StopTypingEvent    = "stopTyping"
	MarkAsSeenEvent    = "markAsSeen"
	DeleteMessageEvent = "deleteMessage"

	// relay -> client
	LoadMessagesEvent          = "loadMessages"
	NewMessageEvent            = "newMessage"
	UserTypingEvent            = "userTyping"
	UserStoppedTypingEvent     = "userStoppedTyping"
	MessageSeenUpdateEvent     = "messageSeenUpdate"
	MessageDeletedEvent        = "messageDeleted"
	DeleteMessageRejectedEvent = "deleteMessageRejected"
	UserOfflineEvent           = "userOffline"
)

type TypingPayload struct {
	To string `json:"to" validate:"required"`
}

type TypingNotifyPayload struct {
	From string `json:"from"`
}

type MarkAsSeenPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	// RecipientRole is sent by the client but the dispatcher's own role is
	// authoritative; it is accepted for wire compatibility only.
	RecipientRole string `json:"recipientRole"`
}

type MessageSeenUpdatePayload struct {
	MessageID string `json:"messageId"`
	SeenBy    string `json:"seenBy"`
}

type DeleteMessagePayload struct {
	MessageID string `json:"messageId" validate:"required"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

type DeleteMessageRejectedPayload struct {
	MessageID string `json:"messageId"`
	Reason    string `json:"reason"`
}

type UserOfflinePayload struct {
	Role string `json:"role"`
}

// JoinHandler binds the dispatching connection to a role, places it in the
// pair's room, and replays the current backlog snapshot to that connection
// only. Joining again for the same role supersedes the previous connection.
func (app *App) JoinHandler(ctx context.Context, e *core.Event) error {
	var role string
	if err := json.Unmarshal(e.Payload, &role); err != nil {
		return fmt.Errorf("unmarshal join payload: %w", err)
	}

	roomID, _, ok := app.roles.Resolve(role)
	if !ok {
		app.logger.Warn("join with unknown role", slog.String("role", role))
		return nil
	}

	app.roster.Register(core.Connection{ID: e.Dispatcher, Role: role, RoomID: roomID})
	app.messageStore.EnsureRoom(roomID)

	app.logger.Info("user joined room",
		slog.String("role", role), slog.String("room", roomID))

	return app.eventRouter.EmitToConns(LoadMessagesEvent, app.messageStore.Backlog(roomID), e.Dispatcher)
}

// SendMessageHandler accepts a message from a joined connection, assigns the
// authoritative id and timestamp, appends it to the room log, and broadcasts
// it to every connection in the room, the sender included.
func (app *App) SendMessageHandler(ctx context.Context, e *core.Event) error {
	conn, ok := app.roster.LookupByConn(e.Dispatcher)
	if !ok {
		app.logger.Warn("sendMessage from connection that never joined",
			slog.String("connection", e.Dispatcher))
		return nil
	}

	var input core.MessageCreateInput
	if err := json.Unmarshal(e.Payload, &input); err != nil {
		return fmt.Errorf("unmarshal sendMessage payload: %w", err)
	}
	input.Sender = conn.Role
	if err := input.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidMessage, err)
	}

	msg := app.messageStore.Stamp(input)
	if !app.messageStore.Append(conn.RoomID, msg) {
		// tombstoned id, replayed deletion race; drop silently
		app.logger.Debug("dropped tombstoned message", slog.String("id", msg.ID))
		return nil
	}

	app.logger.Info("message broadcasted",
		slog.String("room", conn.RoomID), slog.String("id", msg.ID),
		slog.String("sender", msg.Sender))

	return app.eventRouter.EmitToConns(NewMessageEvent, msg, app.roomConns(conn.RoomID)...)
}

// TypingHandler relays a typing indicator to the target participant's
// connection only. An absent target is skipped; presence is best-effort.
func (app *App) TypingHandler(ctx context.Context, e *core.Event) error {
	return app.relayTyping(e, UserTypingEvent)
}

// StopTypingHandler is the counterpart of TypingHandler. The relay imposes
// no typing timeout of its own; emitting stopTyping is the client's job.
func (app *App) StopTypingHandler(ctx context.Context, e *core.Event) error {
	return app.relayTyping(e, UserStoppedTypingEvent)
}

func (app *App) relayTyping(e *core.Event, out string) error {
	conn, ok := app.roster.LookupByConn(e.Dispatcher)
	if !ok {
		return nil
	}

	var payload TypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal typing payload: %w", err)
	}
	if err := validate.Struct(&payload); err != nil {
		return fmt.Errorf("invalid typing payload: %w", err)
	}

	target, ok := app.roster.Lookup(payload.To)
	if !ok {
		app.logger.Debug("typing recipient not connected", slog.String("to", payload.To))
		return nil
	}

	return app.eventRouter.EmitToConns(out, TypingNotifyPayload{From: conn.Role}, target.ID)
}

// MarkAsSeenHandler flips a message's seen flag, exactly once per message.
// On the false-to-true transition it notifies the message's original sender
// and the requester; a repeat markAsSeen is a no-op with no broadcast.
func (app *App) MarkAsSeenHandler(ctx context.Context, e *core.Event) error {
	conn, ok := app.roster.LookupByConn(e.Dispatcher)
	if !ok {
		return nil
	}

	var payload MarkAsSeenPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal markAsSeen payload: %w", err)
	}
	if err := validate.Struct(&payload); err != nil {
		return fmt.Errorf("invalid markAsSeen payload: %w", err)
	}

	if !app.messageStore.MarkSeen(conn.RoomID, payload.MessageID) {
		// unknown id or already seen; suppress duplicate notifications
		return nil
	}

	msg, _ := app.messageStore.Find(conn.RoomID, payload.MessageID)

	targets := []string{e.Dispatcher}
	if sender, ok := app.roster.Lookup(msg.Sender); ok {
		targets = append(targets, sender.ID)
	}

	app.logger.Info("message seen",
		slog.String("id", payload.MessageID), slog.String("by", conn.Role),
		slog.String("sender", msg.Sender))

	update := MessageSeenUpdatePayload{MessageID: payload.MessageID, SeenBy: conn.Role}
	return app.eventRouter.EmitToConns(MessageSeenUpdateEvent, update, lo.Uniq(targets)...)
}

// DeleteMessageHandler removes a message authored by the requester and
// broadcasts the deletion to the room. A non-author request leaves the log
// untouched and gets an explicit rejection on the requesting connection; a
// repeat delete for an already-removed id is a silent no-op.
func (app *App) DeleteMessageHandler(ctx context.Context, e *core.Event) error {
	conn, ok := app.roster.LookupByConn(e.Dispatcher)
	if !ok {
		return nil
	}

	var payload DeleteMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal deleteMessage payload: %w", err)
	}
	if err := validate.Struct(&payload); err != nil {
		return fmt.Errorf("invalid deleteMessage payload: %w", err)
	}

	_, err := app.messageStore.Remove(conn.RoomID, payload.MessageID, conn.Role)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrMessageNotFound):
		app.logger.Debug("delete for unknown message", slog.String("id", payload.MessageID))
		return nil
	case errors.Is(err, core.ErrNotMessageSender):
		app.logger.Warn("delete rejected, requester is not the sender",
			slog.String("id", payload.MessageID), slog.String("by", conn.Role))
		rejected := DeleteMessageRejectedPayload{
			MessageID: payload.MessageID,
			Reason:    "only the sender can delete a message",
		}
		return app.eventRouter.EmitToConns(DeleteMessageRejectedEvent, rejected, e.Dispatcher)
	default:
		return fmt.Errorf("remove message: %w", err)
	}

	app.logger.Info("message deleted",
		slog.String("room", conn.RoomID), slog.String("id", payload.MessageID))

	deleted := MessageDeletedPayload{MessageID: payload.MessageID}
	return app.eventRouter.EmitToConns(MessageDeletedEvent, deleted, app.roomConns(conn.RoomID)...)
}

// roomConns returns the connection ids of every participant currently in
// the room. With two fixed roles that is at most two connections.
func (app *App) roomConns(roomID string) []string {
	return lo.FilterMap(app.roles.Roles(), func(role string, _ int) (string, bool) {
		conn, ok := app.roster.Lookup(role)
		if !ok || conn.RoomID != roomID {
			return "", false
		}
		return conn.ID, true
	})
}
