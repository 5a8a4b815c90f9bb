package core

import (
	"errors"
)

const (
	// TextMessage indicates that the message content is a UTF-8 encoded string.
	TextMessage MessageType = "text"
	// ImageMessage indicates that the message content is an image payload
	// (data URI). The relay never interprets it, only forwards it.
	ImageMessage MessageType = "image"
)

// MessageType determines how the message content should be interpreted.
type MessageType = string

// Message represents a chat message held in a room's log.
// ID and Timestamp are assigned by the relay when the message is accepted;
// whatever the client sent in those fields is overwritten.
type Message struct {
	ID string `json:"id"`
	// ClientID is an optional client-generated correlation id, round-tripped
	// unchanged so the origin client can reconcile its optimistic local echo
	// with the authoritative copy.
	ClientID  string      `json:"clientId,omitempty"`
	Sender    string      `json:"sender"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	// Seen transitions false to true at most once and never reverts.
	Seen bool `json:"seen"`
	// Delivered is carried for forward compatibility; nothing drives it yet.
	Delivered bool `json:"delivered"`
}

var (
	// ErrInvalidMessage is returned when a message input fails validation.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrMessageNotFound is returned when a message id does not resolve in a room.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotMessageSender is returned when a mutation requires authorship
	// and the requester is not the message's sender.
	ErrNotMessageSender = errors.New("requester is not the message sender")
)

// MessageCreateInput represents the client-supplied part of a new message.
type MessageCreateInput struct {
	ClientID string      `json:"clientId"`
	Sender   string      `json:"sender" validate:"required"`
	Content  string      `json:"content" validate:"required"`
	Type     MessageType `json:"type" validate:"required,oneof=text image"`
}

// Validate validates the message input.
func (m *MessageCreateInput) Validate() error {
	return validate.Struct(m)
}
