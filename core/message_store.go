package core

import (
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
)

// iso8601Millis matches the timestamp format the clients expect
// (e.g. 2025-04-12T09:30:15.123Z).
const iso8601Millis = "2006-01-02T15:04:05.000Z07:00"

// MessageStore holds the in-memory, per-room ordered message logs together
// with a single process-wide set of tombstoned (deleted) message ids.
//
// The store is the single source of truth for message ordering and existence
// for the lifetime of the process. Nothing is persisted; a restart loses all
// rooms and tombstones.
type MessageStore struct {
	rooms map[string][]*Message
	// tombstones is process-wide rather than per room. With a single fixed
	// room the two are equivalent, and a global set also blocks cross-room
	// replay of a deleted id.
	tombstones map[string]struct{}
	lastID     int64
	mu         sync.Mutex
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		rooms:      make(map[string][]*Message),
		tombstones: make(map[string]struct{}),
	}
}

// EnsureRoom initializes an empty log for roomID the first time the room is
// referenced. Calling it again is a no-op.
func (s *MessageStore) EnsureRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = make([]*Message, 0)
	}
}

// Backlog returns a snapshot of the room's non-tombstoned messages in
// insertion order. It is a copy, not a live view.
func (s *MessageStore) Backlog(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.FilterMap(s.rooms[roomID], func(m *Message, _ int) (Message, bool) {
		if _, deleted := s.tombstones[m.ID]; deleted {
			return Message{}, false
		}
		return *m, true
	})
}

// Append adds msg to the end of the room's log. A message whose id has been
// tombstoned is silently dropped and Append reports false; this guards
// against a duplicate replay racing a deletion.
func (s *MessageStore) Append(roomID string, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, deleted := s.tombstones[msg.ID]; deleted {
		return false
	}
	s.rooms[roomID] = append(s.rooms[roomID], &msg)
	return true
}

// Find returns a copy of the message with the given id in the room.
func (s *MessageStore) Find(roomID, messageID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.find(roomID, messageID); m != nil {
		return *m, true
	}
	return Message{}, false
}

// MarkSeen sets the message's seen flag and reports whether a transition
// actually happened. Marking an already-seen or unknown message reports
// false, which callers use to suppress duplicate notifications.
func (s *MessageStore) MarkSeen(roomID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.find(roomID, messageID)
	if m == nil || m.Seen {
		return false
	}
	m.Seen = true
	return true
}

// Remove deletes the message from the room's log and records its id in the
// tombstone set, provided requester is the message's sender. It returns the
// removed message, ErrMessageNotFound if the id does not resolve, or
// ErrNotMessageSender if requester did not author it. A rejected remove
// leaves the log untouched.
func (s *MessageStore) Remove(roomID, messageID, requester string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, m := range s.rooms[roomID] {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Message{}, ErrMessageNotFound
	}
	removed := *s.rooms[roomID][idx]
	if removed.Sender != requester {
		return Message{}, ErrNotMessageSender
	}
	s.rooms[roomID] = append(s.rooms[roomID][:idx], s.rooms[roomID][idx+1:]...)
	s.tombstones[messageID] = struct{}{}
	return removed, nil
}

// Stamp turns a validated create input into an authoritative Message:
// server-assigned id and timestamp, seen and delivered initialized to false.
// The client's correlation id is carried through unchanged.
func (s *MessageStore) Stamp(input MessageCreateInput) Message {
	return Message{
		ID:        s.NextID(),
		ClientID:  input.ClientID,
		Sender:    input.Sender,
		Content:   input.Content,
		Type:      input.Type,
		Timestamp: time.Now().UTC().Format(iso8601Millis),
		Seen:      false,
		Delivered: false,
	}
}

// NextID returns a unique, strictly increasing millisecond-timestamp id.
// Two messages accepted within the same millisecond get consecutive ids.
func (s *MessageStore) NextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := time.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

func (s *MessageStore) find(roomID, messageID string) *Message {
	for _, m := range s.rooms[roomID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}
