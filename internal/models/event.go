package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the variants of the change-feed event union.
type EventType string

const (
	EventRoomCreated     EventType = "room_created"
	EventRoomUpdated     EventType = "room_updated"
	EventMessageInserted EventType = "message_inserted"
	EventPresenceChanged EventType = "presence_changed"
)

// Event is the typed union carried over the change feed. Exactly one
// payload field is set, matching Type. Payloads are encoded once at the
// publish boundary and decoded once at the subscribe boundary; nothing
// downstream inspects raw bytes.
type Event struct {
	Type     EventType     `json:"type"`
	TS       int64         `json:"ts"` // Unix ms
	Room     *Room         `json:"room,omitempty"`
	Message  *Message      `json:"message,omitempty"`
	Presence *RoomPresence `json:"presence,omitempty"`
}

// NewRoomEvent builds a room_created or room_updated event.
func NewRoomEvent(t EventType, room *Room) *Event {
	return &Event{Type: t, TS: time.Now().UnixMilli(), Room: room}
}

// NewMessageEvent builds a message_inserted event.
func NewMessageEvent(msg *Message) *Event {
	return &Event{Type: EventMessageInserted, TS: time.Now().UnixMilli(), Message: msg}
}

// NewPresenceEvent builds a presence_changed event.
func NewPresenceEvent(p *RoomPresence) *Event {
	return &Event{Type: EventPresenceChanged, TS: time.Now().UnixMilli(), Presence: p}
}

// Validate checks that the payload matches the type tag.
func (e *Event) Validate() error {
	switch e.Type {
	case EventRoomCreated, EventRoomUpdated:
		if e.Room == nil {
			return fmt.Errorf("%s event missing room payload", e.Type)
		}
	case EventMessageInserted:
		if e.Message == nil {
			return fmt.Errorf("%s event missing message payload", e.Type)
		}
	case EventPresenceChanged:
		if e.Presence == nil {
			return fmt.Errorf("%s event missing presence payload", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// EncodeEvent serializes an event for the wire.
func EncodeEvent(e *Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeEvent parses and validates a wire payload.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
