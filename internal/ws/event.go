package ws

import (
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/models"
)

type EventType string

const (
	EventMessageSent     EventType = "message_sent"
	EventMessageReplied  EventType = "message_replied"
	EventReactionChanged EventType = "reaction_changed"
	EventMessageSeen     EventType = "message_seen"
	EventMessageDeleted  EventType = "message_deleted_for_viewer"
	EventRoomDeleted     EventType = "room_deleted_for_viewer"
	eventSubscribed      EventType = "subscribed"
	eventUnsubscribed    EventType = "unsubscribed"
	eventPong            EventType = "pong"
	eventError           EventType = "error"
)

// Event is a committed room mutation as pushed to subscribers. Seq is the room
// version the commit produced.
type Event struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id"`
	Seq    int64     `json:"seq,omitempty"`
	At     time.Time `json:"at"`
	Data   any       `json:"data,omitempty"`

	// HiddenFor lists users the event's target is not visible to.
	HiddenFor models.UserSet `json:"-"`
	// Audience, when non-empty, restricts delivery to these users.
	Audience models.UserSet `json:"-"`
}

func (e Event) VisibleTo(userID string) bool {
	if len(e.Audience) > 0 && !e.Audience.Has(userID) {
		return false
	}
	return !e.HiddenFor.Has(userID)
}

// Publisher accepts committed events for fan-out.
type Publisher interface {
	Publish(evt Event)
}

type MessagePayload struct {
	Message models.MessageView `json:"message"`
}

type ReactionPayload struct {
	MessageID string                `json:"message_id"`
	UserID    string                `json:"user_id"`
	Emoji     string                `json:"emoji"`
	Action    models.ReactionAction `json:"action"`
	Reactions map[string]string     `json:"reactions"`
}

type SeenPayload struct {
	MessageID string         `json:"message_id"`
	UserID    string         `json:"user_id"`
	SeenBy    models.UserSet `json:"seen_by"`
}

type DeletedPayload struct {
	MessageID string `json:"message_id,omitempty"`
	UserID    string `json:"user_id"`
}

type replyPayload struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id,omitempty"`
	Error  string    `json:"error,omitempty"`
}
