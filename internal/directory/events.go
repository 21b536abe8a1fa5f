package directory

import "github.com/monitor111/pwa-chat/internal/model"

const (
	EventPresence = "presence"
	EventMessage  = "message"
)

// Event is what subscribed clients receive: a presence transition or a new
// chat message. Exactly one of the payload fields is set.
type Event struct {
	Type     string                `json:"type"`
	Presence *model.PresenceRecord `json:"presence,omitempty"`
	Message  *model.Message        `json:"message,omitempty"`
}

func PresenceEvent(record model.PresenceRecord) Event {
	return Event{Type: EventPresence, Presence: &record}
}

func MessageEvent(msg model.Message) Event {
	return Event{Type: EventMessage, Message: &msg}
}
