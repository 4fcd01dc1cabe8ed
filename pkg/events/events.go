package events

import "roster-api/models"

// Notification types pushed over the websocket channel.
const (
	TypeEventCreated = "eventCreated"
	TypeEventJoined  = "eventJoined"
	TypeEventLeft    = "eventLeft"
)

// Message is a change descriptor broadcast after a committed mutation.
// It is a tagged union: Type selects which of the remaining fields are set.
// Messages carry no sequence numbers; descriptors for a single event are
// published in commit order, ordering across events is not guaranteed.
type Message struct {
	Type     string        `json:"type"`
	Event    *models.Event `json:"event,omitempty"`
	EventID  string        `json:"eventId,omitempty"`
	UserID   int           `json:"userId,omitempty"`
	UserName string        `json:"userName,omitempty"`
}

func NewEventCreated(ev models.Event) Message {
	return Message{Type: TypeEventCreated, Event: &ev}
}

func NewEventJoined(eventID string, user models.UserRef) Message {
	return Message{Type: TypeEventJoined, EventID: eventID, UserID: user.ID, UserName: user.Name}
}

func NewEventLeft(eventID string, user models.UserRef) Message {
	return Message{Type: TypeEventLeft, EventID: eventID, UserID: user.ID, UserName: user.Name}
}
