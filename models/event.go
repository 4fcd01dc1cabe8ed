package models

import "time"

// UserRef is the minimal identity embedded in an event roster.
type UserRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Event is an event together with its current attendee roster.
// Attendees is a snapshot; the authoritative set lives in the roster store.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	StartTime string    `json:"startTime"`
	Attendees []UserRef `json:"attendees"`
	CreatedAt time.Time `json:"createdAt"`
}
