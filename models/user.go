package models

import "time"

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Ref returns the roster-embeddable identity for the user.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Username}
}
