package models

import "strings"

// User is the identity issued by the auth collaborator.
// It is a value type: the hub never mutates a User once a connection is bound to it.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Valid reports whether the user carries an id and a display name.
func (u User) Valid() bool {
	return strings.TrimSpace(u.ID) != "" && strings.TrimSpace(u.Username) != ""
}
