/*
Package jwt issues and reads session tickets.

A ticket is an HS256 JWT handed out after a successful login through
service A. It carries the user id and display name service A confirmed, so a
WebSocket client can reconnect without re-sending credentials. Tickets are
advisory: a request without one is treated as anonymous, never rejected.
*/
package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a session ticket.
type Payload struct {
	jwt.StandardClaims

	// UserID is the id service A assigned at login.
	UserID string `json:"uid"`

	// Username is the display name confirmed by service A.
	Username string `json:"name"`

	// RoomID is the room the user logged into.
	RoomID string `json:"room,omitempty"`
}
