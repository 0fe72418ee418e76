/*
Package user contains the identity carried by a gateway connection.

Identity is asserted, not verified: it comes from a login ticket issued by the
gateway after Service A accepted the username, or from the username query
parameter of an anonymous WebSocket handshake.
*/
package user

import (
	"strings"

	"rtgateway/internal/pkg/randx"
)

// MaxUsernameLength bounds client supplied display names.
const MaxUsernameLength = 64

// User is the identity of one chat participant. Usernames are not unique.
type User struct {
	ID       string `json:"user_id"`
	Username string `json:"username"`
}

// Anonymous builds an identity for a client that presented no ticket. An empty
// username falls back to the generated id.
func Anonymous(username string) (User, error) {
	id, err := randx.AnonymousUserID()
	if err != nil {
		return User{}, err
	}

	username = NormalizeUsername(username)
	if username == "" {
		username = id
	}
	return User{ID: id, Username: username}, nil
}

// NormalizeUsername trims whitespace and truncates to MaxUsernameLength runes.
func NormalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > MaxUsernameLength {
		name = string(r[:MaxUsernameLength])
	}
	return name
}
