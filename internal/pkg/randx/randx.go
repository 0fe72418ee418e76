/*
Package randx generates the identifiers the gateway hands out: connection,
message and file ids (UUIDs) and short Base62 ids for anonymous users.
It also validates client-supplied room ids.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars is the Base62 alphabet (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the size of the Base62 alphabet.
	Base62Len = int64(len(Base62Chars))

	// AnonymousIDPrefix prefixes user ids minted for clients that connect
	// without logging in.
	AnonymousIDPrefix = "anon_"

	// AnonymousIDRawLength is the Base62 length after the prefix.
	AnonymousIDRawLength = 8

	// MaxRoomIDLength bounds client-supplied room ids.
	MaxRoomIDLength = 64

	// roomIDExtraChars are allowed in room ids besides Base62.
	roomIDExtraChars = "-_."
)

// ConnectionID returns a fresh id for a WebSocket session.
func ConnectionID() string {
	return uuid.NewString()
}

// MessageID returns a fresh id for a chat message or file share.
func MessageID() string {
	return uuid.NewString()
}

// FileID returns a fresh id for an upload.
func FileID() string {
	return uuid.NewString()
}

// Base62 returns n random Base62 characters from crypto/rand.
func Base62(n int) (string, error) {
	result := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("randx: reading random index: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// AnonymousUserID mints an id like "anon_x3Kd9QpZ".
func AnonymousUserID() (string, error) {
	raw, err := Base62(AnonymousIDRawLength)
	if err != nil {
		return "", err
	}
	return AnonymousIDPrefix + raw, nil
}

// IsValidRoomID reports whether id is 1..MaxRoomIDLength characters of
// Base62 plus '-', '_' and '.'.
func IsValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLength {
		return false
	}

	for _, char := range id {
		if !strings.ContainsRune(Base62Chars, char) && !strings.ContainsRune(roomIDExtraChars, char) {
			return false
		}
	}

	return true
}
