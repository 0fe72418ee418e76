package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// TicketExpiration is the default lifetime of a session ticket.
	TicketExpiration = 24 * time.Hour

	// TokenIssuer is written into the iss claim.
	TokenIssuer = "rtgateway"
)

// GenerateToken signs payload with secretKey. The standard claims are
// overwritten with iat/exp/iss derived from now and duration.
func GenerateToken(payload *Payload, secretKey string, duration time.Duration) (string, error) {
	if secretKey == "" {
		return "", errors.New("jwt: empty signing key")
	}

	now := time.Now()
	payload.StandardClaims = jwt.StandardClaims{
		ExpiresAt: now.Add(duration).Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    TokenIssuer,
		Subject:   payload.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken verifies tokenString against secretKey and returns its claims.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	if claims.UserID == "" || claims.Username == "" {
		return nil, errors.New("ticket without identity")
	}

	return claims, nil
}
