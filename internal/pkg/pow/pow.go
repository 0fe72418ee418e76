/*
Package pow gates expensive operations behind a proof-of-work puzzle.

A client asks for a challenge, searches for a counter such that
sha256(nonce + counter) starts with Difficulty hex zeros, and trades the
answer for a short-lived single-use proof token. The gateway requires that
token on the upload handshake when a difficulty is configured.
*/
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// TokenHeaderKey carries the proof token on HTTP requests.
	TokenHeaderKey = "X-PoW-Token"

	// TokenQueryParam is the fallback location of the proof token.
	TokenQueryParam = "pow_token"

	// ProofTokenDuration is how long an issued proof token stays valid.
	ProofTokenDuration = 30 * time.Second

	// NonceExpiryDuration is how long a challenge can be answered.
	NonceExpiryDuration = 5 * time.Minute
)

var (
	// ErrNonceInvalid is returned for unknown, expired or already answered nonces.
	ErrNonceInvalid = errors.New("pow: nonce expired or invalid")

	// ErrProofInsufficient is returned when the hash misses the difficulty target.
	ErrProofInsufficient = errors.New("pow: proof does not meet difficulty")
)

// Challenge is what a client needs to start solving.
type Challenge struct {
	Nonce      string    `json:"nonce"`
	Difficulty int       `json:"difficulty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PoWManager tracks outstanding nonces and issued proof tokens.
type PoWManager struct {
	// difficulty is the number of leading hex zeros required.
	difficulty int

	// nonceStore maps outstanding nonces to their expiry.
	nonceStore map[string]time.Time

	// tokenStore maps unspent proof tokens to their expiry.
	tokenStore map[string]time.Time

	mu       sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPoWManager returns a manager for the given difficulty and starts its
// expiry sweep. A difficulty of zero disables the gate (see Enabled).
func NewPoWManager(difficulty int) *PoWManager {
	mgr := &PoWManager{
		difficulty: difficulty,
		nonceStore: make(map[string]time.Time),
		tokenStore: make(map[string]time.Time),
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go mgr.cleanupExpiredEntries()

	return mgr
}

// Enabled reports whether callers must present a proof token.
func (m *PoWManager) Enabled() bool {
	return m != nil && m.difficulty > 0
}

// Difficulty returns the configured number of leading hex zeros.
func (m *PoWManager) Difficulty() int {
	return m.difficulty
}

// NewChallenge issues a fresh nonce.
func (m *PoWManager) NewChallenge() Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce := uuid.NewString()
	expires := m.now().Add(NonceExpiryDuration)
	m.nonceStore[nonce] = expires

	return Challenge{Nonce: nonce, Difficulty: m.difficulty, ExpiresAt: expires}
}

// Solved reports whether counter answers nonce at the given difficulty.
func Solved(nonce, counter string, difficulty int) bool {
	hash := sha256.Sum256([]byte(nonce + counter))
	return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", difficulty))
}

// ValidateProof checks an answer and, when it is right, consumes the nonce
// and returns a proof token.
func (m *PoWManager) ValidateProof(nonce, counter string) (string, error) {
	if !Solved(nonce, counter, m.difficulty) {
		return "", ErrProofInsufficient
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.nonceStore[nonce]
	if !ok || m.now().After(expiry) {
		return "", ErrNonceInvalid
	}
	delete(m.nonceStore, nonce)

	token := uuid.NewString()
	m.tokenStore[token] = m.now().Add(ProofTokenDuration)
	return token, nil
}

// ConsumeProofToken reports whether r carries an unspent, unexpired proof
// token, and spends it.
func (m *PoWManager) ConsumeProofToken(r *http.Request) bool {
	token := r.Header.Get(TokenHeaderKey)
	if token == "" {
		token = r.URL.Query().Get(TokenQueryParam)
	}
	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.tokenStore[token]
	if !ok {
		return false
	}
	delete(m.tokenStore, token)

	return !m.now().After(expiry)
}

// Close stops the expiry sweep.
func (m *PoWManager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *PoWManager) cleanupExpiredEntries() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.purge()
		}
	}
}

func (m *PoWManager) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for nonce, expiry := range m.nonceStore {
		if now.After(expiry) {
			delete(m.nonceStore, nonce)
		}
	}
	for token, expiry := range m.tokenStore {
		if now.After(expiry) {
			delete(m.tokenStore, token)
		}
	}
}
