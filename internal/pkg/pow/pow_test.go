package pow

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solve(t *testing.T, c Challenge) string {
	t.Helper()
	for i := 0; i < 1_000_000; i++ {
		counter := strconv.Itoa(i)
		if Solved(c.Nonce, counter, c.Difficulty) {
			return counter
		}
	}
	t.Fatal("no solution found")
	return ""
}

func TestProofTokenIsSingleUse(t *testing.T) {
	m := NewPoWManager(1)
	defer m.Close()

	c := m.NewChallenge()
	token, err := m.ValidateProof(c.Nonce, solve(t, c))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/files/handshake", nil)
	r.Header.Set(TokenHeaderKey, token)
	assert.True(t, m.ConsumeProofToken(r))
	assert.False(t, m.ConsumeProofToken(r))
}

func TestNonceCannotBeReused(t *testing.T) {
	m := NewPoWManager(1)
	defer m.Close()

	c := m.NewChallenge()
	counter := solve(t, c)
	_, err := m.ValidateProof(c.Nonce, counter)
	require.NoError(t, err)

	_, err = m.ValidateProof(c.Nonce, counter)
	assert.ErrorIs(t, err, ErrNonceInvalid)
}

func TestWrongAnswerAndExpiry(t *testing.T) {
	m := NewPoWManager(1)
	defer m.Close()

	c := m.NewChallenge()
	counter := solve(t, c)

	for i := 0; ; i++ {
		bad := "x" + strconv.Itoa(i)
		if !Solved(c.Nonce, bad, 1) {
			_, err := m.ValidateProof(c.Nonce, bad)
			assert.ErrorIs(t, err, ErrProofInsufficient)
			break
		}
	}

	m.mu.Lock()
	m.now = func() time.Time { return time.Now().Add(NonceExpiryDuration + time.Second) }
	m.mu.Unlock()

	_, err := m.ValidateProof(c.Nonce, counter)
	assert.ErrorIs(t, err, ErrNonceInvalid)
}

func TestEnabled(t *testing.T) {
	var nilMgr *PoWManager
	assert.False(t, nilMgr.Enabled())

	off := NewPoWManager(0)
	defer off.Close()
	assert.False(t, off.Enabled())
}
