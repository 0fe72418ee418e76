package user

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymous(t *testing.T) {
	u, err := Anonymous("  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, strings.HasPrefix(u.ID, "anon_"))

	u, err = Anonymous("")
	require.NoError(t, err)
	assert.Equal(t, u.ID, u.Username)
}

func TestNormalizeUsernameTruncatesRunes(t *testing.T) {
	long := strings.Repeat("é", MaxUsernameLength+10)
	assert.Equal(t, MaxUsernameLength, len([]rune(NormalizeUsername(long))))
}
