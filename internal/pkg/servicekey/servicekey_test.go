package servicekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifierAcceptsAnyConfiguredKey(t *testing.T) {
	search, err := bcrypt.GenerateFromPassword([]byte("search-key"), bcrypt.MinCost)
	require.NoError(t, err)
	chat, err := bcrypt.GenerateFromPassword([]byte("chat-key"), bcrypt.MinCost)
	require.NoError(t, err)

	v, err := NewVerifier([]string{string(search), " ", string(chat)})
	require.NoError(t, err)

	assert.True(t, v.Verify("search-key"))
	assert.True(t, v.Verify("chat-key"))
	assert.False(t, v.Verify("other"))
	assert.False(t, v.Verify(""))
}

func TestNewVerifierRequiresHashes(t *testing.T) {
	_, err := NewVerifier(nil)
	assert.ErrorIs(t, err, ErrNoKeys)

	_, err = NewVerifier([]string{"plaintext"})
	assert.Error(t, err)
}

func TestGenerateHasPrefix(t *testing.T) {
	key, err := Generate()
	require.NoError(t, err)
	assert.Contains(t, key, "lsk_")
}
