package linkauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTokens(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewSessionTokens("LinkAuth-Issuer", "secret")
	tokens.Now = func() time.Time { return now }

	token, err := tokens.Issue(&Account{ID: "a1", Username: "TW-jack"}, ProviderTwitter)
	require.NoError(t, err)

	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", claims.Subject)
	assert.Equal(t, "TW-jack", claims.Username)
	assert.Equal(t, ProviderTwitter, claims.Provider)

	id, _, err := tokens.VerifyAccountID(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", id)

	// Expired
	tokens.Now = func() time.Time { return now.Add(2 * TokenExpirySession) }
	_, err = tokens.Verify(token)
	assert.Error(t, err)
	tokens.Now = func() time.Time { return now }

	// Wrong key and wrong issuer
	_, err = NewSessionTokens("LinkAuth-Issuer", "other").Verify(token)
	assert.Error(t, err)
	other := NewSessionTokens("Other-Issuer", "secret")
	other.Now = tokens.Now
	_, err = other.Verify(token)
	assert.Error(t, err)

	_, err = tokens.Issue(nil, ProviderTwitter)
	assert.Error(t, err)
	_, err = NewSessionTokens("x", "").Issue(&Account{ID: "a1"}, ProviderTwitter)
	assert.Error(t, err)
}
