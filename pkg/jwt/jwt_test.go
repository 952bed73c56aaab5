package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewManagerRejectsShortSecret(t *testing.T) {
	_, err := NewManager("short", "", time.Hour)
	require.Error(t, err)
}

func TestGenerateAndValidate(t *testing.T) {
	m, err := NewManager(testSecret, "campaign-auth", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.GenerateAccessToken("u-1", "alice", []string{"player"})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuer, err := NewManager(testSecret, "", time.Minute, WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	token, _, err := issuer.GenerateAccessToken("u-1", "alice", nil)
	require.NoError(t, err)

	verifier, err := NewManager(testSecret, "", time.Minute)
	require.NoError(t, err)
	_, err = verifier.ValidateToken(token)
	assert.True(t, errors.Is(err, ErrExpiredToken))
}

func TestValidateMalformed(t *testing.T) {
	m, err := NewManager(testSecret, "", time.Minute)
	require.NoError(t, err)

	_, err = m.ValidateToken("not-a-token")
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestValidateWrongSecretOrIssuer(t *testing.T) {
	issuer, err := NewManager(testSecret, "other", time.Minute)
	require.NoError(t, err)
	token, _, err := issuer.GenerateAccessToken("u-1", "alice", nil)
	require.NoError(t, err)

	wrongIssuer, err := NewManager(testSecret, "campaign-auth", time.Minute)
	require.NoError(t, err)
	_, err = wrongIssuer.ValidateToken(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	wrongSecret, err := NewManager("ffffffffffffffffffffffffffffffff", "", time.Minute)
	require.NoError(t, err)
	_, err = wrongSecret.ValidateToken(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}
