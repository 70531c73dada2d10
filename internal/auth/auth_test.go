package auth

import (
	"testing"
	"time"

	"assoc-messaging/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = config.AuthConfig{JWTSecretKey: "test-secret", JWTExpiry: time.Hour}

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("u1", "Ayse", "ayse@example.org", testAuth)
	require.NoError(t, err)

	claims, err := ValidateToken(token, testAuth.JWTSecretKey)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Name: "Ayse", Email: "ayse@example.org", IsAuthenticated: true}, claims.Identity())
	assert.NotEmpty(t, claims.ID)
}

func TestValidateTokenRejectsWrongKeyAndExpired(t *testing.T) {
	token, err := GenerateToken("u1", "Ayse", "", testAuth)
	require.NoError(t, err)
	_, err = ValidateToken(token, "other")
	assert.Error(t, err)

	expired, err := GenerateToken("u1", "Ayse", "", config.AuthConfig{JWTSecretKey: "k", JWTExpiry: -time.Minute})
	require.NoError(t, err)
	_, err = ValidateToken(expired, "k")
	assert.Error(t, err)
}

func TestIdentityFromTokenDoesNotNeedKey(t *testing.T) {
	token, err := GenerateToken("u2", "Mehmet", "", testAuth)
	require.NoError(t, err)

	id, err := IdentityFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.UserID)
	assert.True(t, id.IsAuthenticated)

	_, err = IdentityFromToken("not-a-token")
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	p := Static{UserID: "u1", IsAuthenticated: true}
	assert.Equal(t, "u1", p.Identity().UserID)
	assert.False(t, Anonymous.Identity().IsAuthenticated)
}

func TestGenerateTokenRequiresUser(t *testing.T) {
	_, err := GenerateToken("", "x", "", testAuth)
	assert.Error(t, err)
}
