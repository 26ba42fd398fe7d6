package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novamarket/predictcore/internal/domain"
)

func TestJWTGenerateAndValidate(t *testing.T) {
	svc := NewJWTService(JWTConfig{
		SecretKey:     "test-secret-key",
		TokenDuration: time.Hour,
		Issuer:        "predictcore",
	})

	token, err := svc.GenerateToken("user-123", "alice", domain.RoleRegular)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, domain.RoleRegular, claims.Role)
	assert.Equal(t, "predictcore", claims.Issuer)
	assert.True(t, claims.ExpiresAt.Time.After(time.Now()))

	_, err = svc.ValidateToken("not.a.valid.token")
	assert.Error(t, err)
}

func TestJWTRefreshToken(t *testing.T) {
	svc := NewJWTService(JWTConfig{SecretKey: "s", TokenDuration: time.Hour, Issuer: "predictcore"})

	token, err := svc.GenerateToken("user-1", "bob", domain.RoleAdmin)
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(token)
	require.NoError(t, err)
	assert.NotEqual(t, token, refreshed)

	claims, err := svc.ValidateToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
}

func TestJWTRejectsExpired(t *testing.T) {
	svc := NewJWTService(JWTConfig{SecretKey: "s", TokenDuration: -time.Minute, Issuer: "predictcore"})
	token, err := svc.GenerateToken("u", "carol", domain.RoleRegular)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
