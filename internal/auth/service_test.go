package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/money"
	"github.com/novamarket/predictcore/internal/testsupport"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()
	db, err := testsupport.NewSQLiteDB()
	require.NoError(t, err)
	store := ledger.NewStore(db, zap.NewNop(), money.Amount(0))
	cfg := JWTConfig{SecretKey: "test-secret", TokenDuration: time.Hour, Issuer: "predictcore-test"}
	return NewService(store, cfg, zap.NewNop())
}

func TestRegisterThenLoginRoundtrip(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	userID, err := svc.Register(ctx, RegisterRequest{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	assert.NotEqual(t, userID.String(), "")

	resp, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, userID, resp.UserID)
	assert.Equal(t, domain.RoleRegular, resp.Role)
	assert.NotEmpty(t, resp.Token)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Username: "bob", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginRequest{Username: "bob", Password: "wrong"})
	require.Error(t, err)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	svc := newTestAuthService(t)
	_, err := svc.Login(context.Background(), LoginRequest{Username: "ghost", Password: "anything"})
	require.Error(t, err)
}

func TestRefreshTokenPreservesSubject(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()
	userID, err := svc.Register(ctx, RegisterRequest{Username: "carol", Password: "swordfish"})
	require.NoError(t, err)

	resp, err := svc.Login(ctx, LoginRequest{Username: "carol", Password: "swordfish"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(resp.Token)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
}
