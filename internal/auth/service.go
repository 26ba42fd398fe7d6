package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// RegisterRequest is a new-account request. New users are granted the
// configured starter balance on their first balance read (spec §9 "the
// correct amount is a configuration parameter"); Service does not grant it
// itself, it only creates the User row.
type RegisterRequest struct {
	Username string
	Password string
}

// LoginRequest/LoginResponse mirror the teacher's auth.Service shape
// (internal/auth/service.go), trimmed to the single Role this exchange
// actually has two of (regular, admin) rather than tradSys's open-ended
// role strings.
type LoginRequest struct {
	Username string
	Password string
}

type LoginResponse struct {
	Token        string
	RefreshToken string
	UserID       uuid.UUID
	Role         domain.Role
	ExpiresAt    time.Time
}

// Service authenticates users against the ledger's User table and issues
// JWTs for the REST boundary and the gateway handshake.
type Service struct {
	store  *ledger.Store
	jwt    *JWTService
	logger *zap.Logger
}

func NewService(store *ledger.Store, jwtCfg JWTConfig, logger *zap.Logger) *Service {
	return &Service{store: store, jwt: NewJWTService(jwtCfg), logger: logger}
}

// Register creates a new regular user with a bcrypt-hashed password,
// grounded on the teacher's initializeDefaultUsers bcrypt usage
// (internal/auth/service.go).
func (s *Service) Register(ctx context.Context, req RegisterRequest) (uuid.UUID, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return uuid.Nil, fmt.Errorf("auth: hashing password: %w", err)
	}
	u := &ledger.User{
		ID:           uuid.New(),
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         domain.RoleRegular,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

// Login verifies credentials and mints a token pair.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	u, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return LoginResponse{}, xerrors.New(xerrors.CodeNotFound)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login failed: bad credentials", zap.String("username", req.Username))
		return LoginResponse{}, errors.New("auth: invalid credentials")
	}
	token, err := s.jwt.GenerateToken(u.ID.String(), u.Username, u.Role)
	if err != nil {
		return LoginResponse{}, err
	}
	refresh, err := s.jwt.GenerateToken(u.ID.String(), u.Username, u.Role)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{
		Token: token, RefreshToken: refresh,
		UserID: u.ID, Role: u.Role,
		ExpiresAt: time.Now().Add(s.jwt.cfg.TokenDuration),
	}, nil
}

// ValidateToken exposes the underlying JWTService to middleware.
func (s *Service) ValidateToken(token string) (*JWTClaims, error) { return s.jwt.ValidateToken(token) }

// RefreshToken re-signs a still-valid token without re-checking a password.
func (s *Service) RefreshToken(token string) (string, error) { return s.jwt.RefreshToken(token) }
