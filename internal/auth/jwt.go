// Package auth issues and validates the opaque bearer tokens spec §4.5
// names ("authenticates each long-lived connection once at handshake
// using an opaque bearer token resolved via the auth collaborator") and
// backs the REST boundary's own session auth. Token shape and the
// JWTService/JWTClaims split follow the teacher's internal/auth/service.go
// + jwt_test.go almost verbatim; golang-jwt/v5 replaces the teacher's
// (untyped in this retrieval) JWT library with the module's declared v5
// dependency.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/novamarket/predictcore/internal/domain"
)

// JWTConfig configures token issuance.
type JWTConfig struct {
	SecretKey     string
	TokenDuration time.Duration
	Issuer        string
}

// JWTClaims is the private claim set embedded in every issued token,
// carrying exactly what the gateway and REST middleware need to
// authorize a request without a second lookup (spec §4.5 "authenticates
// each... connection once at handshake").
type JWTClaims struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTService issues and validates tokens for one signing key.
type JWTService struct {
	cfg JWTConfig
}

func NewJWTService(cfg JWTConfig) *JWTService { return &JWTService{cfg: cfg} }

// GenerateToken mints a token for (userID, username, role), expiring after
// cfg.TokenDuration.
func (s *JWTService) GenerateToken(userID, username string, role domain.Role) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenDuration)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.SecretKey))
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (s *JWTService) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return []byte(s.cfg.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	return claims, nil
}

// RefreshToken validates tokenString and mints a fresh token for the
// same subject, the way the teacher's JWTService.RefreshToken re-signs
// without re-checking a password.
func (s *JWTService) RefreshToken(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return s.GenerateToken(claims.UserID, claims.Username, claims.Role)
}
