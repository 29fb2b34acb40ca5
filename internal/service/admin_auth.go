// Package service holds the admin-side services: operator authentication
// and manual outbound messages. The conversation core lives in
// internal/chat/service.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	adminSubject = "admin"
	tokenIssuer  = "wabot"
	BcryptCost   = 12
)

// AdminAuth issues and validates the bearer tokens of the admin API. There
// is a single operator account, identified by a bcrypt password hash.
type AdminAuth struct {
	passwordHash []byte
	jwtSecret    []byte
	accessTTL    time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewAdminAuth creates the admin authenticator. An empty passwordHash
// disables token issuing; validation keeps working for tokens signed
// with the same secret.
func NewAdminAuth(passwordHash, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AdminAuth {
	return &AdminAuth{
		passwordHash: []byte(passwordHash),
		jwtSecret:    []byte(jwtSecret),
		accessTTL:    accessTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// HashPassword returns the bcrypt hash to put in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", &domain.ErrValidation{Field: "password", Message: "must not be empty"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ============================================================
// IssueToken: POST /api/auth/token
// ============================================================

func (a *AdminAuth) IssueToken(ctx context.Context, req *domain.TokenRequest) (*domain.TokenResponse, error) {
	_, span := authTracer.Start(ctx, "AdminAuth.IssueToken")
	defer span.End()

	if req.Password == "" {
		return nil, &domain.ErrValidation{Field: "password", Message: "is required"}
	}
	if len(a.passwordHash) == 0 {
		a.logger.Warn("admin login attempted but ADMIN_PASSWORD_HASH is not set")
		return nil, &domain.ErrUnauthorized{Message: "admin access is disabled"}
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password)); err != nil {
		a.logger.Warn("admin login failed")
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	token, err := a.signAccessToken()
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	a.logger.Info("admin token issued")
	return &domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(a.accessTTL.Seconds()),
	}, nil
}

// ============================================================
// ValidateAccessToken: used by middleware
// ============================================================

// AdminClaims are the claims carried by admin access tokens.
type AdminClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func (a *AdminAuth) ValidateAccessToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" || claims.Subject != adminSubject {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}

func (a *AdminAuth) signAccessToken() (string, error) {
	now := a.now()
	claims := AdminClaims{
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}
