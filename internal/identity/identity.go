// Package identity turns bearer tokens from the identity provider into callers.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/config"
	"github.com/smallbiznis/contentgate/internal/tier"
	"go.uber.org/fx"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole resolves unknown roles to RoleUser.
func ParseRole(raw string) Role {
	if Role(strings.ToLower(strings.TrimSpace(raw))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Caller is the authenticated principal of a request.
type Caller struct {
	UserID string
	Role   Role
	Tier   tier.Tier
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type Claims struct {
	Role string `json:"role"`
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMissingSecret = errors.New("auth_jwt_secret_required")
)

var Module = fx.Module("identity",
	fx.Provide(NewVerifier),
)

type Verifier struct {
	secret []byte
	clock  clock.Clock
}

func NewVerifier(cfg config.Config, clk clock.Clock) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{secret: []byte(secret), clock: clk}, nil
}

// Parse validates an HS256 token and returns its caller.
func (v *Verifier) Parse(raw string) (Caller, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Caller{}, ErrUnauthorized
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil || !token.Valid {
		return Caller{}, ErrUnauthorized
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Caller{}, ErrUnauthorized
	}
	return Caller{
		UserID: userID,
		Role:   ParseRole(claims.Role),
		Tier:   tier.ParseTier(claims.Tier),
	}, nil
}

// Sign issues a token for caller. Used by tooling and tests.
func (v *Verifier) Sign(caller Caller, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		Role: string(caller.Role),
		Tier: string(caller.Tier),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func FromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || caller.UserID == "" {
		return Caller{}, false
	}
	return caller, true
}
