// Package capability issues and verifies the short-lived tokens that let a
// caller fetch approved content from the blob store.
package capability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/config"
	"go.uber.org/fx"
)

var (
	ErrInvalidCapability = errors.New("invalid_capability")
	ErrMissingSecret     = errors.New("capability_secret_required")
)

const defaultTTL = 5 * time.Minute

var Module = fx.Module("capability",
	fx.Provide(NewIssuer),
)

type Claims struct {
	SubmissionID string `json:"sid"`
	ResourceRef  string `json:"ref,omitempty"`
	EventID      string `json:"evt,omitempty"`
	jwt.RegisteredClaims
}

type Request struct {
	UserID       string
	SubmissionID snowflake.ID
	ResourceRef  string
	EventID      snowflake.ID
}

type Grant struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

func NewIssuer(cfg config.Config, clk clock.Clock) (*Issuer, error) {
	secret := strings.TrimSpace(cfg.Capability.Secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	ttl := cfg.Capability.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Issuer{
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.Capability.Issuer),
		ttl:    ttl,
		clock:  clk,
	}, nil
}

func (i *Issuer) Issue(ctx context.Context, req Request) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}
	if strings.TrimSpace(req.UserID) == "" || req.SubmissionID == 0 {
		return Grant{}, ErrInvalidCapability
	}

	now := i.clock.Now()
	expiresAt := now.Add(i.ttl)
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	claims := Claims{
		SubmissionID: req.SubmissionID.String(),
		ResourceRef:  req.ResourceRef,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    i.issuer,
			Subject:   req.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if req.EventID != 0 {
		claims.EventID = req.EventID.String()
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Grant{}, err
	}
	return Grant{ID: id, Token: token, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, issuer and expiry and returns the embedded claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidCapability
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidCapability
	}
	if _, err := snowflake.ParseString(claims.SubmissionID); err != nil {
		return nil, ErrInvalidCapability
	}
	return claims, nil
}
