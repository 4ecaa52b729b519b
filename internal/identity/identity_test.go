package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/config"
	"github.com/smallbiznis/contentgate/internal/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) (*Verifier, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	v, err := NewVerifier(config.Config{AuthJWTSecret: "test-secret"}, fake)
	require.NoError(t, err)
	return v, fake
}

func TestSignParseRoundTrip(t *testing.T) {
	v, _ := newTestVerifier(t)

	token, err := v.Sign(Caller{UserID: "u-1", Role: RoleAdmin, Tier: tier.Premium}, time.Hour)
	require.NoError(t, err)

	caller, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, Caller{UserID: "u-1", Role: RoleAdmin, Tier: tier.Premium}, caller)
	assert.True(t, caller.IsAdmin())
}

func TestParseResolvesUnknownClaimsConservatively(t *testing.T) {
	v, _ := newTestVerifier(t)

	token, err := v.Sign(Caller{UserID: "u-2", Role: "root", Tier: "gold"}, time.Hour)
	require.NoError(t, err)

	caller, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, caller.Role)
	assert.Equal(t, tier.Free, caller.Tier)
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	v, fake := newTestVerifier(t)

	token, err := v.Sign(Caller{UserID: "u-3", Role: RoleUser, Tier: tier.Free}, time.Minute)
	require.NoError(t, err)
	fake.Advance(2 * time.Minute)
	_, err = v.Parse(token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	other, err := NewVerifier(config.Config{AuthJWTSecret: "other-secret"}, fake)
	require.NoError(t, err)
	foreign, err := other.Sign(Caller{UserID: "u-3"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(foreign)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Parse("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestParseRejectsMissingSubjectAndOtherAlgorithms(t *testing.T) {
	v, fake := newTestVerifier(t)

	noSub, err := v.Sign(Caller{Role: RoleUser}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(noSub)
	assert.ErrorIs(t, err, ErrUnauthorized)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u-4",
		ExpiresAt: jwt.NewNumericDate(fake.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Parse(unsigned)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(config.Config{}, clock.SystemClock{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestCallerContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithCaller(context.Background(), Caller{UserID: "u-5", Role: RoleUser, Tier: tier.Standard})
	caller, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u-5", caller.UserID)
}
