package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestJWTLookupRoundTrip(t *testing.T) {
	l, err := NewJWTLookup([]byte("secret"), "pneumai-auth", time.Minute)
	require.NoError(t, err)

	token, err := l.Issue(Identity{UserID: "u1", Role: RoleDoctor, Name: "Dr. Ada"}, time.Hour)
	require.NoError(t, err)

	id, err := l.Lookup(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Role: RoleDoctor, Name: "Dr. Ada"}, id)
	assert.True(t, id.IsStaff())
	assert.False(t, id.IsAdmin())
}

func TestJWTLookupPatientDefaultsToSubject(t *testing.T) {
	l, err := NewJWTLookup([]byte("secret"), "", time.Minute)
	require.NoError(t, err)

	token, err := l.Issue(Identity{UserID: "P1", Role: RolePatient}, time.Hour)
	require.NoError(t, err)
	id, err := l.Lookup(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "P1", id.PatientID)
	assert.True(t, id.CanAccessPatient("P1"))
	assert.False(t, id.CanAccessPatient("P2"))
}

func TestJWTLookupRejections(t *testing.T) {
	ctx := context.Background()
	l, err := NewJWTLookup([]byte("secret"), "pneumai-auth", time.Minute)
	require.NoError(t, err)

	_, err = l.Lookup(ctx, "")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = l.Lookup(ctx, "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewJWTLookup([]byte("other-secret"), "pneumai-auth", time.Minute)
	require.NoError(t, err)
	forged, err := other.Issue(Identity{UserID: "u1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)
	_, err = l.Lookup(ctx, forged)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewJWTLookup([]byte("secret"), "someone-else", time.Minute)
	require.NoError(t, err)
	token, err := wrongIssuer.Issue(Identity{UserID: "u1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)
	_, err = l.Lookup(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)

	badRole, err := l.Issue(Identity{UserID: "u1", Role: Role("nurse")}, time.Hour)
	require.NoError(t, err)
	_, err = l.Lookup(ctx, badRole)
	require.ErrorIs(t, err, ErrInvalidToken)

	// alg none must never verify
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = l.Lookup(ctx, unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTLookupExpiryAndCache(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	l, err := NewJWTLookup([]byte("secret"), "", time.Hour)
	require.NoError(t, err)
	l.now = fixedClock(start)

	token, err := l.Issue(Identity{UserID: "u1", Role: RoleAdmin}, 10*time.Minute)
	require.NoError(t, err)

	_, err = l.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 1, l.cache.ItemCount())

	// Cached entries never outlive the token
	l.now = fixedClock(start.Add(11 * time.Minute))
	_, err = l.Lookup(ctx, token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestNewJWTLookupRequiresSecret(t *testing.T) {
	_, err := NewJWTLookup(nil, "", time.Minute)
	require.Error(t, err)
}

func TestStaticSessionsAndContext(t *testing.T) {
	sessions := StaticSessions{"tok": {UserID: "d1", Role: RoleDoctor}}

	id, err := sessions.Lookup(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "d1", id.UserID)

	_, err = sessions.Lookup(context.Background(), "nope")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = sessions.Lookup(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingToken)

	ctx := WithIdentity(context.Background(), id)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RolePatient.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("").Valid())
	assert.True(t, Identity{Role: RoleDoctor}.CanAccessPatient("anyone"))
	assert.False(t, Identity{Role: RolePatient}.CanAccessPatient(""))
}
