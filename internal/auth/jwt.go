package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"

	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// Claims are the JWT claims issued by the external auth service.
type Claims struct {
	Role      string `json:"role"`
	PatientID string `json:"patient_id,omitempty"`
	Name      string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTLookup verifies HS256 bearer tokens and caches resolved identities
// until the earlier of token expiry and the cache TTL.
type JWTLookup struct {
	secret []byte
	issuer string
	ttl    time.Duration
	cache  *cache.Cache
	now    func() time.Time
}

// NewJWTLookup creates a JWT-backed SessionLookup. An empty issuer skips the iss check.
func NewJWTLookup(secret []byte, issuer string, cacheTTL time.Duration) (*JWTLookup, error) {
	if len(secret) == 0 {
		return nil, errors.Newf("jwt secret is empty").
			Component("auth").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &JWTLookup{
		secret: secret,
		issuer: issuer,
		ttl:    cacheTTL,
		cache:  cache.New(cacheTTL, 2*cacheTTL),
		now:    time.Now,
	}, nil
}

// Lookup implements SessionLookup.
func (l *JWTLookup) Lookup(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	key := cacheKey(token)
	if cached, expiry, found := l.cache.GetWithExpiration(key); found {
		if expiry.IsZero() || l.now().Before(expiry) {
			return cached.(Identity), nil
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(l.now),
	}
	if l.issuer != "" {
		opts = append(opts, jwt.WithIssuer(l.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return l.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		GetLogger().Debug("token rejected", logger.Error(err))
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	id, err := identityFromClaims(claims)
	if err != nil {
		return Identity{}, err
	}

	ttl := min(l.ttl, claims.ExpiresAt.Sub(l.now()))
	if ttl > 0 {
		l.cache.Set(key, id, ttl)
	}
	return id, nil
}

// Issue signs a token for id. The external auth service normally does this;
// it is exposed for tooling and tests.
func (l *JWTLookup) Issue(id Identity, validFor time.Duration) (string, error) {
	now := l.now()
	claims := Claims{
		Role:      string(id.Role),
		PatientID: id.PatientID,
		Name:      id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    l.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validFor)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
}

func identityFromClaims(c *Claims) (Identity, error) {
	role := Role(c.Role)
	if c.Subject == "" || !role.Valid() {
		return Identity{}, fmt.Errorf("%w: subject or role missing", ErrInvalidToken)
	}
	id := Identity{UserID: c.Subject, Role: role, PatientID: c.PatientID, Name: c.Name}
	// A patient token without patient_id owns the record keyed by its subject
	if role == RolePatient && id.PatientID == "" {
		id.PatientID = c.Subject
	}
	return id, nil
}

// cacheKey avoids keeping raw tokens in memory longer than needed.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
