// Package auth resolves bearer tokens to caller identities.
//
// Session issuance lives outside this service. The core only needs to know who
// the caller is and which patient records they may see, which is what Identity
// carries.
package auth

import (
	"context"

	"github.com/pneumai/pneumai-go/internal/errors"
)

// Role is the caller's authorization role.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Identity is a resolved caller.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	// PatientID is the patient record owned by a patient caller.
	PatientID string `json:"patientId,omitempty"`
	Name      string `json:"name,omitempty"`
}

// IsStaff reports whether the caller is a doctor or an admin.
func (i Identity) IsStaff() bool {
	return i.Role == RoleDoctor || i.Role == RoleAdmin
}

// IsAdmin reports whether the caller is an admin.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanAccessPatient reports whether the caller may see records of patientID.
// Staff see every patient; a patient sees only their own records.
func (i Identity) CanAccessPatient(patientID string) bool {
	if i.IsStaff() {
		return true
	}
	return i.Role == RolePatient && i.PatientID != "" && i.PatientID == patientID
}

// Sentinel errors returned by SessionLookup implementations.
var (
	ErrMissingToken = errors.NewStd("missing bearer token")
	ErrInvalidToken = errors.NewStd("invalid token")
	ErrExpiredToken = errors.NewStd("token expired")
)

// SessionLookup resolves an opaque bearer token to an Identity.
type SessionLookup interface {
	Lookup(ctx context.Context, token string) (Identity, error)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// StaticSessions maps fixed tokens to identities. Useful for tests and local demos.
type StaticSessions map[string]Identity

// Lookup implements SessionLookup.
func (s StaticSessions) Lookup(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	id, ok := s[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}
