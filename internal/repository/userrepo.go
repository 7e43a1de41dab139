// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/jwt-auth/internal/model"
)

// Filter is a conjunctive predicate over local identities.
// Zero-valued fields do not constrain the result; deleted rows are excluded unless IncludeDeleted is set.
type Filter struct {
	Auth           string   // auth = Auth
	ExcludeAuth    string   // auth <> ExcludeAuth
	Idnumber       string   // idnumber = Idnumber
	Idnumbers      []string // idnumber IN Idnumbers; an empty non-nil slice matches nothing
	Username       string
	Suspended      *bool
	MnetHostID     int64
	IncludeDeleted bool
	Limit          int
}

// Bool returns a pointer to b for use in Filter.Suspended.
func Bool(b bool) *bool { return &b }

// IdentityStore provides access to local identities. The synchronizer and the auth
// service never touch storage other than through it.
type IdentityStore interface {
	// Find returns all identities matching f, ordered by id.
	Find(ctx context.Context, f Filter) ([]model.Identity, error)
	// Get returns the first identity matching f or errs.ErrNotFound.
	Get(ctx context.Context, f Filter) (*model.Identity, error)
	// ListUsernames returns the usernames of identities matching f.
	ListUsernames(ctx context.Context, f Filter) ([]string, error)
	// Create inserts u and returns the new id.
	Create(ctx context.Context, u *model.Identity) (int64, error)
	// Update writes every mutable column of u.
	Update(ctx context.Context, u *model.Identity) error
	// SetSuspended toggles the suspended flag.
	SetSuspended(ctx context.Context, id int64, suspended bool) error
	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id int64, hash string) error
	// Delete removes the identity and its profile data.
	Delete(ctx context.Context, id int64) error
	// ProfileFields loads custom profile values keyed by short field name.
	ProfileFields(ctx context.Context, id int64) (map[string]string, error)
	// SaveProfileFields upserts custom profile values.
	SaveProfileFields(ctx context.Context, id int64, fields map[string]string) error
}
