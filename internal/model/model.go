// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"
)

// RemovePolicy tells the synchronizer what to do with local identities missing from the directory.
type RemovePolicy string

const (
	RemoveKeep    RemovePolicy = "keep"
	RemoveSuspend RemovePolicy = "suspend"
	RemoveDelete  RemovePolicy = "delete"
)

// Valid reports whether p is one of the known policies.
func (p RemovePolicy) Valid() bool {
	switch p {
	case RemoveKeep, RemoveSuspend, RemoveDelete:
		return true
	}
	return false
}

// ProfileFieldPrefix marks custom profile fields in attribute and update-key names.
const ProfileFieldPrefix = "profile_field_"

// StandardFields lists the identity columns that can be mapped from the directory.
var StandardFields = []string{
	"firstname", "lastname", "email", "city", "country", "lang",
	"institution", "department", "phone1", "address",
}

// fieldLimits holds column widths; longer directory values are truncated.
var fieldLimits = map[string]int{
	"username":    100,
	"idnumber":    255,
	"firstname":   100,
	"lastname":    100,
	"email":       100,
	"city":        120,
	"country":     2,
	"lang":        30,
	"institution": 255,
	"department":  255,
	"phone1":      20,
	"address":     255,
}

// Identity is a local user record. It is owned by the identity store.
type Identity struct {
	ID          int64
	Auth        string // auth method tag, e.g. "jwt" or "manual"
	Username    string // unique per MnetHostID
	Idnumber    string // external id, FK to the directory
	Password    string // hash
	Confirmed   bool
	Suspended   bool
	Deleted     bool
	MnetHostID  int64
	FirstName   string
	LastName    string
	Email       string
	City        string
	Country     string
	Lang        string
	Institution string
	Department  string
	Phone1      string
	Address     string
	Profile     map[string]string // custom profile fields, keyed without prefix
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Field returns the value of a standard field by name.
func (u *Identity) Field(name string) (string, bool) {
	switch name {
	case "username":
		return u.Username, true
	case "idnumber":
		return u.Idnumber, true
	case "password":
		return u.Password, true
	case "firstname":
		return u.FirstName, true
	case "lastname":
		return u.LastName, true
	case "email":
		return u.Email, true
	case "city":
		return u.City, true
	case "country":
		return u.Country, true
	case "lang":
		return u.Lang, true
	case "institution":
		return u.Institution, true
	case "department":
		return u.Department, true
	case "phone1":
		return u.Phone1, true
	case "address":
		return u.Address, true
	}
	return "", false
}

// SetField assigns a standard field by name. Unknown names are ignored and reported false.
func (u *Identity) SetField(name, value string) bool {
	switch name {
	case "username":
		u.Username = value
	case "idnumber":
		u.Idnumber = value
	case "password":
		u.Password = value
	case "firstname":
		u.FirstName = value
	case "lastname":
		u.LastName = value
	case "email":
		u.Email = value
	case "city":
		u.City = value
	case "country":
		u.Country = value
	case "lang":
		u.Lang = value
	case "institution":
		u.Institution = value
	case "department":
		u.Department = value
	case "phone1":
		u.Phone1 = value
	case "address":
		u.Address = value
	default:
		return false
	}
	return true
}

// ExternalIdentity is a record pulled from the directory during one sync pass.
type ExternalIdentity struct {
	Idnumber   string
	Username   string            // trimmed, lower-cased
	Attributes map[string]string // mapped field -> value, may include "password"
}

// NormalizeUsername trims and lower-cases a directory username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Truncate cuts directory values to the width of their local column.
// Values of unknown fields are returned unchanged.
func Truncate(field, value string) string {
	limit, ok := fieldLimits[field]
	if !ok {
		return value
	}
	r := []rune(value)
	if len(r) <= limit {
		return value
	}
	return string(r[:limit])
}

// TruncateAll applies Truncate to every entry of a fetched attribute set and returns a copy.
func TruncateAll(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = Truncate(k, v)
	}
	return out
}

// Tokens carries an issued token and its expiry (for diagnostics).
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// UserData is an inbound profile update authorized by a token.
type UserData struct {
	Idnumber  string `validate:"required"`
	Username  string `validate:"required"`
	Email     string `validate:"omitempty,email"`
	FirstName string
	LastName  string
}
