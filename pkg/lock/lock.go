// Package lock decides whether an actor may edit a record that carries
// optimistic-lock fields from the exhibits API.
//
// Evaluate is a pure function: it holds no state between calls and must be
// recomputed every time a record is loaded.
package lock

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// UserID is a numeric user identity as reported by the API or a token.
// The zero value is an unresolvable identity.
type UserID struct {
	n     int64
	valid bool
}

// NewUserID returns a resolvable UserID.
func NewUserID(n int64) UserID {
	return UserID{n: n, valid: true}
}

// ParseUserID parses a decimal identity. Anything that is not a base-10
// integer yields an invalid UserID.
func ParseUserID(s string) UserID {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return UserID{}
	}
	return NewUserID(n)
}

// Valid reports whether the identity could be established.
func (u UserID) Valid() bool { return u.valid }

// Int64 returns the numeric value and whether it is valid.
func (u UserID) Int64() (int64, bool) { return u.n, u.valid }

func (u UserID) String() string {
	if !u.valid {
		return ""
	}
	return strconv.FormatInt(u.n, 10)
}

// Equal reports whether both identities are valid and identical.
func (u UserID) Equal(o UserID) bool {
	return u.valid && o.valid && u.n == o.n
}

// UnmarshalJSON accepts a number, a numeric string, or null. Other values
// decode into an invalid UserID rather than failing the whole payload.
func (u *UserID) UnmarshalJSON(b []byte) error {
	*u = UserID{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		*u = ParseUserID(s)
		return nil
	}
	*u = ParseUserID(string(b))
	return nil
}

// MarshalJSON writes the number, or null for an invalid identity.
func (u UserID) MarshalJSON() ([]byte, error) {
	if !u.valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(u.n, 10)), nil
}

// Flag is a lenient boolean. The API has reported is_locked as a JSON bool,
// as 0/1, and as a quoted string.
type Flag bool

// UnmarshalJSON treats null, false, "false", numeric zero and the empty
// string as unset. Any other value is set, so an unexpected encoding keeps
// the record locked.
func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	*f = Flag(!falsy(s))
	return nil
}

func falsy(s string) bool {
	switch strings.ToLower(s) {
	case "", "null", "false":
		return true
	}
	n, err := strconv.ParseFloat(s, 64)
	return err == nil && n == 0
}

// Record is the lock state carried by every editable API record.
type Record struct {
	IsLocked       Flag   `json:"is_locked"`
	LockedByUserID UserID `json:"locked_by_user_id"`
}

// Actor is the user attempting to edit.
type Actor struct {
	UserID          UserID `json:"user_id"`
	IsAdministrator bool   `json:"is_administrator"`
}

// Decision is the outcome of Evaluate. When Editable is false the caller
// disables every form control except those re-enabled by ShowAdminOverride.
type Decision struct {
	Editable          bool `json:"editable"`
	ShowAdminOverride bool `json:"show_admin_override"`
}

// Outcome labels a Decision for logs and metrics.
func (d Decision) Outcome() string {
	switch {
	case d.Editable:
		return "editable"
	case d.ShowAdminOverride:
		return "override"
	default:
		return "locked"
	}
}

// Evaluate decides whether actor may edit rec right now.
//
// An unlocked record is editable by anyone, including a nil actor. For a
// locked record the result fails closed when either identity cannot be
// established; the lock holder may keep editing; anyone else is locked out,
// with the override offered to administrators.
func Evaluate(rec Record, actor *Actor) Decision {
	if !rec.IsLocked {
		return Decision{Editable: true}
	}
	if actor == nil || !actor.UserID.Valid() || !rec.LockedByUserID.Valid() {
		return Decision{}
	}
	if rec.LockedByUserID.Equal(actor.UserID) {
		return Decision{Editable: true}
	}
	return Decision{ShowAdminOverride: actor.IsAdministrator}
}

// HeldBy reports whether rec is locked by actor.
func HeldBy(rec Record, actor *Actor) bool {
	return bool(rec.IsLocked) && actor != nil && rec.LockedByUserID.Equal(actor.UserID)
}
