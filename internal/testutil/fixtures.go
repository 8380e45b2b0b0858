package testutil

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/HerbHall/exhibitdesk/internal/exhibitsapi"
	"github.com/HerbHall/exhibitdesk/pkg/lock"
)

// NewRecord returns an unlocked exhibit record suitable for test fixtures.
// Override individual fields with the option funcs.
func NewRecord(opts ...func(*exhibitsapi.Record)) exhibitsapi.Record {
	r := exhibitsapi.Record{
		UUID:  uuid.New().String(),
		Title: "Test Exhibit",
		Kind:  exhibitsapi.KindExhibit,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithTitle sets the record title.
func WithTitle(title string) func(*exhibitsapi.Record) {
	return func(r *exhibitsapi.Record) { r.Title = title }
}

// WithKind sets the record kind.
func WithKind(k exhibitsapi.Kind) func(*exhibitsapi.Record) {
	return func(r *exhibitsapi.Record) { r.Kind = k }
}

// LockedBy marks the record as locked by userID.
func LockedBy(userID int64) func(*exhibitsapi.Record) {
	return func(r *exhibitsapi.Record) {
		r.IsLocked = true
		r.LockedByUserID = lock.NewUserID(userID)
	}
}

// NewSummaries returns n search hits titled "Exhibit 1".."Exhibit n".
func NewSummaries(n int) []exhibitsapi.Summary {
	out := make([]exhibitsapi.Summary, n)
	for i := range out {
		out[i] = exhibitsapi.Summary{
			UUID:  uuid.New().String(),
			Title: "Exhibit " + strconv.Itoa(i+1),
			Kind:  exhibitsapi.KindExhibit,
		}
	}
	return out
}
