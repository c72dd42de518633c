// Package credential keeps the access token: it decides whether the cached
// record is still usable, refreshes it from the token endpoint when not,
// and persists every refresh.
package credential

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DateLayout is the local-time stamp stored alongside a fetched token.
	DateLayout = "2006-01-02 150405"

	// Validity is how long a fetched token is trusted.
	Validity = 2 * time.Hour

	statusOK = "ok"

	fieldToken  = "access_token"
	fieldStatus = "errmsg"
	fieldDate   = "date"
)

var (
	// ErrCacheMiss means no record has been persisted yet.
	ErrCacheMiss = errors.New("no cached credential")

	// ErrNoToken means the persisted record carries no access_token.
	ErrNoToken = errors.New("credential record has no access_token")
)

// Record is the token endpoint's response object, kept field for field,
// plus the retrieval date.
type Record map[string]any

// Token returns the access_token field.
func (r Record) Token() (string, bool) {
	s, ok := r[fieldToken].(string)
	return s, ok && s != ""
}

// Status returns the errmsg field, "" if absent.
func (r Record) Status() string {
	s, _ := r[fieldStatus].(string)
	return s
}

// IssuedAt parses the stored retrieval date in loc.
func (r Record) IssuedAt(loc *time.Location) (time.Time, error) {
	s, ok := r[fieldDate].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("record has no %q field", fieldDate)
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// stamp records t as the retrieval date.
func (r Record) stamp(t time.Time) {
	r[fieldDate] = t.Format(DateLayout)
}
