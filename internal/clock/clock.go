// Package clock provides the wall clock used by the pipeline, kept behind an
// interface so tests can pin timestamps.
package clock

import "time"

// System reads the real wall clock in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}
