package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a time-ordered, collision-resistant id. Client-generated ids use
// the same shape so they can double as server primary keys.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

// Line derives the id of the n-th line of a header so replays of the same
// header produce the same line ids.
func Line(headerID string, n int) string {
	return fmt.Sprintf("%s:%d", headerID, n+1)
}

// Stamp is a UTC timestamp truncated to microseconds, the precision postgres keeps.
func Stamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
