// Package clock abstracts time and identifier generation so services stay
// deterministic in tests.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Real returns the wall-clock time in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
