// Package clock provides the wall-clock time source and ID generator used
// throughout the core so tests can substitute a fake.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real is the production clock.
var Real Clock = realClock{}

// NewID returns a new random UUID v4 string, used for Job, ModelSet, and
// ModelWeight identities.
func NewID() string {
	return uuid.New().String()
}
