// Package testutil holds deterministic stand-ins shared by tests.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock returns a settable time. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock set to 2024-03-01 06:00:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock by d. A negative d moves it backwards.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator returns sequential IDs with a prefix: "rec-1", "rec-2".
type StubIDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter int
}

func NewStubIDGenerator(prefix string) *StubIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &StubIDGenerator{prefix: prefix}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}
