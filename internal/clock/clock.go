// Package clock isolates every wall-clock read behind one interface
// (SPEC_FULL.md §9 "Time handling") so session logic and freshness checks
// can be driven by a deterministic fake in tests.
package clock

import "time"

// Clock returns the current time. Real is the production implementation;
// tests substitute a Fake.
type Clock interface {
	Now() time.Time
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Fake is a settable clock for deterministic tests.
type Fake struct {
	T time.Time
}

// NewFake builds a Fake pinned at t.
func NewFake(t time.Time) *Fake { return &Fake{T: t} }

// Now returns the fake's current time.
func (f *Fake) Now() time.Time { return f.T }

// Set moves the fake clock to t.
func (f *Fake) Set(t time.Time) { f.T = t }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.T = f.T.Add(d) }
