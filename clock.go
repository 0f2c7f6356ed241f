package iceconn

import "time"

// Timer is the minimal interface StunRequestManager needs from a
// scheduled callback, satisfied by *time.Timer.
type Timer interface {
	Stop() bool
}

// Clock is the time/timer seam StunRequestManager uses instead of calling
// time.Now/time.AfterFunc directly, so tests can drive retransmission
// deterministically. It mirrors the shape
// internal/allocator.Allocator.Collect(t time.Time) uses elsewhere in this
// family of components: take time as a parameter rather than read it from
// the environment.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// realClock is the production Clock, backed by the standard library.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns the production Clock implementation.
func RealClock() Clock { return realClock{} }
