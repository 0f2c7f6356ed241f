package iceconn

import "github.com/pkg/errors"

// Sentinel errors returned by Connection and StunRequestManager, grounded
// on internal/allocator and internal/auth's package-level error values in
// gortcd.
var (
	// ErrAuthFailed is returned internally when MESSAGE-INTEGRITY or
	// USERNAME validation fails on an inbound binding request.
	ErrAuthFailed = errors.New("stun authentication failed")
	// ErrPendingDelete is returned by any Connection operation attempted
	// after Shutdown, matching the "pending_delete" no-op contract the
	// write-state machine enforces once the owning port is released.
	ErrPendingDelete = errors.New("connection is pending delete")
)

// RoleConflictError reports a 487 (Role Conflict) condition, carrying the
// tiebreakers compared so callers can log or test against them.
type RoleConflictError struct {
	LocalTieBreaker  uint64
	RemoteTieBreaker uint64
}

func (e *RoleConflictError) Error() string {
	return "ice role conflict"
}
