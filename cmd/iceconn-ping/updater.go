package main

import (
	"sync/atomic"

	"github.com/gortc/iceconn"
)

// Updater holds the latest PingConfig, adapted from internal/server.Updater:
// an atomic.Value so Set from a config-watcher goroutine never blocks a
// concurrent Get. Unlike internal/server.Updater, it does not push changes
// straight to a Connection itself -- Connection is not safe for concurrent
// use, so ApplyTo only runs the actual field trial/timeout update, and it
// is the caller's job to invoke ApplyTo from the goroutine that owns the
// Connection (see dispatchLoop's configChanged case in run.go).
type Updater struct {
	v atomic.Value
}

// NewUpdater returns an Updater seeded with cfg.
func NewUpdater(cfg PingConfig) *Updater {
	u := &Updater{}
	u.v.Store(cfg)
	return u
}

// Get returns the current configuration.
func (u *Updater) Get() PingConfig { return u.v.Load().(PingConfig) }

// Set stores cfg for future Get/ApplyTo calls. It does not touch the
// listening socket or the remote address -- those require a restart, the
// same boundary internal/server.Updater draws around Options.Conn.
func (u *Updater) Set(cfg PingConfig) {
	u.v.Store(cfg)
}

// ApplyTo pushes the current configuration's field trials and receiving
// timeout onto c. Callers must only invoke this from the goroutine that
// owns c.
func (u *Updater) ApplyTo(c *iceconn.Connection) {
	cfg := u.Get()
	c.SetIceFieldTrials(cfg.FieldTrials)
	c.SetReceivingTimeout(cfg.Timeouts.ReceivingTimeout)
}
