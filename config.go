package iceconn

import "time"

// IceFieldTrials are runtime-tunable experimental flags, set via
// Connection.SetIceFieldTrials, distinct from the
// per-connection timeouts (SetReceivingTimeout / SetUnwritableTimeout /
// SetInactiveTimeout) which have their own setters. mapstructure tags let
// the demo command load this straight out of a viper config file.
type IceFieldTrials struct {
	// SupportsReNomination enables sending the NOMINATION attribute
	// (ICE re-nomination draft) instead of relying on USE-CANDIDATE
	// alone.
	SupportsReNomination bool `mapstructure:"supports_renomination"`
	// PiggybackAcks enables attaching GOOG_DELTA_ACK to a binding response
	// when the matching request carried GOOG_DELTA and a DeltaConsumer is
	// registered (Connection.SetDeltaHooks). Off by default since most
	// peers never send GOOG_DELTA at all.
	PiggybackAcks bool `mapstructure:"piggyback_acks"`
}

// ConnectionTimeouts bundles every timeout Connection exposes individual
// setters for, used only to seed NewConnection's defaults; callers should
// otherwise use SetReceivingTimeout/SetUnwritableTimeout/SetInactiveTimeout.
type ConnectionTimeouts struct {
	WriteState        WriteStateTimeouts `mapstructure:",squash"`
	ReceivingTimeout  time.Duration      `mapstructure:"receiving_timeout"`
	RTOFloor          time.Duration      `mapstructure:"rto_floor"`
	RTOMax            time.Duration      `mapstructure:"rto_max"`
	MaxAttempts       int                `mapstructure:"max_attempts"`
	MaxPingsInHistory int                `mapstructure:"max_pings_in_history"`
	RTTHalfLife       time.Duration      `mapstructure:"rtt_half_life"`
}

// DefaultConnectionTimeouts returns the default for every configurable
// timeout.
func DefaultConnectionTimeouts() ConnectionTimeouts {
	return ConnectionTimeouts{
		WriteState:        DefaultWriteStateTimeouts(),
		ReceivingTimeout:  DefaultReceivingTimeout,
		RTOFloor:          DefaultRTOFloor,
		RTOMax:            DefaultRTOMax,
		MaxAttempts:       DefaultMaxAttempts,
		MaxPingsInHistory: defaultMaxPingsInHistory,
		RTTHalfLife:       time.Second,
	}
}

func (t *ConnectionTimeouts) applyDefaults() {
	d := DefaultConnectionTimeouts()
	t.WriteState.applyDefaults()
	if t.ReceivingTimeout == 0 {
		t.ReceivingTimeout = d.ReceivingTimeout
	}
	if t.RTOFloor == 0 {
		t.RTOFloor = d.RTOFloor
	}
	if t.RTOMax == 0 {
		t.RTOMax = d.RTOMax
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = d.MaxAttempts
	}
	if t.MaxPingsInHistory == 0 {
		t.MaxPingsInHistory = d.MaxPingsInHistory
	}
	if t.RTTHalfLife == 0 {
		t.RTTHalfLife = d.RTTHalfLife
	}
}
