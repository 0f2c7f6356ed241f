package iceconn

import (
	"math"
	"time"
)

// rttAlpha is the smoothing factor for the plain RTT EMA Connection keeps
//, the same constant TCP's SRTT estimator
// uses.
const rttAlpha = 1.0 / 8.0

// simpleRTT is the plain exponential moving average of RTT samples that
// Connection.rtt tracks: fixed-weight, snaps to the first sample.
type simpleRTT struct {
	value   time.Duration
	samples int
}

func (r *simpleRTT) addSample(sample time.Duration) {
	if r.samples == 0 {
		r.value = sample
	} else {
		r.value += time.Duration(rttAlpha * float64(sample-r.value))
	}
	r.samples++
}

// minSamplesConverged is the number of samples after which an
// RttEstimator is considered to have converged on a stable estimate.
const minSamplesConverged = 3

// RttEstimator is an event-based exponential moving average of RTT
// samples: the decay weight of each sample depends on the wall-clock gap
// since the previous sample rather than on a fixed per-call factor, so a
// burst of samples converges faster than samples spread out over a long
// idle period.
type RttEstimator struct {
	halfLife time.Duration
	value    time.Duration
	lastTime time.Time
	samples  int
}

// NewRttEstimator returns an RttEstimator that halves the weight of a past
// sample every halfLife of elapsed time.
func NewRttEstimator(halfLife time.Duration) *RttEstimator {
	if halfLife <= 0 {
		halfLife = time.Second
	}
	return &RttEstimator{halfLife: halfLife}
}

// AddSample feeds a new RTT sample observed at now.
func (e *RttEstimator) AddSample(now time.Time, sample time.Duration) {
	if e.samples == 0 {
		e.value = sample
		e.lastTime = now
		e.samples++
		return
	}
	elapsed := now.Sub(e.lastTime)
	if elapsed < 0 {
		elapsed = 0
	}
	weight := 1 - math.Exp(-float64(elapsed)/float64(e.halfLife))
	e.value += time.Duration(weight * float64(sample-e.value))
	e.lastTime = now
	e.samples++
}

// Value returns the current estimate. It is zero until the first sample.
func (e *RttEstimator) Value() time.Duration { return e.value }

// Samples returns the number of samples fed to the estimator.
func (e *RttEstimator) Samples() int { return e.samples }

// Converged reports whether enough samples have been observed that Value
// is a meaningful estimate rather than dominated by the first sample.
func (e *RttEstimator) Converged() bool { return e.samples >= minSamplesConverged }
