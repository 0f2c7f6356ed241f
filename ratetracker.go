package iceconn

import "time"

// RateTracker computes units-per-second (bytes or packets) over a sliding
// window made of fixed-size time buckets, grounded on
// rtc_base/rate_tracker.h: each bucket's count is assumed to have accrued
// at a constant rate across the bucket, so the rate over any sub-window is
// interpolated from whole and partial buckets rather than requiring a
// sample-by-sample history.
type RateTracker struct {
	bucketSize time.Duration
	buckets    []int64

	total        int64
	current      int
	bucketStart  time.Time
	initialized  bool
	initialStart time.Time
}

// NewRateTracker returns a RateTracker covering bucketCount buckets of
// bucketSize each, for a total window of bucketSize*bucketCount.
func NewRateTracker(bucketSize time.Duration, bucketCount int) *RateTracker {
	if bucketCount < 1 {
		bucketCount = 1
	}
	return &RateTracker{
		bucketSize: bucketSize,
		buckets:    make([]int64, bucketCount),
	}
}

func (r *RateTracker) ensureInitialized(now time.Time) {
	if r.initialized {
		return
	}
	r.initialized = true
	r.initialStart = now
	r.bucketStart = now
	r.current = 0
}

// Update records count units observed at now, advancing the window as
// needed and zeroing any buckets skipped over.
func (r *RateTracker) Update(count int64, now time.Time) {
	r.ensureInitialized(now)
	r.advance(now)
	r.buckets[r.current] += count
	r.total += count
}

func (r *RateTracker) advance(now time.Time) {
	elapsed := now.Sub(r.bucketStart)
	if elapsed < r.bucketSize {
		return
	}
	skip := int(elapsed / r.bucketSize)
	n := len(r.buckets)
	if skip >= n {
		for i := range r.buckets {
			r.buckets[i] = 0
		}
		skip = n
	} else {
		for i := 1; i <= skip; i++ {
			r.buckets[(r.current+i)%n] = 0
		}
	}
	r.current = (r.current + skip) % n
	r.bucketStart = r.bucketStart.Add(time.Duration(skip) * r.bucketSize)
}

// TotalSampleCount returns the total number of units ever recorded,
// including ones that have since fallen out of the window.
func (r *RateTracker) TotalSampleCount() int64 { return r.total }

// Rate returns the average rate (units per second) over the tracker's full
// window, ending at now.
func (r *RateTracker) Rate(now time.Time) float64 {
	return r.ComputeRateForInterval(now, r.bucketSize*time.Duration(len(r.buckets)))
}

// ComputeRateForInterval returns the average rate (units per second) over
// the most recent interval ending at now, or since the first sample if
// that is more recent than interval ago.
func (r *RateTracker) ComputeRateForInterval(now time.Time, interval time.Duration) float64 {
	if !r.initialized {
		return 0
	}
	r.advance(now)
	n := len(r.buckets)
	windowStart := now.Add(-interval)
	if r.initialStart.After(windowStart) {
		windowStart = r.initialStart
	}
	elapsed := now.Sub(windowStart)
	if elapsed <= 0 {
		return 0
	}
	var sum int64
	// bucketStart is the start time of buckets[current]; walk backwards
	// including only the portion of each bucket that falls in the window.
	for i := 0; i < n; i++ {
		idx := ((r.current - i) % n + n) % n
		start := r.bucketStart.Add(-time.Duration(i) * r.bucketSize)
		end := start.Add(r.bucketSize)
		if end.Before(windowStart) {
			break
		}
		sum += r.buckets[idx]
		if start.Before(windowStart) {
			break
		}
	}
	return float64(sum) / elapsed.Seconds()
}
