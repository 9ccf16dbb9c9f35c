package util

import (
	"math"
	"sort"
	"sync"
)

// ----------------------------------------------------------------------------
// Spread statistics
// ----------------------------------------------------------------------------

// SpreadStats summarizes how evenly a set of byte counts (one per table) is
// spread across its members. Balance is a 0..1 score where 1 means every
// member holds the same amount and 0 means a single member dominates.
type SpreadStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Balance float64 `json:"balance"`
}

// NewSpreadStats computes the spread of the given byte counts.
func NewSpreadStats(values []float64) SpreadStats {
	if len(values) == 0 {
		return SpreadStats{}
	}

	s := SpreadStats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = sum / float64(len(values))

	var squared float64
	for _, v := range values {
		d := v - s.Mean
		squared += d * d
	}
	s.StdDev = math.Sqrt(squared / float64(len(values)))

	// blend the relative deviation with the min/max ratio: both are 1 for
	// a perfectly even spread and fall towards 0 as one member dominates
	ratio := 1.0
	if s.Max > 0 {
		ratio = s.Min / s.Max
	}
	var cv float64
	if s.Mean > 0 {
		cv = s.StdDev / s.Mean
	}
	s.Balance = (1.0-math.Min(1.0, cv))*0.5 + ratio*0.5

	return s
}

// ----------------------------------------------------------------------------
// ValueSizeHistogram
// ----------------------------------------------------------------------------

// valueSizeBounds are the inclusive upper bounds of the histogram buckets.
// Writes are capped well below the memory budget, so the range stops at
// 16MB; anything larger lands in a shared overflow bucket.
var valueSizeBounds = []int{
	16, 64, 256, 1 << 10, 4 << 10,
	16 << 10, 64 << 10, 256 << 10, 1 << 20,
	4 << 20, 16 << 20,
}

// ValueSizeHistogram tracks the distribution of stored value sizes in
// exponential buckets. It is cheap enough to feed from sampled memtable
// scans, trading exact percentiles for constant memory.
//
// Thread-safety: all methods are safe for concurrent use.
type ValueSizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64 // one count per bound, plus the overflow bucket
	samples int64
	sum     int64
}

// NewValueSizeHistogram creates an empty histogram.
func NewValueSizeHistogram() *ValueSizeHistogram {
	return &ValueSizeHistogram{buckets: make([]int64, len(valueSizeBounds)+1)}
}

// Observe records one value size.
func (h *ValueSizeHistogram) Observe(size int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buckets[sort.SearchInts(valueSizeBounds, size)]++
	h.samples++
	h.sum += int64(size)
}

// Samples returns the number of recorded sizes.
func (h *ValueSizeHistogram) Samples() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.samples
}

// Average returns the exact mean of all recorded sizes.
func (h *ValueSizeHistogram) Average() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.samples == 0 {
		return 0
	}
	return int(h.sum / h.samples)
}

// MedianEstimate approximates the median as the midpoint of the bucket
// holding the middle sample.
func (h *ValueSizeHistogram) MedianEstimate() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.samples == 0 {
		return 0
	}

	half := (h.samples + 1) / 2
	var seen int64
	for i, count := range h.buckets {
		seen += count
		if seen < half {
			continue
		}
		switch {
		case i == 0:
			return valueSizeBounds[0] / 2
		case i < len(valueSizeBounds):
			return (valueSizeBounds[i-1] + valueSizeBounds[i]) / 2
		default:
			// overflow: all that is known is "larger than the last bound"
			return valueSizeBounds[len(valueSizeBounds)-1] * 2
		}
	}
	return int(h.sum / h.samples)
}
