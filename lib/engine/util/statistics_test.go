package util

import (
	"testing"
)

// TestSpreadStats verifies the balance score rewards even spreads and
// punishes a dominating member.
func TestSpreadStats(t *testing.T) {
	even := NewSpreadStats([]float64{1000, 1000, 1000})
	if even.Balance != 1.0 {
		t.Errorf("Even spread must score 1.0, got %f", even.Balance)
	}
	if even.StdDev != 0 || even.Mean != 1000 {
		t.Errorf("Even spread stats wrong: mean=%f stddev=%f", even.Mean, even.StdDev)
	}

	skewed := NewSpreadStats([]float64{10, 10, 10_000})
	if skewed.Balance >= even.Balance {
		t.Errorf("Skewed spread must score below an even one: %f >= %f", skewed.Balance, even.Balance)
	}
	if skewed.Min != 10 || skewed.Max != 10_000 {
		t.Errorf("Expected min/max 10/10000, got %f/%f", skewed.Min, skewed.Max)
	}

	if got := NewSpreadStats(nil); got != (SpreadStats{}) {
		t.Errorf("Empty input must yield zero stats, got %+v", got)
	}
}

// TestValueSizeHistogram verifies bucketing, the exact average and the
// bucket-midpoint median estimate.
func TestValueSizeHistogram(t *testing.T) {
	h := NewValueSizeHistogram()

	if h.Average() != 0 || h.MedianEstimate() != 0 {
		t.Error("Empty histogram must estimate 0")
	}

	// three samples in the 64..256 bucket, one far above
	for _, size := range []int{100, 150, 200, 5000} {
		h.Observe(size)
	}

	if got := h.Samples(); got != 4 {
		t.Errorf("Expected 4 samples, got %d", got)
	}
	if got := h.Average(); got != (100+150+200+5000)/4 {
		t.Errorf("Average = %d, want exact mean", got)
	}
	if got := h.MedianEstimate(); got != (64+256)/2 {
		t.Errorf("MedianEstimate = %d, want the 64..256 bucket midpoint %d", got, (64+256)/2)
	}

	// a size beyond the last bound lands in the overflow bucket and the
	// estimate degrades gracefully instead of panicking
	h2 := NewValueSizeHistogram()
	h2.Observe(64 << 20)
	if got := h2.MedianEstimate(); got != (16<<20)*2 {
		t.Errorf("Overflow median = %d, want %d", got, (16<<20)*2)
	}
}
