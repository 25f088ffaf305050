package statshard

import (
	"testing"

	"github.com/go-kit/log"
)

func TestSampledBoundaryInclusive(t *testing.T) {
	// A source returning exactly the rate must pass: the threshold is
	// inclusive.
	for _, rate := range []float64{0.001, 0.25, 0.5, 0.999} {
		c := New(log.NewNopLogger(), WithRandom(func() float64 { return rate }))
		if !c.sampled(rate) {
			t.Errorf("rate %v: draw == rate must pass", rate)
		}
	}
}

func TestSampledSkips(t *testing.T) {
	c := New(log.NewNopLogger(), WithRandom(func() float64 { return 0.500001 }))
	if c.sampled(0.5) {
		t.Error("draw above rate must not pass")
	}
}

func TestSampledFullRateIgnoresSource(t *testing.T) {
	c := New(log.NewNopLogger(), WithRandom(func() float64 {
		t.Fatal("source consulted at full rate")
		return 0
	}))
	if !c.sampled(1) {
		t.Error("rate 1 must always pass")
	}
	if !c.sampled(1.5) {
		t.Error("rates above 1 must always pass")
	}
}
