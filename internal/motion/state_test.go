package motion

import (
	"testing"
	"time"

	"github.com/ciptacoding/nvr-core/internal/geom"
)

func TestFilterByRegionsEmptyMeansWholeFrame(t *testing.T) {
	features := []Feature{{Prev: geom.Point{X: 500, Y: 500}, Displacement: 5}}
	got := FilterByRegions(features, nil)
	if len(got) != 1 {
		t.Errorf("FilterByRegions with no regions should keep all features, got %d", len(got))
	}
}

func TestFilterByRegionsKeepsOnlyInside(t *testing.T) {
	regions := []geom.Region{{Rect: geom.Rect{X: 0, Y: 0, W: 10, H: 10}}}
	features := []Feature{
		{Prev: geom.Point{X: 5, Y: 5}, Displacement: 10},
		{Prev: geom.Point{X: 50, Y: 50}, Displacement: 10},
	}
	got := FilterByRegions(features, regions)
	if len(got) != 1 || got[0].Prev.X != 5 {
		t.Errorf("FilterByRegions = %+v, want only the (5,5) feature", got)
	}
	if avg := AverageMotion(got, 1); avg != 10 {
		t.Errorf("AverageMotion = %v, want 10", avg)
	}
}

func TestAverageMotionDropsAtOrBelowNoiseThreshold(t *testing.T) {
	features := []Feature{{Displacement: 1}, {Displacement: 1}}
	if avg := AverageMotion(features, 1); avg != 0 {
		t.Errorf("AverageMotion with all samples <= noise threshold = %v, want 0", avg)
	}
}

func TestAverageMotionNoiseThresholdAboveMaxDisplacement(t *testing.T) {
	features := []Feature{{Displacement: 3}, {Displacement: 4}}
	if avg := AverageMotion(features, 100); avg != 0 {
		t.Errorf("AverageMotion with noise_threshold above max displacement = %v, want 0", avg)
	}
}

func TestMotionThresholdExactlyEqualIsNotAHit(t *testing.T) {
	s := &State{}
	p := Params{MotionThreshold: 10, MotionMinHits: 1, MotionHoldSeconds: 5}
	now := time.Now()
	detected := s.Observe(10, now, p) // avg == threshold, not >
	if detected {
		t.Errorf("avg_motion == motion_threshold should not count as a hit")
	}
}

func TestMotionMinHitsZeroTriggersImmediately(t *testing.T) {
	s := &State{}
	p := Params{MotionThreshold: 10, MotionMinHits: 0, MotionHoldSeconds: 5}
	now := time.Now()
	detected := s.Observe(11, now, p)
	if !detected {
		t.Errorf("motion_min_hits=0 should trigger motion on the first above-threshold sample")
	}
}

func TestMotionDecayAtLeastMinHitsNeverAccumulates(t *testing.T) {
	s := &State{}
	p := Params{MotionThreshold: 10, MotionMinHits: 5, MotionDecay: 5, MotionHoldSeconds: 5}
	now := time.Now()
	for i := 0; i < 20; i++ {
		if s.Observe(11, now, p) {
			t.Fatalf("motion_decay >= motion_min_hits must never accumulate to a hit (iteration %d)", i)
		}
		// alternate a below-threshold sample so decay actually applies
		s.Observe(0, now, p)
	}
}

func TestMotionHoldWindow(t *testing.T) {
	s := &State{}
	p := Params{MotionThreshold: 10, MotionMinHits: 1, MotionHoldSeconds: 1}
	t0 := time.Now()
	if !s.Observe(11, t0, p) {
		t.Fatalf("expected motion detected immediately after the hit")
	}
	if !s.MotionDetected(t0.Add(900*time.Millisecond), p) {
		t.Errorf("expected motion still held at 900ms with a 1s hold window")
	}
	if s.MotionDetected(t0.Add(1100*time.Millisecond), p) {
		t.Errorf("expected motion to have lapsed at 1100ms with a 1s hold window")
	}
}
