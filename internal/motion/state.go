// Package motion implements the Motion Analyser (C3): optical-flow-based
// motion estimation, a rotated-region feature filter, and the hit/decay/
// hold state machine that drives the Segment Recorder (C2) and, via it,
// the Clip Exporter (C4).
//
// This file holds the pure, gocv-free pieces (region filtering, average
// motion, and the hit/decay/hold state machine) so the quantified
// invariants are independently unit-testable without a real optical-flow
// backend. analyser.go wires these into the gocv-backed frame pipeline.
package motion

import (
	"time"

	"github.com/ciptacoding/nvr-core/internal/geom"
)

// Feature is one tracked optical-flow feature: its previous and current
// location and the displacement between them.
type Feature struct {
	Prev         geom.Point
	Curr         geom.Point
	Displacement float64
}

// FilterByRegions keeps only features whose previous location lies inside
// at least one region. An empty region set means "analyse entire frame":
// all features are kept.
func FilterByRegions(features []Feature, regions []geom.Region) []Feature {
	if len(regions) == 0 {
		return features
	}
	var kept []Feature
	for _, f := range features {
		if geom.AnyContains(regions, f.Prev) {
			kept = append(kept, f)
		}
	}
	return kept
}

// AverageMotion discards samples at or below noiseThreshold and returns the
// mean displacement of the rest; zero if nothing survives the filter.
func AverageMotion(features []Feature, noiseThreshold float64) float64 {
	var sum float64
	var count int
	for _, f := range features {
		if f.Displacement <= noiseThreshold {
			continue
		}
		sum += f.Displacement
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Params are the per-camera motion parameters from the camera definition.
type Params struct {
	NoiseThreshold    float64
	MotionThreshold   float64
	MotionMinHits     int
	MotionDecay       int
	MotionHoldSeconds float64
}

// State is the per-camera motion state machine: a hits counter and the
// last time motion crossed the hit threshold.
type State struct {
	hits           int
	lastMotionTime time.Time
	haveHit        bool
}

// Observe feeds one tick's average motion value through the state machine
// and returns whether motion is currently "active" (within the hold
// window).
func (s *State) Observe(avgMotion float64, now time.Time, p Params) bool {
	if avgMotion > p.MotionThreshold {
		s.hits++
		if s.hits >= p.MotionMinHits {
			s.lastMotionTime = now
			s.haveHit = true
		}
	} else {
		s.hits -= p.MotionDecay
		if s.hits < 0 {
			s.hits = 0
		}
	}
	return s.MotionDetected(now, p)
}

// MotionDetected reports the hold-window predicate without advancing the
// state machine:
// motion_detected(c) = (now - last_motion_time(c) <= motion_hold_seconds(c)).
func (s *State) MotionDetected(now time.Time, p Params) bool {
	if !s.haveHit {
		return false
	}
	hold := time.Duration(p.MotionHoldSeconds * float64(time.Second))
	return now.Sub(s.lastMotionTime) <= hold
}
