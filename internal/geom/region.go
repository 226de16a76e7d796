// Package geom implements rotated-rectangle point containment used by the
// motion analyser's region filter (Region below). A point belongs
// to a region iff, after rotating the frame by -angle about the region
// centre, it lies in the axis-aligned rect — equivalently, iff it lies
// inside the convex hull of the four rotated corners.
package geom

import "math"

// Rect is an axis-aligned rectangle in pixel coordinates, x/y is the
// top-left corner.
type Rect struct {
	X, Y, W, H float64
}

// Contains reports whether p lies inside the axis-aligned rect.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

func (r Rect) center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Point is a 2D pixel coordinate.
type Point struct {
	X, Y float64
}

// Region is an optionally-rotated rectangle in the motion-frame coordinate
// system, angle in degrees, rotation about the rect's own centre.
type Region struct {
	ID       uint32
	Rect     Rect
	AngleDeg float64
}

// Corners returns the four corners of the region after rotating Rect by
// AngleDeg about its centre, in order TL, TR, BR, BL.
func (r Region) Corners() [4]Point {
	c := r.Rect.center()
	hw, hh := r.Rect.W/2, r.Rect.H/2
	local := [4]Point{
		{X: -hw, Y: -hh},
		{X: hw, Y: -hh},
		{X: hw, Y: hh},
		{X: -hw, Y: hh},
	}
	rad := r.AngleDeg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	var out [4]Point
	for i, p := range local {
		out[i] = Point{
			X: c.X + p.X*cos - p.Y*sin,
			Y: c.Y + p.X*sin + p.Y*cos,
		}
	}
	return out
}

// Contains reports whether p is inside the region: for angle 0 this reduces
// to Rect.Contains; for angle != 0 it is a point-in-convex-polygon test
// against the four rotated corners.
func (r Region) Contains(p Point) bool {
	if r.AngleDeg == 0 {
		return r.Rect.Contains(p)
	}
	corners := r.Corners()
	return pointInConvexPolygon(p, corners[:])
}

// pointInConvexPolygon implements the standard point-polygon test used by
// the optical-flow region filter: the point is inside iff it lies on the
// same side of every edge (cross-product sign test), walking the polygon
// consistently in one winding direction.
func pointInConvexPolygon(p Point, poly []Point) bool {
	n := len(poly)
	var sign float64
	for i := 0; i < n; i++ {
		a := poly[i]
		b := poly[(i+1)%n]
		edge := Point{X: b.X - a.X, Y: b.Y - a.Y}
		toP := Point{X: p.X - a.X, Y: p.Y - a.Y}
		cross := edge.X*toP.Y - edge.Y*toP.X
		if cross == 0 {
			continue // on the edge: treat as inside
		}
		if sign == 0 {
			sign = math.Copysign(1, cross)
			continue
		}
		if math.Copysign(1, cross) != sign {
			return false
		}
	}
	return true
}

// AnyContains reports whether p is inside at least one of regions. An empty
// region set means "analyse entire frame", so callers should special-case
// len(regions) == 0 as always-true rather than calling this.
func AnyContains(regions []Region, p Point) bool {
	for _, r := range regions {
		if r.Contains(p) {
			return true
		}
	}
	return false
}
