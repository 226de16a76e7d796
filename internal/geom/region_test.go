package geom

import "testing"

func TestRegionContainsAxisAligned(t *testing.T) {
	r := Region{Rect: Rect{X: 0, Y: 0, W: 10, H: 10}, AngleDeg: 0}
	cases := []struct {
		name string
		p    Point
		want bool
	}{
		{"inside", Point{5, 5}, true},
		{"on edge", Point{10, 5}, true},
		{"outside", Point{50, 50}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Contains(tc.p); got != tc.want {
				t.Errorf("Contains(%v) = %v, want %v", tc.p, got, tc.want)
			}
		})
	}
}

func TestRegionContainsRotated(t *testing.T) {
	// A 10x4 rect centred at (5,2), rotated 90deg becomes roughly a 4x10
	// band centred at (5,2): x in [3,7], y in [-3,7].
	r := Region{Rect: Rect{X: 0, Y: 0, W: 10, H: 4}, AngleDeg: 90}
	if !r.Contains(Point{X: 3, Y: 5}) {
		t.Errorf("expected (3,5) inside rotated region")
	}
	if r.Contains(Point{X: 50, Y: 50}) {
		t.Errorf("expected (50,50) outside rotated region")
	}
}

func TestAnyContainsEmptyRegions(t *testing.T) {
	// Empty region set is handled by callers as "always true"; AnyContains
	// itself returns false for an empty slice, so callers must special-case
	// len(regions)==0 rather than rely on this function for that case.
	if AnyContains(nil, Point{1, 1}) {
		t.Errorf("AnyContains(nil, ...) should be false; callers special-case empty regions")
	}
}

func TestAnyContainsPicksMatchingRegion(t *testing.T) {
	regions := []Region{
		{Rect: Rect{X: 0, Y: 0, W: 10, H: 10}},
		{Rect: Rect{X: 100, Y: 100, W: 10, H: 10}},
	}
	if !AnyContains(regions, Point{5, 5}) {
		t.Errorf("expected point inside first region to match")
	}
	if AnyContains(regions, Point{50, 50}) {
		t.Errorf("expected point outside all regions to not match")
	}
}
