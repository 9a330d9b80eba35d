package geom

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned box. The empty box has Min=+Inf and Max=-Inf so
// that merging it into anything is the identity.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func Empty() AABB {
	inf := math32.Inf(1)
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

func (b AABB) IsEmpty() bool {
	return b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() || b.Min.Z() > b.Max.Z()
}

func Merge(a, b AABB) AABB {
	return AABB{
		Min: mgl32.Vec3{
			math32.Min(a.Min.X(), b.Min.X()),
			math32.Min(a.Min.Y(), b.Min.Y()),
			math32.Min(a.Min.Z(), b.Min.Z()),
		},
		Max: mgl32.Vec3{
			math32.Max(a.Max.X(), b.Max.X()),
			math32.Max(a.Max.Y(), b.Max.Y()),
			math32.Max(a.Max.Z(), b.Max.Z()),
		},
	}
}

func TriangleBounds(a, b, c mgl32.Vec3) AABB {
	return AABB{
		Min: mgl32.Vec3{
			math32.Min(a.X(), math32.Min(b.X(), c.X())),
			math32.Min(a.Y(), math32.Min(b.Y(), c.Y())),
			math32.Min(a.Z(), math32.Min(b.Z(), c.Z())),
		},
		Max: mgl32.Vec3{
			math32.Max(a.X(), math32.Max(b.X(), c.X())),
			math32.Max(a.Y(), math32.Max(b.Y(), c.Y())),
			math32.Max(a.Z(), math32.Max(b.Z(), c.Z())),
		},
	}
}

func (b AABB) Expand(p mgl32.Vec3) AABB {
	return Merge(b, AABB{Min: p, Max: p})
}

func (b AABB) Extent() mgl32.Vec3 {
	if b.IsEmpty() {
		return mgl32.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

func (b AABB) Centroid() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// LargestAxis returns 0, 1 or 2. Ties favour the later axis unless x is
// strictly largest, matching the split rule the BVH relies on for determinism.
func (b AABB) LargestAxis() int {
	ext := b.Extent()
	if ext.X() > ext.Y() && ext.X() > ext.Z() {
		return 0
	}
	if ext.Y() > ext.Z() {
		return 1
	}
	return 2
}

// Contains reports whether o lies inside b. An empty o is contained by anything.
func (b AABB) Contains(o AABB) bool {
	if o.IsEmpty() {
		return true
	}
	return b.Min.X() <= o.Min.X() && b.Min.Y() <= o.Min.Y() && b.Min.Z() <= o.Min.Z() &&
		b.Max.X() >= o.Max.X() && b.Max.Y() >= o.Max.Y() && b.Max.Z() >= o.Max.Z()
}

func (b AABB) ContainsPoint(p mgl32.Vec3) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y() &&
		p.Z() >= b.Min.Z() && p.Z() <= b.Max.Z()
}
