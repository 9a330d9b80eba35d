package geom

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	detEpsilon = 1e-8
	// TMin rejects self-intersections at the ray origin.
	TMin = 1e-5
	// invClamp bounds 1/d for near-zero direction components so the slab
	// test never produces Inf*0.
	invClamp = 1e8
)

type Ray struct {
	Origin    mgl32.Vec3
	Direction mgl32.Vec3
}

func (r Ray) At(t float32) mgl32.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// Transform maps the ray by an affine matrix. The direction is not
// renormalized, so a hit parameter t is the same in both spaces.
func (r Ray) Transform(m mgl32.Mat4) Ray {
	return Ray{
		Origin:    m.Mul4x1(r.Origin.Vec4(1)).Vec3(),
		Direction: m.Mul4x1(r.Direction.Vec4(0)).Vec3(),
	}
}

// InvDirection returns the clamped reciprocal used by IntersectAABB.
func (r Ray) InvDirection() mgl32.Vec3 {
	return mgl32.Vec3{safeInv(r.Direction.X()), safeInv(r.Direction.Y()), safeInv(r.Direction.Z())}
}

func safeInv(d float32) float32 {
	if math32.Abs(d) < 1/invClamp {
		if math32.Signbit(d) {
			return -invClamp
		}
		return invClamp
	}
	return 1 / d
}

// IntersectAABB is the slab test. It returns the entry distance clamped to 0
// and whether the box is hit before tMax.
func IntersectAABB(r Ray, invDir, bmin, bmax mgl32.Vec3, tMax float32) (float32, bool) {
	tNear := float32(0)
	tFar := tMax
	for axis := 0; axis < 3; axis++ {
		t1 := (bmin[axis] - r.Origin[axis]) * invDir[axis]
		t2 := (bmax[axis] - r.Origin[axis]) * invDir[axis]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tNear = math32.Max(tNear, t1)
		tFar = math32.Min(tFar, t2)
	}
	return tNear, tNear <= tFar
}

// IntersectTriangle is a two-sided Moller-Trumbore test.
func IntersectTriangle(r Ray, a, b, c mgl32.Vec3) (float32, bool) {
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	p := r.Direction.Cross(e2)
	det := e1.Dot(p)
	if math32.Abs(det) < detEpsilon {
		return 0, false
	}
	invDet := 1 / det
	s := r.Origin.Sub(a)
	u := s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := r.Direction.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := e2.Dot(q) * invDet
	if t <= TMin {
		return 0, false
	}
	return t, true
}

// IntersectQuad splits p0..p3 along the p0-p2 diagonal.
func IntersectQuad(r Ray, p0, p1, p2, p3 mgl32.Vec3) (float32, bool) {
	t, ok := IntersectTriangle(r, p0, p1, p2)
	if t2, ok2 := IntersectTriangle(r, p0, p2, p3); ok2 && (!ok || t2 < t) {
		return t2, true
	}
	return t, ok
}
