// Package kernel is the host implementation of the picking traversal. It
// consumes the same buffers, bindings and layouts as the WGSL kernels in
// package shaders and is what the software device runs on dispatch.
package kernel

import (
	"github.com/gekko3d/raypick/pickrt/rt/bvh"
	"github.com/gekko3d/raypick/pickrt/rt/geom"
	"github.com/gekko3d/raypick/pickrt/rt/layout"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// StackSize bounds the traversal stack, same as the WGSL kernels.
const StackSize = 64

// PointerRay builds the world-space pick ray from the camera through the
// pointer's far-plane point.
func PointerRay(u layout.Uniform) geom.Ray {
	far := u.InvViewProj.Mul4x1(mgl32.Vec4{u.PointerNDC.X(), u.PointerNDC.Y(), 1, 1})
	if far.W() != 0 {
		far = far.Mul(1 / far.W())
	}
	dir := far.Vec3().Sub(u.CameraPos)
	if l := dir.Len(); l > 0 {
		dir = dir.Mul(1 / l)
	}
	return geom.Ray{Origin: u.CameraPos, Direction: dir}
}

// Mesh tests the pointer ray against one BVH in the space given by the
// uniform's inverse model matrix. out is written only on a hit.
func Mesh(nodes, tris, positions, uniform, out []byte) {
	u := layout.DecodeUniform(uniform)
	world := PointerRay(u)
	m := newMeshView(nodes, tris, positions)

	t, prim, ok := m.intersect(world.Transform(u.InvModel), math32.Inf(1))
	if !ok {
		return
	}
	writeHit(out, world, t, prim)
}

// Instanced tests every live slot with that slot's inverse model matrix and
// reports the external id of the closest slot.
func Instanced(nodes, tris, positions, uniform, out, instances, ids []byte) {
	u := layout.DecodeUniform(uniform)
	world := PointerRay(u)
	m := newMeshView(nodes, tris, positions)

	count := int(u.Count)
	count = min(count, len(instances)/layout.InstanceStride, len(ids)/layout.IDStride)

	best := math32.Inf(1)
	bestID := uint32(0)
	found := false
	for s := 0; s < count; s++ {
		inv := layout.DecodeInstanceXform(instances[s*layout.InstanceStride:]).InvModel
		if t, _, ok := m.intersect(world.Transform(inv), best); ok && t < best {
			best = t
			bestID = uint32(layout.DecodeID(ids[s*layout.IDStride:]))
			found = true
		}
	}
	if found {
		writeHit(out, world, best, bestID)
	}
}

// Glyph tests quads directly and reports the letter index of the closest one.
func Glyph(uniform, spans, out []byte) {
	u := layout.DecodeUniform(uniform)
	world := PointerRay(u)
	r := world.Transform(u.InvModel)

	count := min(int(u.Count), len(spans)/layout.GlyphSpanStride)
	best := math32.Inf(1)
	letter := uint32(0)
	found := false
	for i := 0; i < count; i++ {
		s := layout.DecodeGlyphSpan(spans[i*layout.GlyphSpanStride:])
		t, ok := geom.IntersectQuad(r, s.P0.Vec3(), s.P1.Vec3(), s.P2.Vec3(), s.P3.Vec3())
		if ok && t < best {
			best = t
			letter = s.LetterIndex
			found = true
		}
	}
	if found {
		writeHit(out, world, best, letter)
	}
}

func writeHit(out []byte, world geom.Ray, t float32, prim uint32) {
	if len(out) < layout.HitSize {
		return
	}
	pos := world.At(t)
	layout.Hit{
		Hit:       1,
		PrimID:    prim,
		T:         t,
		RayLength: pos.Sub(world.Origin).Len(),
		HitPos:    pos.Vec4(1),
	}.PutBytes(out)
}

type meshView struct {
	nodes, tris, positions []byte
	nodeCount              uint32
	triCount               uint32
	posCount               uint32
}

func newMeshView(nodes, tris, positions []byte) meshView {
	return meshView{
		nodes:     nodes,
		tris:      tris,
		positions: positions,
		nodeCount: uint32(len(nodes) / bvh.NodeStride),
		triCount:  uint32(len(tris) / bvh.TriStride),
		posCount:  uint32(len(positions) / layout.PositionStride),
	}
}

func (m meshView) node(i uint32) bvh.GPUNode {
	return bvh.DecodeNode(m.nodes[i*bvh.NodeStride:])
}

func (m meshView) vertex(i uint32) mgl32.Vec3 {
	return layout.DecodePosition(m.positions[i*layout.PositionStride:])
}

// intersect returns the closest triangle hit before tMax and its slot in the
// triangle buffer. Out-of-range references are skipped, as on the device.
func (m meshView) intersect(r geom.Ray, tMax float32) (float32, uint32, bool) {
	if m.nodeCount == 0 {
		return 0, 0, false
	}
	invDir := r.InvDirection()
	best := tMax
	prim := uint32(0)
	found := false

	var stack [StackSize]uint32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		idx := stack[sp]
		if idx >= m.nodeCount {
			continue
		}
		n := m.node(idx)
		if _, ok := geom.IntersectAABB(r, invDir, n.BMin, n.BMax, best); !ok {
			continue
		}
		if !n.IsLeaf() {
			if sp+2 > StackSize {
				continue
			}
			stack[sp] = n.Right()
			stack[sp+1] = n.Left()
			sp += 2
			continue
		}
		end := min(n.First()+n.Count(), m.triCount)
		for k := n.First(); k < end; k++ {
			tri := bvh.DecodeTri(m.tris[k*bvh.TriStride:])
			if tri.I0 >= m.posCount || tri.I1 >= m.posCount || tri.I2 >= m.posCount {
				continue
			}
			if t, ok := geom.IntersectTriangle(r, m.vertex(tri.I0), m.vertex(tri.I1), m.vertex(tri.I2)); ok && t < best {
				best = t
				prim = k
				found = true
			}
		}
	}
	return best, prim, found
}
