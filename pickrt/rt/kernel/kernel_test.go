package kernel

import (
	"bytes"
	"testing"

	"github.com/gekko3d/raypick/pickrt/rt/bvh"
	"github.com/gekko3d/raypick/pickrt/rt/core"
	"github.com/gekko3d/raypick/pickrt/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cubeScene struct {
	lin              *bvh.Linear
	nodes, tris, pos []byte
}

func newCubeScene(t *testing.T) cubeScene {
	t.Helper()
	cube := core.UnitCube()
	lin, err := bvh.Build(cube.Positions, cube.Indices)
	require.NoError(t, err)
	return cubeScene{
		lin:   lin,
		nodes: lin.NodeBytes(),
		tris:  lin.TriBytes(),
		pos:   layout.PositionBytes(cube.Positions),
	}
}

func uniformBytes(eye, target mgl32.Vec3, ndc mgl32.Vec2, invModel mgl32.Mat4, count int32) []byte {
	view := mgl32.LookAtV(eye, target, mgl32.Vec3{0, 1, 0})
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1, 0.1, 100)
	buf := make([]byte, layout.UniformSize)
	layout.Uniform{
		InvViewProj: proj.Mul4(view).Inv(),
		InvModel:    invModel,
		PointerNDC:  ndc,
		CameraPos:   eye,
		Count:       count,
	}.PutBytes(buf)
	return buf
}

func TestPointerRayThroughCenter(t *testing.T) {
	u := layout.DecodeUniform(uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, mgl32.Ident4(), 1))
	r := PointerRay(u)
	assert.Equal(t, mgl32.Vec3{0, 0, 5}, r.Origin)
	assert.True(t, r.Direction.ApproxEqualThreshold(mgl32.Vec3{0, 0, -1}, 1e-5), "dir %v", r.Direction)
	assert.InDelta(t, 1, r.Direction.Len(), 1e-5)
}

func TestMeshHitsFrontFace(t *testing.T) {
	s := newCubeScene(t)
	out := make([]byte, layout.HitSize)
	Mesh(s.nodes, s.tris, s.pos, uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, mgl32.Ident4(), 1), out)

	h := layout.DecodeHit(out)
	require.Equal(t, uint32(1), h.Hit)
	assert.InDelta(t, 4.5, h.T, 1e-4)
	assert.InDelta(t, 4.5, h.RayLength, 1e-4)
	assert.InDelta(t, 0.5, h.HitPos.Z(), 1e-4)
	assert.Equal(t, float32(1), h.HitPos.W())

	require.Less(t, int(h.PrimID), len(s.lin.Order))
	assert.Equal(t, core.CubeFacePosZ, core.CubeFace(int(s.lin.Order[h.PrimID])))
}

func TestMeshUsesInverseModel(t *testing.T) {
	s := newCubeScene(t)
	model := mgl32.Translate3D(0, 0, -2).Mul4(mgl32.Scale3D(2, 2, 2))
	out := make([]byte, layout.HitSize)
	Mesh(s.nodes, s.tris, s.pos, uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, model.Inv(), 1), out)

	h := layout.DecodeHit(out)
	require.Equal(t, uint32(1), h.Hit)
	// front face at z = -2 + 1
	assert.InDelta(t, 6, h.T, 1e-4)
	assert.InDelta(t, -1, h.HitPos.Z(), 1e-4)
}

func TestMeshMissLeavesOutputUntouched(t *testing.T) {
	s := newCubeScene(t)
	out := bytes.Repeat([]byte{0xAB}, layout.HitSize)
	Mesh(s.nodes, s.tris, s.pos, uniformBytes(mgl32.Vec3{10, 0, 5}, mgl32.Vec3{10, 0, 0}, mgl32.Vec2{}, mgl32.Ident4(), 1), out)
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, layout.HitSize), out)
}

func TestMeshSkipsBadReferences(t *testing.T) {
	s := newCubeScene(t)
	// drop the position buffer: every triangle references a missing vertex
	out := make([]byte, layout.HitSize)
	Mesh(s.nodes, s.tris, nil, uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, mgl32.Ident4(), 1), out)
	assert.Equal(t, uint32(0), layout.DecodeHit(out).Hit)

	Mesh(nil, s.tris, s.pos, uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, mgl32.Ident4(), 1), out)
	assert.Equal(t, uint32(0), layout.DecodeHit(out).Hit)
}

func instanceBytes(models []mgl32.Mat4, ids []int32) ([]byte, []byte) {
	inst := make([]byte, len(models)*layout.InstanceStride)
	for i, m := range models {
		layout.NewInstanceXform(m).PutBytes(inst[i*layout.InstanceStride:])
	}
	idBuf := make([]byte, len(ids)*layout.IDStride)
	for i, id := range ids {
		layout.PutID(idBuf[i*layout.IDStride:], id)
	}
	return inst, idBuf
}

func TestInstancedReportsExternalID(t *testing.T) {
	s := newCubeScene(t)
	inst, ids := instanceBytes([]mgl32.Mat4{
		mgl32.Translate3D(-3, 0, 0),
		mgl32.Translate3D(0, 0, 0),
		mgl32.Translate3D(3, 0, 0),
	}, []int32{7, 3, 9})

	eye := mgl32.Vec3{3, 0, 5}
	out := make([]byte, layout.HitSize)
	Instanced(s.nodes, s.tris, s.pos, uniformBytes(eye, mgl32.Vec3{3, 0, 0}, mgl32.Vec2{}, mgl32.Ident4(), 3), out, inst, ids)
	h := layout.DecodeHit(out)
	require.Equal(t, uint32(1), h.Hit)
	assert.Equal(t, uint32(9), h.PrimID)
	assert.InDelta(t, 4.5, h.T, 1e-4)

	// count excludes the third slot
	out = make([]byte, layout.HitSize)
	Instanced(s.nodes, s.tris, s.pos, uniformBytes(eye, mgl32.Vec3{3, 0, 0}, mgl32.Vec2{}, mgl32.Ident4(), 2), out, inst, ids)
	assert.Equal(t, uint32(0), layout.DecodeHit(out).Hit)

	// count larger than the buffers is clamped
	out = make([]byte, layout.HitSize)
	Instanced(s.nodes, s.tris, s.pos, uniformBytes(eye, mgl32.Vec3{3, 0, 0}, mgl32.Vec2{}, mgl32.Ident4(), 50), out, inst, ids)
	assert.Equal(t, uint32(9), layout.DecodeHit(out).PrimID)
}

func TestInstancedClosestWins(t *testing.T) {
	s := newCubeScene(t)
	// two cubes on the view axis; the scaled one is nearer
	inst, ids := instanceBytes([]mgl32.Mat4{
		mgl32.Translate3D(0, 0, -3),
		mgl32.Scale3D(2, 2, 2),
	}, []int32{1, 2})

	out := make([]byte, layout.HitSize)
	Instanced(s.nodes, s.tris, s.pos, uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, mgl32.Ident4(), 2), out, inst, ids)
	h := layout.DecodeHit(out)
	require.Equal(t, uint32(1), h.Hit)
	assert.Equal(t, uint32(2), h.PrimID)
	assert.InDelta(t, 4, h.T, 1e-4, "t is measured along the world ray")
}

func spanBytes(spans ...layout.GlyphSpan) []byte {
	buf := make([]byte, len(spans)*layout.GlyphSpanStride)
	for i, s := range spans {
		s.PutBytes(buf[i*layout.GlyphSpanStride:])
	}
	return buf
}

func quad(x0, y0, x1, y1, z float32, letter uint32) layout.GlyphSpan {
	return layout.GlyphSpan{
		P0:          mgl32.Vec4{x0, y0, z, 1},
		P1:          mgl32.Vec4{x1, y0, z, 1},
		P2:          mgl32.Vec4{x1, y1, z, 1},
		P3:          mgl32.Vec4{x0, y1, z, 1},
		LetterIndex: letter,
	}
}

func TestGlyphReportsLetter(t *testing.T) {
	spans := spanBytes(
		quad(-1, -1, 1, 1, 0, 4),
		quad(-0.5, -0.5, 0.5, 0.5, 1, 2),
		quad(2, 2, 3, 3, 2, 8),
	)
	u := uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, mgl32.Ident4(), 3)

	out := make([]byte, layout.HitSize)
	Glyph(u, spans, out)
	h := layout.DecodeHit(out)
	require.Equal(t, uint32(1), h.Hit)
	assert.Equal(t, uint32(2), h.PrimID)
	assert.InDelta(t, 4, h.T, 1e-4)

	// only the first span is live
	out = make([]byte, layout.HitSize)
	Glyph(uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, mgl32.Ident4(), 1), spans, out)
	assert.Equal(t, uint32(4), layout.DecodeHit(out).PrimID)

	out = make([]byte, layout.HitSize)
	Glyph(uniformBytes(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec2{}, mgl32.Ident4(), 0), spans, out)
	assert.Equal(t, uint32(0), layout.DecodeHit(out).Hit)
}
