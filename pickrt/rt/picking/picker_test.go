package picking

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gekko3d/raypick"
	"github.com/gekko3d/raypick/pickrt/rt/bvh"
	"github.com/gekko3d/raypick/pickrt/rt/core"
	"github.com/gekko3d/raypick/pickrt/rt/gpu"
	"github.com/gekko3d/raypick/pickrt/rt/gpu/soft"
	"github.com/gekko3d/raypick/pickrt/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func camera(eye, target mgl32.Vec3) (mgl32.Mat4, mgl32.Mat4) {
	view := mgl32.LookAtV(eye, target, mgl32.Vec3{0, 1, 0})
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1, 0.1, 100)
	return view, proj
}

// lookDown aims the center of the screen at (x, y, 0) from z = 5.
func lookDown(x, y float32) (mgl32.Mat4, mgl32.Mat4) {
	return camera(mgl32.Vec3{x, y, 5}, mgl32.Vec3{x, y, 0})
}

func pickFrame(t *testing.T, dev gpu.Device, p *Picker, index uint64, view, proj mgl32.Mat4) HitResult {
	t.Helper()
	require.NoError(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil))
	fc, err := gpu.BeginFrame(dev, index)
	require.NoError(t, err)
	require.NoError(t, p.RecordDispatch(fc))
	require.NoError(t, fc.Submit(dev))
	res, err := p.Readback(fc)
	require.NoError(t, err)
	return res
}

func newMeshPicker(t *testing.T, dev gpu.Device, mesh *core.Mesh) *Picker {
	t.Helper()
	p, err := New(dev, Options{Variant: Mesh})
	require.NoError(t, err)
	require.NoError(t, p.BuildBVH(mesh.Positions, mesh.Indices))
	require.NoError(t, p.Initialize())
	return p
}

func newInstancedPicker(t *testing.T, dev gpu.Device, maxInstances int) *Picker {
	t.Helper()
	cube := core.UnitCube()
	p, err := New(dev, Options{Variant: Instanced, MaxInstances: maxInstances})
	require.NoError(t, err)
	require.NoError(t, p.BuildBVH(cube.Positions, cube.Indices))
	require.NoError(t, p.Initialize())
	return p
}

func TestMeshPickUnitCube(t *testing.T) {
	dev := soft.New()
	p := newMeshPicker(t, dev, core.UnitCube())

	view, proj := lookDown(0, 0)
	res := pickFrame(t, dev, p, 1, view, proj)
	require.True(t, res.Hit)
	assert.InDelta(t, 4.5, res.T, 1e-4)
	assert.InDelta(t, 4.5, res.RayLength, 1e-4)
	assert.InDelta(t, 0.5, res.Position.Z(), 1e-4)

	src, ok := p.SourceTriangle(res.ID)
	require.True(t, ok)
	assert.Equal(t, core.CubeFacePosZ, core.CubeFace(src))
	assert.Equal(t, res, p.LastHit())
	assert.Equal(t, ReadbackConsumed, p.State())
	assert.Equal(t, uint64(1), dev.Dispatches())

	_, ok = p.SourceTriangle(1000)
	assert.False(t, ok)
}

func TestMeshMissAndHitCleared(t *testing.T) {
	dev := soft.New()
	p := newMeshPicker(t, dev, core.UnitCube())

	view, proj := lookDown(10, 0)
	assert.False(t, pickFrame(t, dev, p, 1, view, proj).Hit)

	view, proj = lookDown(0, 0)
	assert.True(t, pickFrame(t, dev, p, 2, view, proj).Hit)

	// the kernel only writes on a hit, so a stale record would show here
	view, proj = lookDown(10, 0)
	res := pickFrame(t, dev, p, 3, view, proj)
	assert.False(t, res.Hit)
	assert.False(t, p.LastHit().Hit)
}

func TestMeshModelAndCameraOverride(t *testing.T) {
	dev := soft.New()
	p := newMeshPicker(t, dev, core.UnitCube())
	require.NoError(t, p.SetModel(mgl32.Translate3D(0, 0, -2)))

	view, proj := lookDown(0, 0)
	res := pickFrame(t, dev, p, 1, view, proj)
	require.True(t, res.Hit)
	assert.InDelta(t, 6.5, res.T, 1e-4)

	// override moves the ray origin but keeps the far-plane point
	eye := mgl32.Vec3{0, 0, 3}
	require.NoError(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, &eye))
	fc, err := gpu.BeginFrame(dev, 2)
	require.NoError(t, err)
	require.NoError(t, p.RecordDispatch(fc))
	require.NoError(t, fc.Submit(dev))
	res, err = p.Readback(fc)
	require.NoError(t, err)
	require.True(t, res.Hit)
	assert.InDelta(t, 4.5, res.T, 1e-4)
}

func TestInstancedIDStability(t *testing.T) {
	dev := soft.New()
	p := newInstancedPicker(t, dev, 8)

	set := NewInstanceSet(8)
	for _, inst := range []struct {
		id int32
		x  float32
	}{{7, -3}, {3, 0}, {9, 3}} {
		require.NoError(t, set.Upsert(inst.id, mgl32.Translate3D(inst.x, 0, 0)))
	}
	uploaded, err := set.Sync(p)
	require.NoError(t, err)
	assert.True(t, uploaded)

	view, proj := lookDown(3, 0)
	res := pickFrame(t, dev, p, 1, view, proj)
	require.True(t, res.Hit)
	assert.Equal(t, uint32(9), res.ID)

	require.True(t, set.Erase(3))
	assert.Equal(t, []int32{7, 9}, set.IDs())
	_, err = set.Sync(p)
	require.NoError(t, err)
	assert.Equal(t, 2, p.LiveInstances())

	res = pickFrame(t, dev, p, 2, view, proj)
	require.True(t, res.Hit)
	assert.Equal(t, uint32(9), res.ID)

	view, proj = lookDown(0, 0)
	assert.False(t, pickFrame(t, dev, p, 3, view, proj).Hit)
}

func TestUploadInstancesClamps(t *testing.T) {
	dev := soft.New()
	p := newInstancedPicker(t, dev, 2)
	models := []mgl32.Mat4{
		mgl32.Translate3D(-3, 0, 0),
		mgl32.Translate3D(0, 0, 0),
		mgl32.Translate3D(3, 0, 0),
	}

	n, err := p.UploadInstances(models, []int32{7, 3, 9})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, p.LiveInstances())

	view, proj := lookDown(3, 0)
	assert.False(t, pickFrame(t, dev, p, 1, view, proj).Hit)

	n, err = p.UploadInstances(models, []int32{7})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	view, proj = lookDown(0, 0)
	assert.False(t, pickFrame(t, dev, p, 2, view, proj).Hit)
	view, proj = lookDown(-3, 0)
	assert.Equal(t, uint32(7), pickFrame(t, dev, p, 3, view, proj).ID)
}

func TestZeroInstancesSkipsDispatch(t *testing.T) {
	dev := soft.New()
	p := newInstancedPicker(t, dev, 4)

	view, proj := lookDown(0, 0)
	res := pickFrame(t, dev, p, 1, view, proj)
	assert.False(t, res.Hit)
	assert.Equal(t, uint64(0), dev.Dispatches())
	assert.Equal(t, ReadbackConsumed, p.State())
}

func TestResizePreservesLiveInstances(t *testing.T) {
	dev := soft.New()
	p := newInstancedPicker(t, dev, 4)
	_, err := p.UploadInstances([]mgl32.Mat4{
		mgl32.Translate3D(-3, 0, 0),
		mgl32.Translate3D(0, 0, 0),
		mgl32.Translate3D(3, 0, 0),
	}, []int32{7, 3, 9})
	require.NoError(t, err)

	require.NoError(t, p.Resize(2))
	assert.Equal(t, 2, p.MaxInstances())
	assert.Equal(t, 2, p.LiveInstances())

	view, proj := lookDown(3, 0)
	assert.False(t, pickFrame(t, dev, p, 1, view, proj).Hit)
	view, proj = lookDown(0, 0)
	assert.Equal(t, uint32(3), pickFrame(t, dev, p, 2, view, proj).ID)

	require.NoError(t, p.Resize(0))
	assert.Equal(t, 1, p.MaxInstances())
	live := dev.LiveBuffers()
	require.NoError(t, p.Resize(1))
	assert.Equal(t, live, dev.LiveBuffers(), "same capacity is a no-op")

	view, proj = lookDown(-3, 0)
	assert.Equal(t, uint32(7), pickFrame(t, dev, p, 3, view, proj).ID)
}

func TestProtocolOrdering(t *testing.T) {
	dev := soft.New()
	cube := core.UnitCube()
	p, err := New(dev, Options{Variant: Instanced, MaxInstances: 2})
	require.NoError(t, err)
	view, proj := lookDown(0, 0)
	fc, err := gpu.BeginFrame(dev, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil), raypick.ErrUninitialized)
	assert.ErrorIs(t, p.RecordDispatch(fc), raypick.ErrUninitialized)
	_, err = p.Readback(fc)
	assert.ErrorIs(t, err, raypick.ErrUninitialized)
	_, err = p.UploadInstances(nil, nil)
	assert.ErrorIs(t, err, raypick.ErrUninitialized)

	require.NoError(t, p.BuildBVH(cube.Positions, cube.Indices))
	require.NoError(t, p.Initialize())
	require.NoError(t, p.Initialize())
	_, err = p.UploadInstances([]mgl32.Mat4{mgl32.Ident4()}, []int32{5})
	require.NoError(t, err)

	err = p.RecordDispatch(fc)
	assert.ErrorIs(t, err, raypick.ErrOutOfOrder)
	assert.True(t, raypick.IsFatal(err))
	_, err = p.Readback(fc)
	assert.ErrorIs(t, err, raypick.ErrOutOfOrder)

	require.NoError(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil))
	require.NoError(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil), "last update wins")
	require.NoError(t, p.RecordDispatch(fc))
	assert.Equal(t, BarrierInserted, p.State())

	assert.ErrorIs(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil), raypick.ErrOutOfOrder)
	assert.ErrorIs(t, p.RecordDispatch(fc), raypick.ErrOutOfOrder)
	assert.ErrorIs(t, p.Resize(8), raypick.ErrInFlight)
	_, err = p.UploadInstances(nil, nil)
	assert.ErrorIs(t, err, raypick.ErrInFlight)

	require.NoError(t, fc.Submit(dev))
	other := &gpu.FrameContext{Index: 2, Fence: fc.Fence}
	_, err = p.Readback(other)
	assert.ErrorIs(t, err, raypick.ErrOutOfOrder)

	res, err := p.Readback(fc)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), res.ID)
	_, err = p.Readback(fc)
	assert.ErrorIs(t, err, raypick.ErrOutOfOrder, "a result is consumed once")
}

func TestReadbackWaitsForFence(t *testing.T) {
	dev := soft.New()
	dev.DeferCompletion = true
	p := newMeshPicker(t, dev, core.UnitCube())

	view, proj := lookDown(0, 0)
	require.NoError(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil))
	fc, err := gpu.BeginFrame(dev, 1)
	require.NoError(t, err)
	require.NoError(t, p.RecordDispatch(fc))
	require.NoError(t, fc.Submit(dev))

	_, err = p.Readback(fc)
	require.ErrorIs(t, err, raypick.ErrFenceNotSignaled)
	assert.Equal(t, BarrierInserted, p.State())

	require.NoError(t, fc.Fence.Wait())
	res, err := p.Readback(fc)
	require.NoError(t, err)
	assert.True(t, res.Hit)
}

func TestCancelFrame(t *testing.T) {
	dev := soft.New()
	p := newMeshPicker(t, dev, core.UnitCube())
	view, proj := lookDown(0, 0)
	require.NoError(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil))
	fc, _ := gpu.BeginFrame(dev, 1)
	require.NoError(t, p.RecordDispatch(fc))

	p.CancelFrame()
	assert.Equal(t, Idle, p.State())
	assert.True(t, pickFrame(t, dev, p, 2, view, proj).Hit)
}

func TestStateReturnsToIdle(t *testing.T) {
	dev := soft.New()
	p := newMeshPicker(t, dev, core.UnitCube())
	view, proj := lookDown(0, 0)

	assert.True(t, p.State().Idle())
	pickFrame(t, dev, p, 1, view, proj)
	assert.Equal(t, ReadbackConsumed, p.State())
	assert.True(t, p.State().Idle())

	require.NoError(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil))
	assert.Equal(t, UniformWritten, p.State())
	assert.False(t, p.State().Idle())

	p.CancelFrame()
	assert.Equal(t, Idle, p.State())
	pickFrame(t, dev, p, 2, view, proj)
	p.CancelFrame()
	assert.Equal(t, Idle, p.State(), "cancel closes a consumed frame")
	assert.True(t, pickFrame(t, dev, p, 3, view, proj).Hit)
}

func TestMalformedIndicesAreFatal(t *testing.T) {
	dev := soft.New()
	p, err := New(dev, Options{Variant: Mesh})
	require.NoError(t, err)
	cube := core.UnitCube()

	for _, indices := range [][]uint32{{0}, {0, 1}, {0, 1, 2, 3}} {
		err := p.BuildBVH(cube.Positions, indices)
		require.ErrorIs(t, err, bvh.ErrBadIndices, "indices %v", indices)
		assert.NotErrorIs(t, err, raypick.ErrEmptyGeometry)
		assert.True(t, raypick.IsFatal(err))
	}

	err = p.BuildBVH(nil, []uint32{0, 1, 2})
	assert.ErrorIs(t, err, bvh.ErrBadIndices, "indices without positions")

	err = p.BuildBVH(cube.Positions, nil)
	assert.ErrorIs(t, err, raypick.ErrEmptyGeometry)
	assert.False(t, raypick.IsFatal(err))
}

func TestEmptyGeometryIsSoft(t *testing.T) {
	var out, errOut bytes.Buffer
	dev := soft.New()
	p, err := New(dev, Options{Variant: Mesh, Logger: raypick.NewWriterLogger("test", false, &out, &errOut)})
	require.NoError(t, err)

	err = p.BuildBVH(nil, nil)
	require.ErrorIs(t, err, raypick.ErrEmptyGeometry)
	assert.False(t, raypick.IsFatal(err))
	assert.Contains(t, errOut.String(), "WARN")

	require.NoError(t, p.Initialize())
	view, proj := lookDown(0, 0)
	assert.False(t, pickFrame(t, dev, p, 1, view, proj).Hit)
	assert.Equal(t, uint64(0), dev.Dispatches())
}

func TestRebuildAfterInitialize(t *testing.T) {
	dev := soft.New()
	p := newMeshPicker(t, dev, core.UnitCube())

	sphere := core.UVSphere(8, 16, 1)
	err := p.BuildBVH(sphere.Positions, sphere.Indices)
	require.ErrorIs(t, err, raypick.ErrCapacity)
	assert.True(t, raypick.IsFatal(err))

	big, err := New(dev, Options{
		Variant:          Mesh,
		NodeCapacity:     1024,
		TriangleCapacity: 1024,
		VertexCapacity:   1024,
	})
	require.NoError(t, err)
	require.NoError(t, big.Initialize())
	require.NoError(t, big.BuildBVH(sphere.Positions, sphere.Indices))

	// off the pole so the ray does not graze shared vertices
	view, proj := lookDown(0.1, 0.05)
	res := pickFrame(t, dev, big, 1, view, proj)
	require.True(t, res.Hit)
	assert.InDelta(t, 4, res.T, 0.05)
}

func TestWrongVariant(t *testing.T) {
	dev := soft.New()
	mesh, _ := New(dev, Options{Variant: Mesh})
	inst, _ := New(dev, Options{Variant: Instanced})
	glyph, _ := New(dev, Options{Variant: Glyph})

	assert.ErrorIs(t, glyph.BuildBVH(nil, nil), raypick.ErrWrongVariant)
	_, err := mesh.UploadInstances(nil, nil)
	assert.ErrorIs(t, err, raypick.ErrWrongVariant)
	assert.ErrorIs(t, inst.SetModel(mgl32.Ident4()), raypick.ErrWrongVariant)
	_, err = mesh.UploadSpans(nil)
	assert.ErrorIs(t, err, raypick.ErrWrongVariant)
	_, err = inst.SetGlyphCount(1)
	assert.ErrorIs(t, err, raypick.ErrWrongVariant)
	assert.ErrorIs(t, glyph.Resize(4), raypick.ErrWrongVariant)

	_, err = New(dev, Options{Variant: Variant(9)})
	assert.ErrorIs(t, err, raypick.ErrWrongVariant)
}

func TestGlyphPick(t *testing.T) {
	dev := soft.New()
	p, err := New(dev, Options{Variant: Glyph, MaxGlyphs: 4})
	require.NoError(t, err)
	require.NoError(t, p.Initialize())

	spans := core.NewTextLayout(nil).Spans("AB", mgl32.Vec3{}, 0.1)
	require.Len(t, spans, 2)
	n, err := p.UploadSpans(spans)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b := spans[1]
	center := b.P0.Add(b.P2).Mul(0.5)
	view, proj := lookDown(center.X(), center.Y())
	res := pickFrame(t, dev, p, 1, view, proj)
	require.True(t, res.Hit)
	assert.Equal(t, b.LetterIndex, res.ID)
	assert.InDelta(t, 5, res.T, 1e-4)

	n, err = p.SetGlyphCount(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, pickFrame(t, dev, p, 2, view, proj).Hit)

	n, _ = p.SetGlyphCount(100)
	assert.Equal(t, 4, n)
	n, _ = p.SetGlyphCount(-1)
	assert.Equal(t, 0, n)
}

func TestGlyphUploadClampsToMaxGlyphs(t *testing.T) {
	dev := soft.New()
	p, err := New(dev, Options{Variant: Glyph, MaxGlyphs: 4})
	require.NoError(t, err)
	require.NoError(t, p.Initialize())

	spans := core.NewTextLayout(nil).Spans("ABCDEF", mgl32.Vec3{}, 0.1)
	require.Len(t, spans, 6)
	n, err := p.UploadSpans(spans)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, p.GlyphCount())

	aim := func(s layout.GlyphSpan) (mgl32.Mat4, mgl32.Mat4) {
		c := s.P0.Add(s.P2).Mul(0.5)
		return lookDown(c.X(), c.Y())
	}
	view, proj := aim(spans[3])
	res := pickFrame(t, dev, p, 1, view, proj)
	require.True(t, res.Hit)
	assert.Equal(t, spans[3].LetterIndex, res.ID)

	view, proj = aim(spans[5])
	assert.False(t, pickFrame(t, dev, p, 2, view, proj).Hit, "dropped glyphs are not tested")
}

func TestReleaseFreesDeviceMemory(t *testing.T) {
	dev := soft.New()
	p := newInstancedPicker(t, dev, 4)
	assert.Greater(t, dev.LiveBuffers(), 0)

	p.Release()
	assert.Equal(t, 0, dev.LiveBuffers())
	assert.False(t, p.Initialized())
	view, proj := lookDown(0, 0)
	assert.ErrorIs(t, p.UpdateUniform(view, proj, mgl32.Vec2{}, nil), raypick.ErrUninitialized)

	require.NoError(t, p.Initialize())
	_, err := p.UploadInstances([]mgl32.Mat4{mgl32.Ident4()}, []int32{1})
	require.NoError(t, err)
	assert.True(t, pickFrame(t, dev, p, 1, view, proj).Hit)
}

func TestPickersUseDistinctLabels(t *testing.T) {
	dev := soft.New()
	a, _ := New(dev, Options{Variant: Mesh, Label: "scene"})
	b, _ := New(dev, Options{Variant: Mesh, Label: "scene"})
	assert.NotEqual(t, a.Label(), b.Label())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Contains(t, a.Label(), "scene-")
}

// flakyDevice fails host reads of readback buffers on demand.
type flakyDevice struct {
	*soft.Device
	failReads bool
}

type flakyBuffer struct {
	gpu.Buffer
	dev *flakyDevice
}

func (b *flakyBuffer) Read(offset uint64, dst []byte) error {
	if b.dev.failReads {
		return errors.New("device lost")
	}
	return b.Buffer.Read(offset, dst)
}

type flakyCommands struct {
	gpu.CommandList
}

func unwrap(b gpu.Buffer) gpu.Buffer {
	if fb, ok := b.(*flakyBuffer); ok {
		return fb.Buffer
	}
	return b
}

func (c *flakyCommands) BarrierToHost(buffers ...gpu.Buffer) error {
	inner := make([]gpu.Buffer, len(buffers))
	for i, b := range buffers {
		inner[i] = unwrap(b)
	}
	return c.CommandList.BarrierToHost(inner...)
}

func (d *flakyDevice) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	b, err := d.Device.CreateBuffer(desc)
	if err != nil {
		return nil, err
	}
	return &flakyBuffer{Buffer: b, dev: d}, nil
}

func (d *flakyDevice) CreateBindGroup(label string, p gpu.Pipeline, entries []gpu.BindGroupEntry) (gpu.BindGroup, error) {
	inner := make([]gpu.BindGroupEntry, len(entries))
	for i, e := range entries {
		inner[i] = gpu.BindGroupEntry{Binding: e.Binding, Buffer: unwrap(e.Buffer)}
	}
	return d.Device.CreateBindGroup(label, p, inner)
}

func (d *flakyDevice) BeginCommands(label string) (gpu.CommandList, error) {
	cl, err := d.Device.BeginCommands(label)
	if err != nil {
		return nil, err
	}
	return &flakyCommands{CommandList: cl}, nil
}

func (d *flakyDevice) Submit(cl gpu.CommandList) (gpu.Fence, error) {
	if fc, ok := cl.(*flakyCommands); ok {
		cl = fc.CommandList
	}
	return d.Device.Submit(cl)
}

func TestReadbackFailureIsLoggedMiss(t *testing.T) {
	var out, errOut bytes.Buffer
	dev := &flakyDevice{Device: soft.New()}
	cube := core.UnitCube()
	p, err := New(dev, Options{Variant: Mesh, Logger: raypick.NewWriterLogger("test", false, &out, &errOut)})
	require.NoError(t, err)
	require.NoError(t, p.BuildBVH(cube.Positions, cube.Indices))
	require.NoError(t, p.Initialize())

	view, proj := lookDown(0, 0)
	assert.True(t, pickFrame(t, dev, p, 1, view, proj).Hit)

	dev.failReads = true
	res := pickFrame(t, dev, p, 2, view, proj)
	assert.False(t, res.Hit)
	assert.Contains(t, errOut.String(), "readback failed")
	assert.Equal(t, ReadbackConsumed, p.State())
}
