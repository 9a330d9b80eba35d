package gpu_test

import (
	"testing"

	"github.com/gekko3d/raypick"
	"github.com/gekko3d/raypick/pickrt/rt/gpu"
	"github.com/gekko3d/raypick/pickrt/rt/gpu/soft"
	"github.com/gekko3d/raypick/pickrt/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignedSize(t *testing.T) {
	assert.Equal(t, uint64(64), gpu.AlignedSize(0, 64))
	assert.Equal(t, uint64(4), gpu.AlignedSize(1, 0))
	assert.Equal(t, uint64(132), gpu.AlignedSize(130, 16))
}

func TestMappedBufferFlushAndBounds(t *testing.T) {
	dev := soft.New()
	mb, err := gpu.NewMappedBuffer(dev, "ids", gpu.UsageStorage, 4, gpu.IDCodec)
	require.NoError(t, err)
	assert.Equal(t, 4, mb.Cap())

	require.NoError(t, mb.WriteSlice(1, []int32{5, 6}))
	assert.True(t, mb.Dirty())
	require.NoError(t, mb.Flush())
	assert.False(t, mb.Dirty())
	assert.Equal(t, int32(6), mb.Get(2))

	err = mb.WriteSlice(3, []int32{1, 2})
	require.ErrorIs(t, err, raypick.ErrCapacity)
	var ce *raypick.CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(20), ce.Needed)
	assert.Equal(t, uint64(16), ce.Capacity)
	assert.Equal(t, int32(0), mb.Get(3), "nothing written on overflow")

	assert.ErrorIs(t, mb.Set(-1, 0), raypick.ErrCapacity)

	mb.Release()
	mb.Release()
	assert.Equal(t, 0, dev.LiveBuffers())
}

func TestUploadStaticChecksCapacityFirst(t *testing.T) {
	dev := soft.New()
	m := gpu.NewBufferManager(dev, "mesh")
	require.NoError(t, m.AllocateStatic(64, 16, 32))

	nodes := make([]byte, 64)
	nodes[0] = 7
	err := m.UploadStatic(nodes, make([]byte, 16), make([]byte, 48))
	require.ErrorIs(t, err, raypick.ErrCapacity)
	var ce *raypick.CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "mesh.positions", ce.Buffer)

	require.NoError(t, m.UploadStatic(nodes, nil, nil), "empty spans are skipped")
	m.Release()
	assert.Equal(t, 0, dev.LiveBuffers())
}

func TestUploadBeforeAllocate(t *testing.T) {
	m := gpu.NewBufferManager(soft.New(), "")
	assert.ErrorIs(t, m.UploadStatic(nil, nil, nil), raypick.ErrUninitialized)
}

func TestResizeInstancesKeepsLiveEntries(t *testing.T) {
	dev := soft.New()
	m := gpu.NewBufferManager(dev, "inst")
	require.NoError(t, m.AllocateStatic(0, 0, 0))
	require.NoError(t, m.AllocateFrame())
	require.NoError(t, m.AllocateInstances(4))

	p, err := dev.CreatePipeline(gpu.PipelineDescriptor{Label: "inst", Kernel: gpu.KernelInstanced})
	require.NoError(t, err)
	require.NoError(t, m.CreateBindGroup(p))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Instances.Set(i, layout.NewInstanceXform(mgl32.Translate3D(float32(i), 0, 0))))
		require.NoError(t, m.IDs.Set(i, int32(10+i)))
	}
	before := dev.LiveBuffers()

	require.NoError(t, m.ResizeInstances(2, 3, p))
	assert.Equal(t, 2, m.Instances.Cap())
	assert.Equal(t, []int32{10, 11}, []int32{m.IDs.Get(0), m.IDs.Get(1)})
	assert.Equal(t, float32(1), m.Instances.Get(1).Model.Col(3).X())
	assert.Equal(t, before, dev.LiveBuffers(), "old buffers released")

	require.NoError(t, m.ResizeInstances(8, 2, nil))
	assert.Equal(t, 8, m.Instances.Cap())
	assert.Equal(t, int32(11), m.IDs.Get(1))
	assert.Equal(t, int32(0), m.IDs.Get(2))
}

func TestCreateBindGroupNeedsBuffers(t *testing.T) {
	dev := soft.New()
	m := gpu.NewBufferManager(dev, "g")
	p, err := dev.CreatePipeline(gpu.PipelineDescriptor{Kernel: gpu.KernelGlyph})
	require.NoError(t, err)
	assert.ErrorIs(t, m.CreateBindGroup(p), raypick.ErrUninitialized)

	require.NoError(t, m.AllocateFrame())
	require.NoError(t, m.AllocateSpans(2))
	require.NoError(t, m.CreateBindGroup(p))
	assert.NotNil(t, m.BindGroup)
}

func TestFrameContext(t *testing.T) {
	dev := soft.New()
	dev.DeferCompletion = true
	fc, err := gpu.BeginFrame(dev, 3)
	require.NoError(t, err)
	assert.False(t, fc.Done())
	require.NoError(t, fc.Submit(dev))
	assert.False(t, fc.Done())
	require.NoError(t, fc.Fence.Wait())
	assert.True(t, fc.Done())
	assert.Equal(t, uint64(3), fc.Index)
}
