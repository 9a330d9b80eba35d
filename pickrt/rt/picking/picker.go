// Package picking resolves which object, instance or glyph lies under the
// pointer by dispatching a single-invocation ray kernel each frame and reading
// the result back after the frame fence.
package picking

import (
	"fmt"

	"github.com/gekko3d/raypick"
	"github.com/gekko3d/raypick/pickrt/rt/bvh"
	"github.com/gekko3d/raypick/pickrt/rt/gpu"
	"github.com/gekko3d/raypick/pickrt/rt/layout"
	"github.com/gekko3d/raypick/pickrt/rt/shaders"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type Options struct {
	Variant Variant
	// Label prefixes every device object of the picker. A unique suffix is
	// always appended.
	Label string

	MaxInstances int
	MaxGlyphs    int

	// Static buffer capacities in elements. Zero sizes the buffer from the
	// geometry passed to BuildBVH before Initialize.
	NodeCapacity     int
	TriangleCapacity int
	VertexCapacity   int

	// Shader replaces the built-in WGSL for the variant.
	Shader string
	Logger raypick.Logger
}

// OptionsFromConfig fills the capacities from the picker section of the config.
func OptionsFromConfig(v Variant, cfg raypick.PickerConfig, log raypick.Logger) Options {
	return Options{
		Variant:          v,
		MaxInstances:     cfg.MaxInstances,
		MaxGlyphs:        cfg.MaxGlyphs,
		NodeCapacity:     cfg.NodeCapacity,
		TriangleCapacity: cfg.TriangleCapacity,
		VertexCapacity:   cfg.VertexCapacity,
		Logger:           log,
	}
}

type Picker struct {
	id      uuid.UUID
	label   string
	variant Variant
	opts    Options
	log     raypick.Logger

	dev      gpu.Device
	buffers  *gpu.BufferManager
	pipeline gpu.Pipeline

	initialized bool
	state       State
	frame       uint64
	dispatched  bool

	lin       *bvh.Linear
	nodeBytes []byte
	triBytes  []byte
	posBytes  []byte

	invModel      mgl32.Mat4
	maxInstances  int
	liveInstances int
	maxGlyphs     int
	glyphCount    int

	lastHit HitResult
}

// New creates a picker. No device memory is allocated until Initialize.
func New(dev gpu.Device, opts Options) (*Picker, error) {
	switch opts.Variant {
	case Mesh, Instanced, Glyph:
	default:
		return nil, fmt.Errorf("picker variant %d: %w", opts.Variant, raypick.ErrWrongVariant)
	}
	id := uuid.New()
	prefix := opts.Label
	if prefix == "" {
		prefix = "pick-" + opts.Variant.String()
	}
	return &Picker{
		id:           id,
		label:        prefix + "-" + id.String()[:8],
		variant:      opts.Variant,
		opts:         opts,
		log:          raypick.OrNop(opts.Logger),
		dev:          dev,
		invModel:     mgl32.Ident4(),
		maxInstances: max(opts.MaxInstances, 1),
		maxGlyphs:    max(opts.MaxGlyphs, 1),
	}, nil
}

func (p *Picker) ID() uuid.UUID       { return p.id }
func (p *Picker) Label() string       { return p.label }
func (p *Picker) Variant() Variant    { return p.variant }
func (p *Picker) State() State        { return p.state }
func (p *Picker) LastHit() HitResult  { return p.lastHit }
func (p *Picker) Initialized() bool   { return p.initialized }
func (p *Picker) MaxInstances() int   { return p.maxInstances }
func (p *Picker) LiveInstances() int  { return p.liveInstances }
func (p *Picker) GlyphCount() int     { return p.glyphCount }
func (p *Picker) Linear() *bvh.Linear { return p.lin }

// BuildBVH builds and flattens the tree for a Mesh or Instanced picker. Before
// Initialize the result is kept and sizes the static buffers; afterwards it is
// uploaded at once. An empty index list is logged and returned as a non-fatal
// *raypick.EmptyGeometryError; the previous tree stays in place. Any other
// malformed list fails with bvh.ErrBadIndices.
func (p *Picker) BuildBVH(positions []mgl32.Vec3, indices []uint32) error {
	if p.variant == Glyph {
		return fmt.Errorf("build bvh on %s picker: %w", p.variant, raypick.ErrWrongVariant)
	}
	if len(indices) == 0 {
		err := &raypick.EmptyGeometryError{Source: p.label}
		p.log.Warnf("%v, skipping build", err)
		return err
	}
	if p.state.inFlight() {
		return fmt.Errorf("build bvh: %w", raypick.ErrInFlight)
	}

	lin, err := bvh.Build(positions, indices)
	if err != nil {
		return fmt.Errorf("build bvh %s: %w", p.label, err)
	}
	nodes, tris, pos := lin.NodeBytes(), lin.TriBytes(), layout.PositionBytes(positions)
	if p.initialized {
		if err := p.buffers.UploadStatic(nodes, tris, pos); err != nil {
			return err
		}
	}
	p.lin = lin
	p.nodeBytes, p.triBytes, p.posBytes = nodes, tris, pos

	if p.log.DebugEnabled() {
		s := lin.Stats()
		p.log.Debugf("%s: bvh %d nodes, %d leaves, depth %d, %d triangles", p.label, s.Nodes, s.Leaves, s.Depth, s.Triangles)
	}
	return nil
}

// SourceTriangle maps a Mesh hit id back to the triangle's index in the
// index list passed to BuildBVH.
func (p *Picker) SourceTriangle(primID uint32) (int, bool) {
	if p.lin == nil || int(primID) >= len(p.lin.Order) {
		return 0, false
	}
	return int(p.lin.Order[primID]), true
}

// Initialize creates the pipeline, buffers and bind group. Calling it again
// is a no-op.
func (p *Picker) Initialize() (err error) {
	if p.initialized {
		return nil
	}
	if p.dev == nil {
		return fmt.Errorf("initialize %s: no device: %w", p.label, raypick.ErrUninitialized)
	}

	p.buffers = gpu.NewBufferManager(p.dev, p.label)
	defer func() {
		if err != nil {
			p.releaseDevice()
		}
	}()

	src := p.opts.Shader
	if src == "" {
		src = defaultShader(p.variant)
	}
	p.pipeline, err = p.dev.CreatePipeline(gpu.PipelineDescriptor{
		Label:      p.label + ".pipeline",
		Kernel:     p.variant.kernel(),
		Source:     src,
		EntryPoint: shaders.EntryPoint,
	})
	if err != nil {
		return fmt.Errorf("initialize %s: %w", p.label, err)
	}

	if err = p.buffers.AllocateFrame(); err != nil {
		return err
	}
	switch p.variant {
	case Mesh, Instanced:
		nodes := max(p.opts.NodeCapacity, len(p.nodeBytes)/bvh.NodeStride)
		tris := max(p.opts.TriangleCapacity, len(p.triBytes)/bvh.TriStride)
		verts := max(p.opts.VertexCapacity, len(p.posBytes)/layout.PositionStride)
		err = p.buffers.AllocateStatic(
			uint64(nodes*bvh.NodeStride),
			uint64(tris*bvh.TriStride),
			uint64(verts*layout.PositionStride),
		)
		if err != nil {
			return err
		}
		if err = p.buffers.UploadStatic(p.nodeBytes, p.triBytes, p.posBytes); err != nil {
			return err
		}
		if p.variant == Instanced {
			if err = p.buffers.AllocateInstances(p.maxInstances); err != nil {
				return err
			}
		}
	case Glyph:
		if err = p.buffers.AllocateSpans(p.maxGlyphs); err != nil {
			return err
		}
	}
	if err = p.buffers.CreateBindGroup(p.pipeline); err != nil {
		return err
	}

	p.initialized = true
	p.state = Idle
	p.log.Infof("%s: initialized %s picker", p.label, p.variant)
	return nil
}

func defaultShader(v Variant) string {
	switch v {
	case Instanced:
		return shaders.PickingInstancedWGSL
	case Glyph:
		return shaders.PickingGlyphWGSL
	}
	return shaders.PickingMeshWGSL
}

// SetModel sets the object-to-world matrix of a Mesh or Glyph picker. It
// takes effect at the next UpdateUniform.
func (p *Picker) SetModel(model mgl32.Mat4) error {
	if p.variant == Instanced {
		return fmt.Errorf("set model on %s picker: %w", p.variant, raypick.ErrWrongVariant)
	}
	p.invModel = model.Inv()
	return nil
}

// count is the number of items the kernel iterates.
func (p *Picker) count() int32 {
	switch p.variant {
	case Instanced:
		return int32(p.liveInstances)
	case Glyph:
		return int32(p.glyphCount)
	}
	if p.lin == nil || len(p.lin.Tris) == 0 {
		return 0
	}
	return 1
}

// UpdateUniform stages the pick parameters for this frame. It may be called
// any number of times before RecordDispatch; the last call wins. A nil
// cameraOverride uses the translation of inverse(view).
func (p *Picker) UpdateUniform(view, proj mgl32.Mat4, pointerNDC mgl32.Vec2, cameraOverride *mgl32.Vec3) error {
	if !p.initialized {
		return raypick.ErrUninitialized
	}
	if p.state.inFlight() {
		return fmt.Errorf("update uniform in state %s: %w", p.state, raypick.ErrOutOfOrder)
	}
	if p.state == ReadbackConsumed {
		p.state = Idle
	}

	cam := view.Inv().Col(3).Vec3()
	if cameraOverride != nil {
		cam = *cameraOverride
	}
	u := layout.Uniform{
		InvViewProj: proj.Mul4(view).Inv(),
		InvModel:    p.invModel,
		PointerNDC:  pointerNDC,
		CameraPos:   cam,
		Count:       p.count(),
	}
	if err := p.buffers.Uniform.Set(0, u); err != nil {
		return err
	}
	p.state = UniformWritten
	return nil
}

// RecordDispatch records the pick on the frame's command list followed by the
// barrier that makes the hit record host-readable. When there is nothing to
// test no work is recorded and the frame reads back as a miss.
func (p *Picker) RecordDispatch(fc *gpu.FrameContext) error {
	if !p.initialized {
		return raypick.ErrUninitialized
	}
	if p.state != UniformWritten {
		return fmt.Errorf("record dispatch in state %s: %w", p.state, raypick.ErrOutOfOrder)
	}
	if fc == nil || fc.Commands == nil {
		return fmt.Errorf("record dispatch without a frame: %w", raypick.ErrOutOfOrder)
	}

	// counts may have changed since UpdateUniform
	u := p.buffers.Uniform.Get(0)
	u.Count = p.count()
	if err := p.buffers.Uniform.Set(0, u); err != nil {
		return err
	}

	p.frame = fc.Index
	if u.Count <= 0 {
		p.dispatched = false
		p.state = BarrierInserted
		return nil
	}

	if err := p.buffers.Uniform.Flush(); err != nil {
		return fmt.Errorf("flush uniform %s: %w", p.label, err)
	}
	if err := fc.Commands.Dispatch(p.pipeline, p.buffers.BindGroup, 1, 1, 1); err != nil {
		return fmt.Errorf("dispatch %s: %w", p.label, err)
	}
	p.dispatched = true
	p.state = Dispatched

	if err := fc.Commands.BarrierToHost(p.buffers.Result.Buffer()); err != nil {
		return fmt.Errorf("barrier %s: %w", p.label, err)
	}
	p.state = BarrierInserted
	return nil
}

// Readback returns the frame's pick once its fence has signaled. A hit is
// cleared on both the host view and the device buffer so a later frame
// without a hit reads as a miss.
func (p *Picker) Readback(fc *gpu.FrameContext) (HitResult, error) {
	if !p.initialized {
		return HitResult{}, raypick.ErrUninitialized
	}
	if p.state != BarrierInserted {
		return HitResult{}, fmt.Errorf("readback in state %s: %w", p.state, raypick.ErrOutOfOrder)
	}
	if fc == nil || fc.Index != p.frame {
		return HitResult{}, fmt.Errorf("readback for another frame: %w", raypick.ErrOutOfOrder)
	}

	if !p.dispatched {
		return p.consume(HitResult{}), nil
	}
	if !fc.Done() {
		return HitResult{}, raypick.ErrFenceNotSignaled
	}

	if err := p.buffers.Result.Sync(1); err != nil {
		p.log.Errorf("%s: readback failed, reporting a miss: %v", p.label, err)
		return p.consume(HitResult{}), nil
	}
	h := p.buffers.Result.Get(0)
	if h.Hit == 0 {
		return p.consume(HitResult{}), nil
	}

	res := HitResult{
		Hit:       true,
		ID:        h.PrimID,
		T:         h.T,
		RayLength: h.RayLength,
		Position:  h.HitPos.Vec3(),
	}
	if err := p.clearHit(); err != nil {
		p.log.Warnf("%s: clearing hit record: %v", p.label, err)
	}
	return p.consume(res), nil
}

func (p *Picker) consume(res HitResult) HitResult {
	p.lastHit = res
	p.state = ReadbackConsumed
	return res
}

func (p *Picker) clearHit() error {
	if err := p.buffers.Result.Set(0, layout.Hit{}); err != nil {
		return err
	}
	return p.buffers.Result.Flush()
}

// CancelFrame drops a recorded dispatch whose command list will never be
// submitted, returning the picker to Idle. A consumed readback is also
// closed out.
func (p *Picker) CancelFrame() {
	if p.state.inFlight() || p.state == UniformWritten || p.state == ReadbackConsumed {
		p.state = Idle
		p.dispatched = false
	}
}

// UploadInstances writes the first min(len(models), len(ids), MaxInstances)
// transforms and ids and returns how many are live.
func (p *Picker) UploadInstances(models []mgl32.Mat4, ids []int32) (int, error) {
	if p.variant != Instanced {
		return 0, fmt.Errorf("upload instances on %s picker: %w", p.variant, raypick.ErrWrongVariant)
	}
	if !p.initialized {
		return 0, raypick.ErrUninitialized
	}
	if p.state.inFlight() {
		return 0, fmt.Errorf("upload instances: %w", raypick.ErrInFlight)
	}

	n := min(len(models), len(ids), p.maxInstances)
	if n < len(models) || n < len(ids) {
		p.log.Debugf("%s: clamped %d models / %d ids to %d instances", p.label, len(models), len(ids), n)
	}
	xforms := make([]layout.InstanceXform, n)
	for i := range xforms {
		xforms[i] = layout.NewInstanceXform(models[i])
	}
	if err := p.buffers.Instances.WriteSlice(0, xforms); err != nil {
		return 0, err
	}
	if err := p.buffers.IDs.WriteSlice(0, ids[:n]); err != nil {
		return 0, err
	}
	if err := p.buffers.Instances.Flush(); err != nil {
		return 0, fmt.Errorf("upload instances %s: %w", p.label, err)
	}
	if err := p.buffers.IDs.Flush(); err != nil {
		return 0, fmt.Errorf("upload ids %s: %w", p.label, err)
	}
	p.liveInstances = n
	return n, nil
}

// Resize changes the instance capacity. Zero is treated as one; the first
// min(live, newMax) instances are kept.
func (p *Picker) Resize(newMax int) error {
	if p.variant != Instanced {
		return fmt.Errorf("resize on %s picker: %w", p.variant, raypick.ErrWrongVariant)
	}
	if p.state.inFlight() {
		return fmt.Errorf("resize: %w", raypick.ErrInFlight)
	}
	newMax = max(newMax, 1)
	if newMax == p.maxInstances {
		return nil
	}
	if p.initialized {
		if err := p.buffers.ResizeInstances(newMax, p.liveInstances, p.pipeline); err != nil {
			return fmt.Errorf("resize %s: %w", p.label, err)
		}
	}
	p.log.Debugf("%s: instance capacity %d -> %d", p.label, p.maxInstances, newMax)
	p.maxInstances = newMax
	p.liveInstances = min(p.liveInstances, newMax)
	return nil
}

// SetGlyphCount sets how many uploaded spans are live, clamped to
// [0, MaxGlyphs].
func (p *Picker) SetGlyphCount(n int) (int, error) {
	if p.variant != Glyph {
		return 0, fmt.Errorf("set glyph count on %s picker: %w", p.variant, raypick.ErrWrongVariant)
	}
	p.glyphCount = max(0, min(n, p.maxGlyphs))
	return p.glyphCount, nil
}

// UploadSpans writes the first min(len(spans), MaxGlyphs) quads and makes
// them live.
func (p *Picker) UploadSpans(spans []layout.GlyphSpan) (int, error) {
	if p.variant != Glyph {
		return 0, fmt.Errorf("upload spans on %s picker: %w", p.variant, raypick.ErrWrongVariant)
	}
	if !p.initialized {
		return 0, raypick.ErrUninitialized
	}
	if p.state.inFlight() {
		return 0, fmt.Errorf("upload spans: %w", raypick.ErrInFlight)
	}
	n := min(len(spans), p.maxGlyphs)
	if err := p.buffers.Spans.WriteSlice(0, spans[:n]); err != nil {
		return 0, err
	}
	if err := p.buffers.Spans.Flush(); err != nil {
		return 0, fmt.Errorf("upload spans %s: %w", p.label, err)
	}
	p.glyphCount = n
	return n, nil
}

func (p *Picker) releaseDevice() {
	if p.buffers != nil {
		p.buffers.Release()
	}
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
}

// Release frees all device objects. The picker may be initialized again.
func (p *Picker) Release() {
	p.releaseDevice()
	p.buffers = nil
	p.initialized = false
	p.state = Idle
	p.dispatched = false
	p.liveInstances = 0
	p.glyphCount = 0
}
