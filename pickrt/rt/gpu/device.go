package gpu

// BufferUsage describes how the picking kernels and the host touch a buffer.
type BufferUsage uint32

const (
	// UsageStorage is read-only storage for the kernel, written by uploads.
	UsageStorage BufferUsage = 1 << iota
	// UsageUniform is the per-frame parameter block.
	UsageUniform
	// UsageReadback is written by the kernel and read by the host after the
	// frame fence. Host writes to it are allowed (clearing the hit flag).
	UsageReadback
)

func (u BufferUsage) String() string {
	switch u {
	case UsageStorage:
		return "storage"
	case UsageUniform:
		return "uniform"
	case UsageReadback:
		return "readback"
	}
	return "mixed"
}

type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// Buffer is a device allocation. Read is only valid for UsageReadback
// buffers and only after the fence of the submission that wrote them.
type Buffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage
	Write(offset uint64, data []byte) error
	Read(offset uint64, dst []byte) error
	Release()
}

// Kernel selects the traversal program a pipeline runs.
type Kernel uint8

const (
	KernelMesh Kernel = iota
	KernelInstanced
	KernelGlyph
)

func (k Kernel) String() string {
	switch k {
	case KernelMesh:
		return "mesh"
	case KernelInstanced:
		return "instanced"
	case KernelGlyph:
		return "glyph"
	}
	return "unknown"
}

// Bindings lists the binding slots each kernel reads, in group 0.
func (k Kernel) Bindings() []uint32 {
	switch k {
	case KernelMesh:
		return []uint32{BindNodes, BindTris, BindPositions, BindUniform, BindHit}
	case KernelInstanced:
		return []uint32{BindNodes, BindTris, BindPositions, BindUniform, BindHit, BindInstances, BindIDs}
	case KernelGlyph:
		return []uint32{BindGlyphUniform, BindGlyphSpans, BindGlyphHit}
	}
	return nil
}

// Binding slots for the mesh and instanced kernels.
const (
	BindNodes     = 0
	BindTris      = 1
	BindPositions = 2
	BindUniform   = 3
	BindHit       = 4
	BindInstances = 5
	BindIDs       = 6
)

// Binding slots for the glyph kernel.
const (
	BindGlyphUniform = 0
	BindGlyphSpans   = 1
	BindGlyphHit     = 2
)

type PipelineDescriptor struct {
	Label      string
	Kernel     Kernel
	Source     string // WGSL
	EntryPoint string
}

type Pipeline interface {
	Label() string
	Kernel() Kernel
	Release()
}

type BindGroupEntry struct {
	Binding uint32
	Buffer  Buffer
}

type BindGroup interface {
	Release()
}

// CommandList records work for one submission.
type CommandList interface {
	Dispatch(p Pipeline, bg BindGroup, x, y, z uint32) error
	// BarrierToHost makes kernel writes to the given readback buffers
	// visible to Buffer.Read once the submission's fence signals.
	BarrierToHost(buffers ...Buffer) error
}

type Fence interface {
	Wait() error
	Signaled() bool
}

type Device interface {
	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	CreatePipeline(desc PipelineDescriptor) (Pipeline, error)
	CreateBindGroup(label string, p Pipeline, entries []BindGroupEntry) (BindGroup, error)
	BeginCommands(label string) (CommandList, error)
	Submit(cl CommandList) (Fence, error)
}

// FrameContext carries the per-frame command scope and fence instead of
// ambient engine state. Fence is filled in by Submit.
type FrameContext struct {
	Commands CommandList
	Index    uint64
	Fence    Fence
}

// BeginFrame opens a command list for frame index.
func BeginFrame(dev Device, index uint64) (*FrameContext, error) {
	cl, err := dev.BeginCommands("frame")
	if err != nil {
		return nil, err
	}
	return &FrameContext{Commands: cl, Index: index}, nil
}

// Submit sends the frame's commands and records the fence.
func (fc *FrameContext) Submit(dev Device) error {
	f, err := dev.Submit(fc.Commands)
	if err != nil {
		return err
	}
	fc.Fence = f
	return nil
}

// Done reports whether the frame's fence has signaled.
func (fc *FrameContext) Done() bool {
	return fc != nil && fc.Fence != nil && fc.Fence.Signaled()
}
