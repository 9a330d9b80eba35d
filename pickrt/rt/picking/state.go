package picking

import (
	"github.com/gekko3d/raypick/pickrt/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

// Variant selects what a picker tests the pointer ray against.
type Variant uint8

const (
	// Mesh tests one BVH in the space of the picker's model matrix.
	Mesh Variant = iota
	// Instanced tests many transforms of one shared BVH and reports the
	// external id of the closest instance.
	Instanced
	// Glyph tests text quads directly and reports the letter index.
	Glyph
)

func (v Variant) String() string {
	switch v {
	case Mesh:
		return "mesh"
	case Instanced:
		return "instanced"
	case Glyph:
		return "glyph"
	}
	return "unknown"
}

func (v Variant) kernel() gpu.Kernel {
	switch v {
	case Instanced:
		return gpu.KernelInstanced
	case Glyph:
		return gpu.KernelGlyph
	}
	return gpu.KernelMesh
}

// ParseVariant accepts the names returned by Variant.String.
func ParseVariant(s string) (Variant, bool) {
	for _, v := range []Variant{Mesh, Instanced, Glyph} {
		if v.String() == s {
			return v, true
		}
	}
	return 0, false
}

// State is the position of a picker in the per-frame protocol.
type State uint8

const (
	Idle State = iota
	UniformWritten
	Dispatched
	BarrierInserted
	ReadbackConsumed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case UniformWritten:
		return "uniform-written"
	case Dispatched:
		return "dispatched"
	case BarrierInserted:
		return "barrier-inserted"
	case ReadbackConsumed:
		return "readback-consumed"
	}
	return "unknown"
}

// Idle reports whether a new frame may start. ReadbackConsumed counts as
// idle; the next UpdateUniform or CancelFrame moves it back to Idle.
func (s State) Idle() bool {
	return s == Idle || s == ReadbackConsumed
}

// inFlight is true between recording a dispatch and consuming its result.
func (s State) inFlight() bool {
	return s == Dispatched || s == BarrierInserted
}

// HitResult is one frame's pick. ID is the triangle slot for Mesh, the
// external instance id for Instanced and the letter index for Glyph.
type HitResult struct {
	Hit       bool
	ID        uint32
	T         float32
	RayLength float32
	Position  mgl32.Vec3
}
