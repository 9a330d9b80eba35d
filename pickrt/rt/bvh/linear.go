package bvh

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Matches WGSL BVHNode
// struct BVHNode {
//    bmin : vec4<f32>;        (16)
//    left_first : u32;        (4)
//    _p0, _p1, _p2 : u32;     (12)
//    bmax : vec4<f32>;        (16)
//    right_or_count : u32;    (4)
//    _p3, _p4, _p5 : u32;     (12)
// }; -> 64 bytes
const (
	NodeStride = 64
	TriStride  = 16

	// InternalFlag is set in RightOrCount for internal nodes.
	InternalFlag = uint32(0x80000000)
)

type GPUNode struct {
	BMin         mgl32.Vec3
	LeftFirst    uint32
	BMax         mgl32.Vec3
	RightOrCount uint32
}

func (n GPUNode) IsLeaf() bool { return n.RightOrCount&InternalFlag == 0 }

// Left and Right are only meaningful for internal nodes.
func (n GPUNode) Left() uint32  { return n.LeftFirst }
func (n GPUNode) Right() uint32 { return n.RightOrCount &^ InternalFlag }

// First and Count are only meaningful for leaves.
func (n GPUNode) First() uint32 { return n.LeftFirst }
func (n GPUNode) Count() uint32 { return n.RightOrCount }

func (n GPUNode) PutBytes(buf []byte) {
	_ = buf[NodeStride-1]
	putVec3(buf[0:], n.BMin)
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(1))
	binary.LittleEndian.PutUint32(buf[16:], n.LeftFirst)
	clear(buf[20:32])
	putVec3(buf[32:], n.BMax)
	binary.LittleEndian.PutUint32(buf[44:], math.Float32bits(1))
	binary.LittleEndian.PutUint32(buf[48:], n.RightOrCount)
	clear(buf[52:64])
}

func DecodeNode(buf []byte) GPUNode {
	_ = buf[NodeStride-1]
	return GPUNode{
		BMin:         getVec3(buf[0:]),
		LeftFirst:    binary.LittleEndian.Uint32(buf[16:]),
		BMax:         getVec3(buf[32:]),
		RightOrCount: binary.LittleEndian.Uint32(buf[48:]),
	}
}

// GPUTri is three position indices plus one word of padding.
type GPUTri struct {
	I0, I1, I2 uint32
}

func (t GPUTri) PutBytes(buf []byte) {
	_ = buf[TriStride-1]
	binary.LittleEndian.PutUint32(buf[0:], t.I0)
	binary.LittleEndian.PutUint32(buf[4:], t.I1)
	binary.LittleEndian.PutUint32(buf[8:], t.I2)
	binary.LittleEndian.PutUint32(buf[12:], 0)
}

func DecodeTri(buf []byte) GPUTri {
	_ = buf[TriStride-1]
	return GPUTri{
		I0: binary.LittleEndian.Uint32(buf[0:]),
		I1: binary.LittleEndian.Uint32(buf[4:]),
		I2: binary.LittleEndian.Uint32(buf[8:]),
	}
}

// Linear is the flattened tree as uploaded to the device. Order maps a
// triangle slot back to the triangle's position in the source index list.
type Linear struct {
	Nodes []GPUNode
	Tris  []GPUTri
	Order []uint32
	Depth int
}

// Linearize flattens the arena rooted at root in preorder (self, left, right).
func Linearize(nodes []BuildNode, tris []Triangle, root int32) *Linear {
	if root < 0 || len(nodes) == 0 {
		return &Linear{}
	}

	// pass 1: preorder slots
	slots := make([]uint32, len(nodes))
	order := make([]int32, 0, len(nodes))
	stack := []int32{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		slots[n] = uint32(len(order))
		order = append(order, n)
		if !nodes[n].IsLeaf() {
			stack = append(stack, nodes[n].Right, nodes[n].Left)
		}
	}

	// pass 2: emit with remapped children
	out := &Linear{Nodes: make([]GPUNode, len(order))}
	for slot, n := range order {
		src := nodes[n]
		g := GPUNode{BMin: src.Bounds.Min, BMax: src.Bounds.Max}
		if src.IsLeaf() {
			g.LeftFirst = src.FirstTri
			g.RightOrCount = src.TriCount
		} else {
			g.LeftFirst = slots[src.Left]
			g.RightOrCount = slots[src.Right] | InternalFlag
		}
		out.Nodes[slot] = g
	}

	out.Tris = make([]GPUTri, len(tris))
	out.Order = make([]uint32, len(tris))
	for i, t := range tris {
		out.Tris[i] = GPUTri{I0: t.I0, I1: t.I1, I2: t.I2}
		out.Order[i] = t.Seq
	}
	return out
}

// Build runs the builder and linearizer over an indexed triangle mesh.
func Build(positions []mgl32.Vec3, indices []uint32) (*Linear, error) {
	tris, err := NewTriangles(positions, indices)
	if err != nil {
		return nil, err
	}
	var b Builder
	root, err := b.Build(tris)
	if err != nil {
		return nil, err
	}
	lin := Linearize(b.Nodes, b.Tris, root)
	lin.Depth = b.Depth
	return lin, nil
}

func (l *Linear) NodeBytes() []byte {
	buf := make([]byte, len(l.Nodes)*NodeStride)
	for i, n := range l.Nodes {
		n.PutBytes(buf[i*NodeStride:])
	}
	return buf
}

func (l *Linear) TriBytes() []byte {
	buf := make([]byte, len(l.Tris)*TriStride)
	for i, t := range l.Tris {
		t.PutBytes(buf[i*TriStride:])
	}
	return buf
}

// DecodeNodes is the inverse of NodeBytes; trailing partial records are ignored.
func DecodeNodes(buf []byte) []GPUNode {
	nodes := make([]GPUNode, len(buf)/NodeStride)
	for i := range nodes {
		nodes[i] = DecodeNode(buf[i*NodeStride:])
	}
	return nodes
}

func putVec3(buf []byte, v mgl32.Vec3) {
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v.X()))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v.Y()))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v.Z()))
}

func getVec3(buf []byte) mgl32.Vec3 {
	return mgl32.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(buf[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])),
	}
}
