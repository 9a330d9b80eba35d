package bvh

import (
	"errors"
	"fmt"

	"github.com/gekko3d/raypick/pickrt/rt/geom"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// LeafThreshold is the largest triangle count emitted as a leaf.
	LeafThreshold = 8
	// MaxDepth caps recursion on duplicate-centroid or flat inputs.
	MaxDepth = 32
)

var (
	ErrNoTriangles = errors.New("bvh: no triangles to build")
	ErrBadIndices  = errors.New("bvh: invalid triangle indices")
)

// Triangle is the builder's working record. Seq is the index of the triangle
// in the caller's index list; it breaks centroid ties and maps hits back.
type Triangle struct {
	Bounds     geom.AABB
	I0, I1, I2 uint32
	Centroid   mgl32.Vec3
	Seq        uint32
}

// BuildNode lives in the builder arena. TriCount == 0 marks an internal node
// with Left/Right set; leaves keep Left = Right = -1.
type BuildNode struct {
	Bounds   geom.AABB
	Left     int32
	Right    int32
	FirstTri uint32
	TriCount uint32
}

func (n BuildNode) IsLeaf() bool { return n.TriCount > 0 }

// NewTriangles expands an index list into working triangles.
func NewTriangles(positions []mgl32.Vec3, indices []uint32) ([]Triangle, error) {
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("%w: index count %d is not a multiple of 3", ErrBadIndices, len(indices))
	}
	tris := make([]Triangle, len(indices)/3)
	for i := range tris {
		i0, i1, i2 := indices[3*i], indices[3*i+1], indices[3*i+2]
		n := uint32(len(positions))
		if i0 >= n || i1 >= n || i2 >= n {
			return nil, fmt.Errorf("%w: triangle %d references vertex beyond %d", ErrBadIndices, i, n)
		}
		a, b, c := positions[i0], positions[i1], positions[i2]
		tris[i] = Triangle{
			Bounds: geom.TriangleBounds(a, b, c),
			I0:     i0,
			I1:     i1,
			I2:     i2,
			// vertex mean, not the box center
			Centroid: a.Add(b).Add(c).Mul(1.0 / 3),
			Seq:      uint32(i),
		}
	}
	return tris, nil
}

// Builder owns the node arena and reorders Tris in place while building.
type Builder struct {
	Nodes []BuildNode
	Tris  []Triangle
	Depth int
}

// Build constructs the tree over tris and returns the root handle. The slice
// is taken over by the builder and reordered into leaf order.
func (b *Builder) Build(tris []Triangle) (int32, error) {
	if len(tris) == 0 {
		return -1, ErrNoTriangles
	}
	b.Tris = tris
	b.Nodes = make([]BuildNode, 0, 2*(len(tris)/LeafThreshold+1))
	b.Depth = 0
	return b.build(0, len(tris), 0), nil
}

func (b *Builder) build(begin, end, depth int) int32 {
	if depth > b.Depth {
		b.Depth = depth
	}
	idx := int32(len(b.Nodes))
	b.Nodes = append(b.Nodes, BuildNode{Left: -1, Right: -1})

	bounds := geom.Empty()
	for i := begin; i < end; i++ {
		bounds = geom.Merge(bounds, b.Tris[i].Bounds)
	}

	count := end - begin
	if count <= LeafThreshold || depth > MaxDepth {
		b.Nodes[idx].Bounds = bounds
		b.Nodes[idx].FirstTri = uint32(begin)
		b.Nodes[idx].TriCount = uint32(count)
		return idx
	}

	axis := bounds.LargestAxis()
	mid := (begin + end) / 2
	selectNth(b.Tris[begin:end], mid-begin, axis)

	left := b.build(begin, mid, depth+1)
	right := b.build(mid, end, depth+1)

	b.Nodes[idx].Left = left
	b.Nodes[idx].Right = right
	b.Nodes[idx].Bounds = geom.Merge(b.Nodes[left].Bounds, b.Nodes[right].Bounds)
	return idx
}

func less(a, b *Triangle, axis int) bool {
	ca, cb := a.Centroid[axis], b.Centroid[axis]
	if ca != cb {
		return ca < cb
	}
	return a.Seq < b.Seq
}

// selectNth reorders tris so that tris[k] holds the element a full sort
// would put there, with smaller keys before it and larger after.
func selectNth(tris []Triangle, k, axis int) {
	lo, hi := 0, len(tris)-1
	for lo < hi {
		p := partition(tris, lo, hi, axis)
		switch {
		case k == p:
			return
		case k < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
}

// partition is Lomuto with the middle element as pivot.
func partition(tris []Triangle, lo, hi, axis int) int {
	mid := lo + (hi-lo)/2
	tris[mid], tris[hi] = tris[hi], tris[mid]
	pivot := tris[hi]
	store := lo
	for i := lo; i < hi; i++ {
		if less(&tris[i], &pivot, axis) {
			tris[i], tris[store] = tris[store], tris[i]
			store++
		}
	}
	tris[store], tris[hi] = tris[hi], tris[store]
	return store
}
