package core

import (
	"fmt"
	"math"

	"github.com/gekko3d/raypick/pickrt/rt/geom"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is an indexed triangle list, three indices per triangle.
type Mesh struct {
	Name      string
	Positions []mgl32.Vec3
	Indices   []uint32
}

func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

func (m *Mesh) Bounds() geom.AABB {
	b := geom.Empty()
	for _, p := range m.Positions {
		b = b.Expand(p)
	}
	return b
}

// Cube faces in triangle order: triangles 2f and 2f+1 belong to face f.
const (
	CubeFacePosZ = iota
	CubeFaceNegZ
	CubeFacePosX
	CubeFaceNegX
	CubeFacePosY
	CubeFaceNegY
)

// CubeFace returns the face of a UnitCube triangle.
func CubeFace(triangle int) int { return triangle / 2 }

// UnitCube is the cube [-0.5, 0.5]^3 with 8 shared vertices and 12 triangles.
func UnitCube() *Mesh {
	positions := make([]mgl32.Vec3, 8)
	for i := range positions {
		positions[i] = mgl32.Vec3{
			float32(i&1) - 0.5,
			float32((i>>1)&1) - 0.5,
			float32((i>>2)&1) - 0.5,
		}
	}
	return &Mesh{
		Name:      "cube",
		Positions: positions,
		Indices: []uint32{
			4, 5, 7, 4, 7, 6, // +Z
			0, 2, 3, 0, 3, 1, // -Z
			1, 3, 7, 1, 7, 5, // +X
			0, 4, 6, 0, 6, 2, // -X
			2, 6, 7, 2, 7, 3, // +Y
			0, 1, 5, 0, 5, 4, // -Y
		},
	}
}

// Grid is an n x n quad grid of the given size in the XY plane, centered on
// the origin.
func Grid(n int, size float32) *Mesh {
	if n < 1 {
		n = 1
	}
	m := &Mesh{Name: "grid"}
	step := size / float32(n)
	half := size / 2
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			m.Positions = append(m.Positions, mgl32.Vec3{float32(x)*step - half, float32(y)*step - half, 0})
		}
	}
	row := uint32(n + 1)
	for y := uint32(0); y < uint32(n); y++ {
		for x := uint32(0); x < uint32(n); x++ {
			a := y*row + x
			m.Indices = append(m.Indices, a, a+1, a+row+1, a, a+row+1, a+row)
		}
	}
	return m
}

// UVSphere is a latitude/longitude sphere around the origin.
func UVSphere(rings, segments int, radius float32) *Mesh {
	rings = max(rings, 2)
	segments = max(segments, 3)
	m := &Mesh{Name: "sphere"}
	for r := 0; r <= rings; r++ {
		phi := math.Pi * float64(r) / float64(rings)
		for s := 0; s <= segments; s++ {
			theta := 2 * math.Pi * float64(s) / float64(segments)
			m.Positions = append(m.Positions, mgl32.Vec3{
				radius * float32(math.Sin(phi)*math.Cos(theta)),
				radius * float32(math.Sin(phi)*math.Sin(theta)),
				radius * float32(math.Cos(phi)),
			})
		}
	}
	row := uint32(segments + 1)
	for r := uint32(0); r < uint32(rings); r++ {
		for s := uint32(0); s < uint32(segments); s++ {
			a := r*row + s
			b := a + row
			if r != 0 {
				m.Indices = append(m.Indices, a, b, a+1)
			}
			if r != uint32(rings)-1 {
				m.Indices = append(m.Indices, a+1, b, b+1)
			}
		}
	}
	return m
}

// MeshByName builds one of the procedural meshes; detail is the grid
// resolution or the sphere ring count.
func MeshByName(name string, detail int) (*Mesh, error) {
	switch name {
	case "cube":
		return UnitCube(), nil
	case "grid":
		return Grid(detail, 2), nil
	case "sphere":
		return UVSphere(detail, 2*detail, 0.5), nil
	}
	return nil, fmt.Errorf("unknown mesh %q", name)
}
