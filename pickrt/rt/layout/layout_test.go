package layout

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func f32At(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func TestUniformOffsets(t *testing.T) {
	u := Uniform{
		InvViewProj: mgl32.Translate3D(1, 2, 3),
		InvModel:    mgl32.Scale3D(4, 5, 6),
		PointerNDC:  mgl32.Vec2{-0.25, 0.75},
		CameraPos:   mgl32.Vec3{7, 8, 9},
		Count:       42,
	}
	buf := make([]byte, UniformSize)
	for i := range buf {
		buf[i] = 0xff
	}
	u.PutBytes(buf)

	// column-major: translation lives in elements 12..14
	assert.Equal(t, float32(1), f32At(buf, 48))
	assert.Equal(t, float32(3), f32At(buf, 56))
	assert.Equal(t, float32(5), f32At(buf, 64+20))
	assert.Equal(t, float32(-0.25), f32At(buf, 128))
	assert.Equal(t, float32(0.75), f32At(buf, 132))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, buf[136:144], "padding is zeroed")
	assert.Equal(t, float32(9), f32At(buf, 152))
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(buf[156:]))
	assert.Equal(t, u, DecodeUniform(buf))
}

func TestHitOffsets(t *testing.T) {
	buf := make([]byte, HitSize)
	Hit{Hit: 1, PrimID: 9, T: 4.5, RayLength: 4.5, HitPos: mgl32.Vec4{0, 0, 0.5, 1}}.PutBytes(buf)

	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[0:]))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(buf[4:]))
	assert.Equal(t, float32(4.5), f32At(buf, 8))
	assert.Equal(t, float32(0.5), f32At(buf, 24))
	assert.Equal(t, float32(1), f32At(buf, 28))
}

func TestInstanceAndIDs(t *testing.T) {
	model := mgl32.Translate3D(3, 0, 0)
	x := NewInstanceXform(model)
	assert.True(t, x.InvModel.Mul4(model).ApproxEqual(mgl32.Ident4()))

	buf := make([]byte, InstanceStride)
	x.PutBytes(buf)
	assert.Equal(t, float32(3), f32At(buf, 48))
	assert.Equal(t, float32(-3), f32At(buf, 64+48))

	id := make([]byte, IDStride)
	PutID(id, -7)
	assert.Equal(t, int32(-7), DecodeID(id))
}

func TestGlyphSpanAndPositions(t *testing.T) {
	s := GlyphSpan{
		P0:          mgl32.Vec4{0, 0, 0, 1},
		P1:          mgl32.Vec4{1, 0, 0, 1},
		P2:          mgl32.Vec4{1, 1, 0, 1},
		P3:          mgl32.Vec4{0, 1, 0, 1},
		LetterIndex: 5,
	}
	buf := make([]byte, GlyphSpanStride)
	s.PutBytes(buf)
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(buf[64:]))
	assert.Equal(t, float32(1), f32At(buf, 32))
	assert.Equal(t, s, DecodeGlyphSpan(buf))

	pos := PositionBytes([]mgl32.Vec3{{1, 2, 3}, {4, 5, 6}})
	assert.Len(t, pos, 2*PositionStride)
	assert.Equal(t, float32(1), f32At(pos, 12), "w is 1")
	assert.Equal(t, mgl32.Vec3{4, 5, 6}, DecodePosition(pos[PositionStride:]))
}
