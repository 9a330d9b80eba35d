// Package layout holds the byte encodings shared by the host and the picking
// kernels. All records are little-endian and follow WGSL storage/uniform
// alignment rules.
package layout

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	PositionStride  = 16
	UniformSize     = 160
	HitSize         = 32
	InstanceStride  = 128
	IDStride        = 4
	GlyphSpanStride = 80
)

// Uniform matches
//
//	struct Params {
//	  inv_view_proj : mat4x4<f32>, // 0
//	  inv_model : mat4x4<f32>,     // 64
//	  pointer_ndc : vec2<f32>,     // 128
//	  _pad0 : vec2<f32>,           // 136
//	  cam_pos : vec3<f32>,         // 144
//	  count : i32,                 // 156
//	} -> 160 bytes
type Uniform struct {
	InvViewProj mgl32.Mat4
	InvModel    mgl32.Mat4
	PointerNDC  mgl32.Vec2
	CameraPos   mgl32.Vec3
	Count       int32
}

func (u Uniform) PutBytes(buf []byte) {
	_ = buf[UniformSize-1]
	putMat4(buf[0:], u.InvViewProj)
	putMat4(buf[64:], u.InvModel)
	putF32(buf[128:], u.PointerNDC.X())
	putF32(buf[132:], u.PointerNDC.Y())
	clear(buf[136:144])
	putF32(buf[144:], u.CameraPos.X())
	putF32(buf[148:], u.CameraPos.Y())
	putF32(buf[152:], u.CameraPos.Z())
	binary.LittleEndian.PutUint32(buf[156:], uint32(u.Count))
}

func DecodeUniform(buf []byte) Uniform {
	_ = buf[UniformSize-1]
	return Uniform{
		InvViewProj: getMat4(buf[0:]),
		InvModel:    getMat4(buf[64:]),
		PointerNDC:  mgl32.Vec2{getF32(buf[128:]), getF32(buf[132:])},
		CameraPos:   mgl32.Vec3{getF32(buf[144:]), getF32(buf[148:]), getF32(buf[152:])},
		Count:       int32(binary.LittleEndian.Uint32(buf[156:])),
	}
}

// Hit matches
//
//	struct HitOut {
//	  hit : u32, prim_id : u32, t : f32, ray_len : f32,
//	  hit_pos : vec4<f32>,
//	} -> 32 bytes
type Hit struct {
	Hit       uint32
	PrimID    uint32
	T         float32
	RayLength float32
	HitPos    mgl32.Vec4
}

func (h Hit) PutBytes(buf []byte) {
	_ = buf[HitSize-1]
	binary.LittleEndian.PutUint32(buf[0:], h.Hit)
	binary.LittleEndian.PutUint32(buf[4:], h.PrimID)
	putF32(buf[8:], h.T)
	putF32(buf[12:], h.RayLength)
	putVec4(buf[16:], h.HitPos)
}

func DecodeHit(buf []byte) Hit {
	_ = buf[HitSize-1]
	return Hit{
		Hit:       binary.LittleEndian.Uint32(buf[0:]),
		PrimID:    binary.LittleEndian.Uint32(buf[4:]),
		T:         getF32(buf[8:]),
		RayLength: getF32(buf[12:]),
		HitPos:    getVec4(buf[16:]),
	}
}

// InstanceXform is one slot of the instance buffer.
type InstanceXform struct {
	Model    mgl32.Mat4
	InvModel mgl32.Mat4
}

func NewInstanceXform(model mgl32.Mat4) InstanceXform {
	return InstanceXform{Model: model, InvModel: model.Inv()}
}

func (x InstanceXform) PutBytes(buf []byte) {
	_ = buf[InstanceStride-1]
	putMat4(buf[0:], x.Model)
	putMat4(buf[64:], x.InvModel)
}

func DecodeInstanceXform(buf []byte) InstanceXform {
	_ = buf[InstanceStride-1]
	return InstanceXform{Model: getMat4(buf[0:]), InvModel: getMat4(buf[64:])}
}

// GlyphSpan matches
//
//	struct GlyphSpan {
//	  p0 : vec4<f32>, p1 : vec4<f32>, p2 : vec4<f32>, p3 : vec4<f32>,
//	  letter_index : u32, _p0 : u32, _p1 : u32, _p2 : u32,
//	} -> 80 bytes
type GlyphSpan struct {
	P0, P1, P2, P3 mgl32.Vec4
	LetterIndex    uint32
}

func (s GlyphSpan) PutBytes(buf []byte) {
	_ = buf[GlyphSpanStride-1]
	putVec4(buf[0:], s.P0)
	putVec4(buf[16:], s.P1)
	putVec4(buf[32:], s.P2)
	putVec4(buf[48:], s.P3)
	binary.LittleEndian.PutUint32(buf[64:], s.LetterIndex)
	clear(buf[68:80])
}

func DecodeGlyphSpan(buf []byte) GlyphSpan {
	_ = buf[GlyphSpanStride-1]
	return GlyphSpan{
		P0:          getVec4(buf[0:]),
		P1:          getVec4(buf[16:]),
		P2:          getVec4(buf[32:]),
		P3:          getVec4(buf[48:]),
		LetterIndex: binary.LittleEndian.Uint32(buf[64:]),
	}
}

func PutPosition(buf []byte, p mgl32.Vec3) {
	putVec4(buf, p.Vec4(1))
}

func DecodePosition(buf []byte) mgl32.Vec3 {
	return getVec4(buf).Vec3()
}

// PositionBytes packs one vec4 (w = 1) per vertex.
func PositionBytes(positions []mgl32.Vec3) []byte {
	buf := make([]byte, len(positions)*PositionStride)
	for i, p := range positions {
		PutPosition(buf[i*PositionStride:], p)
	}
	return buf
}

func PutID(buf []byte, id int32) {
	binary.LittleEndian.PutUint32(buf, uint32(id))
}

func DecodeID(buf []byte) int32 {
	return int32(binary.LittleEndian.Uint32(buf))
}

func putF32(buf []byte, v float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
}

func getF32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}

func putVec4(buf []byte, v mgl32.Vec4) {
	for i := 0; i < 4; i++ {
		putF32(buf[i*4:], v[i])
	}
}

func getVec4(buf []byte) mgl32.Vec4 {
	var v mgl32.Vec4
	for i := 0; i < 4; i++ {
		v[i] = getF32(buf[i*4:])
	}
	return v
}

// mgl32 matrices are column-major like WGSL mat4x4.
func putMat4(buf []byte, m mgl32.Mat4) {
	for i, v := range m {
		putF32(buf[i*4:], v)
	}
}

func getMat4(buf []byte) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = getF32(buf[i*4:])
	}
	return m
}
