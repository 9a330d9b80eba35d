package core

import (
	"github.com/gekko3d/raypick/pickrt/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
)

type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// At is an unrotated, unscaled transform placed at p.
func At(p mgl32.Vec3) Transform {
	t := NewTransform()
	t.Position = p
	return t
}

func (t Transform) ObjectToWorld() mgl32.Mat4 {
	// M = T * R * S
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return translate.Mul4(t.Rotation.Normalize().Mat4()).Mul4(scale)
}

// WorldToObject inverts the components directly: inv(S) * conj(R) * inv(T).
// Scale components must be non-zero.
func (t Transform) WorldToObject() mgl32.Mat4 {
	invScale := mgl32.Scale3D(1.0/t.Scale.X(), 1.0/t.Scale.Y(), 1.0/t.Scale.Z())
	invRotate := t.Rotation.Normalize().Conjugate().Mat4()
	invTranslate := mgl32.Translate3D(-t.Position.X(), -t.Position.Y(), -t.Position.Z())
	return invScale.Mul4(invRotate).Mul4(invTranslate)
}

// Instance packs the transform as one slot of the instance buffer.
func (t Transform) Instance() layout.InstanceXform {
	return layout.InstanceXform{Model: t.ObjectToWorld(), InvModel: t.WorldToObject()}
}
