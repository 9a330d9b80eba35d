package core

import (
	"math"

	"github.com/gekko3d/raypick"

	"github.com/go-gl/mathgl/mgl32"
)

// CameraState is a Z-up fly camera.
type CameraState struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	Speed       float32
	Sensitivity float32
	FovDeg      float32
	Near        float32
	Far         float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position:    mgl32.Vec3{0, -8, 2},
		Speed:       10.0,
		Sensitivity: 0.003,
		FovDeg:      60,
		Near:        0.1,
		Far:         1000,
	}
}

// NewCameraFromConfig places the camera at Eye looking at Target.
func NewCameraFromConfig(cfg raypick.CameraConfig) *CameraState {
	c := NewCameraState()
	c.Position = mgl32.Vec3(cfg.Eye)
	if cfg.FovDeg > 0 {
		c.FovDeg = cfg.FovDeg
	}
	if cfg.Near > 0 {
		c.Near = cfg.Near
	}
	if cfg.Far > c.Near {
		c.Far = cfg.Far
	}
	c.LookAt(mgl32.Vec3(cfg.Target))
	return c
}

// LookAt sets yaw and pitch so the camera faces target.
func (c *CameraState) LookAt(target mgl32.Vec3) {
	d := target.Sub(c.Position)
	if d.Len() == 0 {
		return
	}
	d = d.Normalize()
	c.Pitch = float32(math.Asin(float64(mgl32.Clamp(d.Z(), -1, 1))))
	c.Yaw = float32(math.Atan2(float64(d.X()), float64(-d.Y())))
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	// Z-up: Forward in XY plane, Z for pitch
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(-math.Cos(float64(c.Yaw))),
		float32(-math.Sin(float64(c.Yaw))),
		0,
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.GetForward()), mgl32.Vec3{0, 0, 1})
}

func (c *CameraState) GetProjection(aspect float32) mgl32.Mat4 {
	if aspect == 0 {
		aspect = 1
	}
	return mgl32.Perspective(mgl32.DegToRad(c.FovDeg), aspect, c.Near, c.Far)
}

// Orbit turns the camera by pointer deltas in pixels, keeping pitch off the poles.
func (c *CameraState) Orbit(dx, dy float32) {
	c.Yaw += dx * c.Sensitivity
	c.Pitch -= dy * c.Sensitivity
	limit := float32(math.Pi/2 - 0.01)
	c.Pitch = mgl32.Clamp(c.Pitch, -limit, limit)
}

func (c *CameraState) Move(forward, right, up, dt float32) {
	step := c.Speed * dt
	c.Position = c.Position.
		Add(c.GetForward().Mul(forward * step)).
		Add(c.GetRight().Mul(right * step)).
		Add(mgl32.Vec3{0, 0, up * step})
}
