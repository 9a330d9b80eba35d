package core

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Viewport is a framebuffer rectangle in pixels. A negative Height describes
// a flipped viewport whose Y is the bottom edge and grows upward.
type Viewport struct {
	X, Y          float32
	Width, Height float32
}

func FullViewport(width, height int) Viewport {
	return Viewport{Width: float32(width), Height: float32(height)}
}

func (v Viewport) Aspect() float32 {
	h := math32.Abs(v.Height)
	if h == 0 {
		return 1
	}
	return v.Width / h
}

// PointerToNDC maps a framebuffer pixel to normalized device coordinates
// with +Y up, sampling the pixel center: ndc = 2*(pixel+0.5)/size - 1.
// inside is false when the pointer is outside the viewport; the returned
// NDC is then clamped to the viewport edge.
func (v Viewport) PointerToNDC(px, py float32) (mgl32.Vec2, bool) {
	h := math32.Abs(v.Height)
	if v.Width <= 0 || h == 0 {
		return mgl32.Vec2{}, false
	}

	lx := px - v.X
	var ly float32
	if v.Height >= 0 {
		ly = py - v.Y
	} else {
		ly = v.Y - py
	}
	inside := lx >= 0 && lx < v.Width && ly >= 0 && ly < h

	if !inside {
		lx = mgl32.Clamp(lx, 0, v.Width-1)
		ly = mgl32.Clamp(ly, 0, h-1)
	}
	nx := 2*(lx+0.5)/v.Width - 1
	ny := 2*(ly+0.5)/h - 1
	if v.Height >= 0 {
		// top-left origin, pixel rows grow downward
		ny = -ny
	}
	return mgl32.Vec2{nx, ny}, inside
}

// WindowToFramebuffer scales window (screen) coordinates to framebuffer pixels
// for high-DPI surfaces where the two differ.
func WindowToFramebuffer(x, y float64, winW, winH, fbW, fbH int) (float32, float32) {
	sx, sy := float32(1), float32(1)
	if winW > 0 {
		sx = float32(fbW) / float32(winW)
	}
	if winH > 0 {
		sy = float32(fbH) / float32(winH)
	}
	return float32(x) * sx, float32(y) * sy
}
