package gpu

import "github.com/gekko3d/raypick/pickrt/rt/layout"

var (
	UniformCodec = Codec[layout.Uniform]{
		Stride: layout.UniformSize,
		Put:    func(b []byte, u layout.Uniform) { u.PutBytes(b) },
		Get:    layout.DecodeUniform,
	}
	HitCodec = Codec[layout.Hit]{
		Stride: layout.HitSize,
		Put:    func(b []byte, h layout.Hit) { h.PutBytes(b) },
		Get:    layout.DecodeHit,
	}
	InstanceCodec = Codec[layout.InstanceXform]{
		Stride: layout.InstanceStride,
		Put:    func(b []byte, x layout.InstanceXform) { x.PutBytes(b) },
		Get:    layout.DecodeInstanceXform,
	}
	IDCodec = Codec[int32]{
		Stride: layout.IDStride,
		Put:    layout.PutID,
		Get:    layout.DecodeID,
	}
	GlyphSpanCodec = Codec[layout.GlyphSpan]{
		Stride: layout.GlyphSpanStride,
		Put:    func(b []byte, s layout.GlyphSpan) { s.PutBytes(b) },
		Get:    layout.DecodeGlyphSpan,
	}
)
