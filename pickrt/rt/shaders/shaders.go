package shaders

import (
	_ "embed"
)

//go:embed pick_common.wgsl
var pickCommonWGSL string

//go:embed pick_bvh.wgsl
var pickBVHWGSL string

//go:embed picking_mesh.wgsl
var pickingMeshWGSL string

//go:embed picking_instanced.wgsl
var pickingInstancedWGSL string

//go:embed picking_glyph.wgsl
var pickingGlyphWGSL string

// Complete kernel sources, entry point "main".
var (
	PickingMeshWGSL      = pickCommonWGSL + pickBVHWGSL + pickingMeshWGSL
	PickingInstancedWGSL = pickCommonWGSL + pickBVHWGSL + pickingInstancedWGSL
	PickingGlyphWGSL     = pickCommonWGSL + pickingGlyphWGSL
)

const EntryPoint = "main"
