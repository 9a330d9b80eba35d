package app

import (
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/raypick"
	"github.com/gekko3d/raypick/pickrt/rt/core"
	"github.com/gekko3d/raypick/pickrt/rt/gpu"
	"github.com/gekko3d/raypick/pickrt/rt/picking"

	"github.com/go-gl/mathgl/mgl32"
)

type Role uint8

const (
	RoleNone Role = iota
	RoleMesh
	RoleInstance
	RoleText
)

func (r Role) String() string {
	switch r {
	case RoleMesh:
		return "mesh"
	case RoleInstance:
		return "instance"
	case RoleText:
		return "text"
	}
	return "none"
}

// Scene owns one picker per variant: a single mesh at the origin, a row of
// instanced cubes behind it and a text label above it. Every frame all three
// are dispatched on one command list and arbitrated.
type Scene struct {
	Device   gpu.Device
	Arbiter  *picking.Arbiter
	Profiler *Profiler

	Mesh      *picking.Picker
	Instances *picking.Picker
	Text      *picking.Picker

	Set       *picking.InstanceSet
	Positions map[int32]mgl32.Vec3

	Label     string
	TextModel mgl32.Mat4

	log     raypick.Logger
	cfg     raypick.Config
	pickers []*picking.Picker
	roles   map[string]Role
	frame   uint64
}

func NewScene(dev gpu.Device, cfg raypick.Config, log raypick.Logger) (_ *Scene, err error) {
	log = raypick.OrNop(log)
	s := &Scene{
		Device:    dev,
		Arbiter:   &picking.Arbiter{},
		Profiler:  NewProfiler(),
		Positions: make(map[int32]mgl32.Vec3),
		Label:     cfg.Scene.Label,
		log:       log,
		cfg:       cfg,
		roles:     make(map[string]Role),
	}
	defer func() {
		if err != nil {
			s.Release()
		}
	}()

	s.Profiler.BeginScope("build")
	defer s.Profiler.EndScope("build")

	mesh, err := core.MeshByName(cfg.Scene.Mesh, cfg.Scene.Detail)
	if err != nil {
		return nil, err
	}
	if s.Mesh, err = s.addPicker(picking.Mesh, "mesh", RoleMesh, mesh); err != nil {
		return nil, err
	}

	if cfg.Scene.Instances > 0 {
		if s.Instances, err = s.addPicker(picking.Instanced, "instances", RoleInstance, core.UnitCube()); err != nil {
			return nil, err
		}
		s.Set = picking.NewInstanceSet(max(cfg.Picker.MaxInstances, cfg.Scene.Instances))
		for i := 0; i < cfg.Scene.Instances; i++ {
			x := (float32(i) - float32(cfg.Scene.Instances-1)/2) * cfg.Scene.Spacing
			if err := s.MoveInstance(int32(i+1), mgl32.Vec3{x, 3, 0}); err != nil {
				return nil, err
			}
		}
		if _, err := s.Set.Sync(s.Instances); err != nil {
			return nil, err
		}
	}

	if cfg.Scene.Label != "" {
		if s.Text, err = s.addPicker(picking.Glyph, "text", RoleText, nil); err != nil {
			return nil, err
		}
		tl := core.NewTextLayout(nil)
		const scale = 0.05
		w, _ := tl.Measure(cfg.Scene.Label, scale)
		// stand the text up in the XZ plane, facing -Y
		s.TextModel = mgl32.Translate3D(-w/2, 0, 1.2).Mul4(mgl32.HomogRotate3DX(math.Pi / 2))
		if err := s.Text.SetModel(s.TextModel); err != nil {
			return nil, err
		}
		n, err := s.Text.UploadSpans(tl.Spans(cfg.Scene.Label, mgl32.Vec3{}, scale))
		if err != nil {
			return nil, err
		}
		s.Profiler.SetCount("glyphs", n)
	}

	for _, p := range s.pickers {
		if st := p.Linear(); st != nil {
			s.Profiler.SetCount(s.roles[p.Label()].String()+" nodes", len(st.Nodes))
		}
	}
	log.Infof("scene ready: %d pickers, mesh %s", len(s.pickers), cfg.Scene.Mesh)
	return s, nil
}

func (s *Scene) addPicker(v picking.Variant, name string, role Role, mesh *core.Mesh) (*picking.Picker, error) {
	opts := picking.OptionsFromConfig(v, s.cfg.Picker, s.log)
	opts.Label = s.cfg.Scene.Label + "-" + name
	if v == picking.Instanced {
		opts.MaxInstances = max(opts.MaxInstances, s.cfg.Scene.Instances)
	}
	p, err := picking.New(s.Device, opts)
	if err != nil {
		return nil, err
	}
	s.pickers = append(s.pickers, p)
	s.roles[p.Label()] = role

	if mesh != nil {
		if err := p.BuildBVH(mesh.Positions, mesh.Indices); err != nil {
			return nil, fmt.Errorf("build %s: %w", name, err)
		}
	}
	if err := p.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}
	return p, nil
}

// MoveInstance places instance id at pos. The change reaches the device on
// the next Pick.
func (s *Scene) MoveInstance(id int32, pos mgl32.Vec3) error {
	if s.Set == nil {
		return fmt.Errorf("move instance %d: %w", id, raypick.ErrWrongVariant)
	}
	if err := s.Set.Upsert(id, core.At(pos).ObjectToWorld()); err != nil {
		return err
	}
	s.Positions[id] = pos
	return nil
}

func (s *Scene) RemoveInstance(id int32) bool {
	if s.Set == nil || !s.Set.Erase(id) {
		return false
	}
	delete(s.Positions, id)
	return true
}

// Animate bobs the instances along Z.
func (s *Scene) Animate(t float64) error {
	if s.Set == nil {
		return nil
	}
	for _, id := range append([]int32(nil), s.Set.IDs()...) {
		p := s.Positions[id]
		p[2] = 0.25 * float32(math.Sin(t*2+float64(id)))
		if err := s.MoveInstance(id, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scene) Role(owner string) Role {
	return s.roles[owner]
}

// Pick runs one picking frame for every picker and returns the closest hit.
func (s *Scene) Pick(view, proj mgl32.Mat4, ndc mgl32.Vec2) (picking.Selection, bool, error) {
	s.Profiler.BeginScope("pick")
	defer s.Profiler.EndScope("pick")

	if s.Set != nil {
		if _, err := s.Set.Sync(s.Instances); err != nil {
			return picking.Selection{}, false, err
		}
		s.Profiler.SetCount("instances", s.Instances.LiveInstances())
	}

	s.frame++
	fc, err := gpu.BeginFrame(s.Device, s.frame)
	if err != nil {
		return picking.Selection{}, false, err
	}
	for _, p := range s.pickers {
		if err := p.UpdateUniform(view, proj, ndc, nil); err != nil {
			return picking.Selection{}, false, s.cancel(err)
		}
		if err := p.RecordDispatch(fc); err != nil {
			return picking.Selection{}, false, s.cancel(err)
		}
	}
	if err := fc.Submit(s.Device); err != nil {
		return picking.Selection{}, false, s.cancel(err)
	}
	if fc.Fence != nil {
		if err := fc.Fence.Wait(); err != nil {
			return picking.Selection{}, false, s.cancel(err)
		}
	}

	s.Arbiter.Begin()
	for _, p := range s.pickers {
		res, err := p.Readback(fc)
		if err != nil {
			return picking.Selection{}, false, s.cancel(err)
		}
		s.Arbiter.Offer(p.Label(), res)
	}
	sel, ok := s.Arbiter.Resolve()
	if ok {
		s.Profiler.AddCount("hits", 1)
	}
	return sel, ok, nil
}

// PickPixel picks through framebuffer pixel (px, py) of vp. A pointer
// outside the viewport clears the selection without dispatching.
func (s *Scene) PickPixel(cam *core.CameraState, vp core.Viewport, px, py float32) (picking.Selection, bool, error) {
	ndc, inside := vp.PointerToNDC(px, py)
	if !inside {
		s.Arbiter.Begin()
		sel, ok := s.Arbiter.Resolve()
		return sel, ok, nil
	}
	return s.Pick(cam.GetViewMatrix(), cam.GetProjection(vp.Aspect()), ndc)
}

func (s *Scene) cancel(err error) error {
	for _, p := range s.pickers {
		p.CancelFrame()
	}
	return err
}

// Describe names the picked object.
func (s *Scene) Describe(sel picking.Selection) string {
	h := sel.Hit
	switch s.Role(sel.Owner) {
	case RoleMesh:
		src, _ := s.Mesh.SourceTriangle(h.ID)
		return fmt.Sprintf("mesh triangle %d at %.2f (t=%.3f)", src, h.Position, h.T)
	case RoleInstance:
		return fmt.Sprintf("instance %d at %.2f (t=%.3f)", h.ID, h.Position, h.T)
	case RoleText:
		r := []rune(s.Label)
		if int(h.ID) < len(r) {
			return fmt.Sprintf("letter %q (#%d) of %q", r[h.ID], h.ID, s.Label)
		}
		return fmt.Sprintf("letter #%d of %q", h.ID, s.Label)
	}
	return "nothing"
}

func (s *Scene) Release() {
	var errs []error
	for _, p := range s.pickers {
		if !p.State().Idle() {
			errs = append(errs, fmt.Errorf("%s released in state %s", p.Label(), p.State()))
		}
		p.Release()
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warnf("%v", err)
	}
	s.pickers = nil
}
