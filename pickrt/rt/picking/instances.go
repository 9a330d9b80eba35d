package picking

import (
	"github.com/gekko3d/raypick"
	"github.com/gekko3d/raypick/pickrt/rt/layout"

	"github.com/go-gl/mathgl/mgl32"
)

// InstanceSet keeps instance transforms packed in slot order with a map from
// external id to slot. Erase moves the last slot into the hole, so slots are
// not stable across erases but ids are.
type InstanceSet struct {
	capacity int
	slots    map[int32]int
	ids      []int32
	models   []mgl32.Mat4
	dirty    bool
}

func NewInstanceSet(capacity int) *InstanceSet {
	capacity = max(capacity, 1)
	return &InstanceSet{
		capacity: capacity,
		slots:    make(map[int32]int, capacity),
		ids:      make([]int32, 0, capacity),
		models:   make([]mgl32.Mat4, 0, capacity),
	}
}

func (s *InstanceSet) Len() int      { return len(s.ids) }
func (s *InstanceSet) Capacity() int { return s.capacity }
func (s *InstanceSet) Dirty() bool   { return s.dirty }

// Upsert sets the transform of id, appending a slot if id is new.
func (s *InstanceSet) Upsert(id int32, model mgl32.Mat4) error {
	if slot, ok := s.slots[id]; ok {
		s.models[slot] = model
		s.dirty = true
		return nil
	}
	if len(s.ids) >= s.capacity {
		return &raypick.CapacityError{
			Buffer:   "instance set",
			Needed:   uint64(len(s.ids)+1) * layout.InstanceStride,
			Capacity: uint64(s.capacity) * layout.InstanceStride,
		}
	}
	s.slots[id] = len(s.ids)
	s.ids = append(s.ids, id)
	s.models = append(s.models, model)
	s.dirty = true
	return nil
}

// Erase removes id by moving the last slot into its place.
func (s *InstanceSet) Erase(id int32) bool {
	slot, ok := s.slots[id]
	if !ok {
		return false
	}
	last := len(s.ids) - 1
	if slot != last {
		s.ids[slot] = s.ids[last]
		s.models[slot] = s.models[last]
		s.slots[s.ids[slot]] = slot
	}
	s.ids = s.ids[:last]
	s.models = s.models[:last]
	delete(s.slots, id)
	s.dirty = true
	return true
}

func (s *InstanceSet) Slot(id int32) (int, bool) {
	slot, ok := s.slots[id]
	return slot, ok
}

func (s *InstanceSet) Model(id int32) (mgl32.Mat4, bool) {
	slot, ok := s.slots[id]
	if !ok {
		return mgl32.Mat4{}, false
	}
	return s.models[slot], true
}

// IDs and Models are in slot order and must not be modified.
func (s *InstanceSet) IDs() []int32         { return s.ids }
func (s *InstanceSet) Models() []mgl32.Mat4 { return s.models }

// Sync uploads the set to p when it changed since the last upload. The
// picker is grown first if the set no longer fits.
func (s *InstanceSet) Sync(p *Picker) (bool, error) {
	if !s.dirty {
		return false, nil
	}
	if p.MaxInstances() < s.Len() {
		if err := p.Resize(s.capacity); err != nil {
			return false, err
		}
	}
	if _, err := p.UploadInstances(s.models, s.ids); err != nil {
		return false, err
	}
	s.dirty = false
	return true, nil
}
