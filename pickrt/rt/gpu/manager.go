package gpu

import (
	"errors"
	"fmt"

	"github.com/gekko3d/raypick"
	"github.com/gekko3d/raypick/pickrt/rt/bvh"
	"github.com/gekko3d/raypick/pickrt/rt/layout"
)

// BufferManager owns the device buffers of one picker and the bind group
// that ties them to its pipeline.
type BufferManager struct {
	Device Device
	Label  string

	NodesBuf     Buffer
	TrisBuf      Buffer
	PositionsBuf Buffer

	Uniform   *MappedBuffer[layout.Uniform]
	Result    *MappedBuffer[layout.Hit]
	Instances *MappedBuffer[layout.InstanceXform]
	IDs       *MappedBuffer[int32]
	Spans     *MappedBuffer[layout.GlyphSpan]

	BindGroup BindGroup
}

func NewBufferManager(dev Device, label string) *BufferManager {
	return &BufferManager{Device: dev, Label: label}
}

func (m *BufferManager) name(part string) string {
	if m.Label == "" {
		return part
	}
	return m.Label + "." + part
}

func (m *BufferManager) createBuffer(part string, size, stride uint64, usage BufferUsage) (Buffer, error) {
	buf, err := m.Device.CreateBuffer(BufferDescriptor{
		Label: m.name(part),
		Size:  AlignedSize(size, stride),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", m.name(part), err)
	}
	return buf, nil
}

// AllocateStatic creates the node, triangle and position buffers with room
// for the given byte sizes. Existing static buffers are released.
func (m *BufferManager) AllocateStatic(nodeBytes, triBytes, posBytes uint64) error {
	m.releaseStatic()
	var err error
	if m.NodesBuf, err = m.createBuffer("nodes", nodeBytes, bvh.NodeStride, UsageStorage); err != nil {
		return err
	}
	if m.TrisBuf, err = m.createBuffer("tris", triBytes, bvh.TriStride, UsageStorage); err != nil {
		return err
	}
	if m.PositionsBuf, err = m.createBuffer("positions", posBytes, layout.PositionStride, UsageStorage); err != nil {
		return err
	}
	return nil
}

// AllocateFrame creates the uniform block and the hit record.
func (m *BufferManager) AllocateFrame() error {
	var err error
	if m.Uniform, err = NewMappedBuffer(m.Device, m.name("uniform"), UsageUniform, 1, UniformCodec); err != nil {
		return err
	}
	if m.Result, err = NewMappedBuffer(m.Device, m.name("hit"), UsageReadback, 1, HitCodec); err != nil {
		return err
	}
	// the device copy starts zeroed, flush it anyway so both sides agree
	if err := m.Result.Set(0, layout.Hit{}); err != nil {
		return err
	}
	return m.Result.Flush()
}

func (m *BufferManager) AllocateInstances(n int) error {
	var err error
	if m.Instances, err = NewMappedBuffer(m.Device, m.name("instances"), UsageStorage, n, InstanceCodec); err != nil {
		return err
	}
	if m.IDs, err = NewMappedBuffer(m.Device, m.name("ids"), UsageStorage, n, IDCodec); err != nil {
		return err
	}
	return nil
}

func (m *BufferManager) AllocateSpans(n int) error {
	var err error
	m.Spans, err = NewMappedBuffer(m.Device, m.name("spans"), UsageStorage, n, GlyphSpanCodec)
	return err
}

// UploadStatic writes the flattened tree and vertex data. Every span is
// checked against its buffer before anything is written; empty spans are
// skipped.
func (m *BufferManager) UploadStatic(nodes, tris, positions []byte) error {
	if m.NodesBuf == nil || m.TrisBuf == nil || m.PositionsBuf == nil {
		return raypick.ErrUninitialized
	}
	parts := []struct {
		buf  Buffer
		data []byte
	}{
		{m.NodesBuf, nodes},
		{m.TrisBuf, tris},
		{m.PositionsBuf, positions},
	}
	for _, p := range parts {
		if uint64(len(p.data)) > p.buf.Size() {
			return &raypick.CapacityError{Buffer: p.buf.Label(), Needed: uint64(len(p.data)), Capacity: p.buf.Size()}
		}
	}
	for _, p := range parts {
		if len(p.data) == 0 {
			continue
		}
		if err := p.buf.Write(0, p.data); err != nil {
			return fmt.Errorf("upload %s: %w", p.buf.Label(), err)
		}
	}
	return nil
}

// ResizeInstances recreates the instance and id buffers with room for n
// slots, re-uploads the first min(live, n) cached slots and rebuilds the bind
// group against p.
func (m *BufferManager) ResizeInstances(n, live int, p Pipeline) error {
	oldInst, oldIDs := m.Instances, m.IDs
	if err := m.AllocateInstances(n); err != nil {
		if m.Instances != oldInst {
			m.Instances.Release()
		}
		m.Instances, m.IDs = oldInst, oldIDs
		return err
	}

	keep := min(live, n)
	if oldInst != nil && oldIDs != nil {
		keep = min(keep, oldInst.Cap(), oldIDs.Cap())
		for i := 0; i < keep; i++ {
			_ = m.Instances.Set(i, oldInst.Get(i))
			_ = m.IDs.Set(i, oldIDs.Get(i))
		}
	}
	oldInst.Release()
	oldIDs.Release()

	if err := errors.Join(m.Instances.Flush(), m.IDs.Flush()); err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	return m.CreateBindGroup(p)
}

// CreateBindGroup binds the buffers the pipeline's kernel reads.
func (m *BufferManager) CreateBindGroup(p Pipeline) error {
	var entries []BindGroupEntry
	switch p.Kernel() {
	case KernelMesh, KernelInstanced:
		if m.NodesBuf == nil || m.Uniform == nil || m.Result == nil {
			return raypick.ErrUninitialized
		}
		entries = []BindGroupEntry{
			{Binding: BindNodes, Buffer: m.NodesBuf},
			{Binding: BindTris, Buffer: m.TrisBuf},
			{Binding: BindPositions, Buffer: m.PositionsBuf},
			{Binding: BindUniform, Buffer: m.Uniform.Buffer()},
			{Binding: BindHit, Buffer: m.Result.Buffer()},
		}
		if p.Kernel() == KernelInstanced {
			if m.Instances == nil || m.IDs == nil {
				return raypick.ErrUninitialized
			}
			entries = append(entries,
				BindGroupEntry{Binding: BindInstances, Buffer: m.Instances.Buffer()},
				BindGroupEntry{Binding: BindIDs, Buffer: m.IDs.Buffer()},
			)
		}
	case KernelGlyph:
		if m.Uniform == nil || m.Result == nil || m.Spans == nil {
			return raypick.ErrUninitialized
		}
		entries = []BindGroupEntry{
			{Binding: BindGlyphUniform, Buffer: m.Uniform.Buffer()},
			{Binding: BindGlyphSpans, Buffer: m.Spans.Buffer()},
			{Binding: BindGlyphHit, Buffer: m.Result.Buffer()},
		}
	default:
		return fmt.Errorf("bind group for kernel %s: %w", p.Kernel(), raypick.ErrWrongVariant)
	}

	bg, err := m.Device.CreateBindGroup(m.name("bindgroup"), p, entries)
	if err != nil {
		return fmt.Errorf("create %s: %w", m.name("bindgroup"), err)
	}
	if m.BindGroup != nil {
		m.BindGroup.Release()
	}
	m.BindGroup = bg
	return nil
}

func (m *BufferManager) releaseStatic() {
	for _, b := range []*Buffer{&m.NodesBuf, &m.TrisBuf, &m.PositionsBuf} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
}

// Release frees every buffer and the bind group. The manager can be
// allocated again afterwards.
func (m *BufferManager) Release() {
	if m.BindGroup != nil {
		m.BindGroup.Release()
		m.BindGroup = nil
	}
	m.releaseStatic()
	m.Uniform.Release()
	m.Result.Release()
	m.Instances.Release()
	m.IDs.Release()
	m.Spans.Release()
	m.Uniform, m.Result, m.Instances, m.IDs, m.Spans = nil, nil, nil, nil, nil
}
