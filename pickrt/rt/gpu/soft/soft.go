// Package soft is a host-memory gpu.Device. Dispatches run the kernel
// package against the bound byte buffers when the command list is submitted.
package soft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/raypick/pickrt/rt/gpu"
	"github.com/gekko3d/raypick/pickrt/rt/kernel"
)

var (
	ErrReleased    = errors.New("soft: buffer released")
	ErrOutOfRange  = errors.New("soft: access out of range")
	ErrNotReadable = errors.New("soft: buffer is not a readback buffer")
	ErrForeign     = errors.New("soft: object was not created by this device")
)

type Device struct {
	// DeferCompletion makes Submit return an unsignaled fence; the recorded
	// work runs on the first Wait.
	DeferCompletion bool

	mu          sync.Mutex
	live        map[*buffer]struct{}
	submissions uint64
	dispatches  uint64
}

func New() *Device {
	return &Device{live: make(map[*buffer]struct{})}
}

// LiveBuffers is the number of buffers created and not yet released.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Dispatches counts kernel invocations that have run.
func (d *Device) Dispatches() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatches
}

func (d *Device) Submissions() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

type buffer struct {
	dev   *Device
	label string
	usage gpu.BufferUsage
	data  []byte
	host  []byte // readback staging, refreshed by BarrierToHost

	released bool
}

func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	if desc.Size == 0 || desc.Size%4 != 0 {
		return nil, fmt.Errorf("soft: buffer %q size %d must be a non-zero multiple of 4", desc.Label, desc.Size)
	}
	b := &buffer{dev: d, label: desc.Label, usage: desc.Usage, data: make([]byte, desc.Size)}
	if desc.Usage&gpu.UsageReadback != 0 {
		b.host = make([]byte, desc.Size)
	}
	d.mu.Lock()
	d.live[b] = struct{}{}
	d.mu.Unlock()
	return b, nil
}

func (b *buffer) Label() string          { return b.label }
func (b *buffer) Size() uint64           { return uint64(len(b.data)) }
func (b *buffer) Usage() gpu.BufferUsage { return b.usage }

func (b *buffer) Write(offset uint64, data []byte) error {
	if b.released {
		return fmt.Errorf("write %s: %w", b.label, ErrReleased)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write %s [%d:+%d]: %w", b.label, offset, len(data), ErrOutOfRange)
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *buffer) Read(offset uint64, dst []byte) error {
	if b.released {
		return fmt.Errorf("read %s: %w", b.label, ErrReleased)
	}
	if b.host == nil {
		return fmt.Errorf("read %s: %w", b.label, ErrNotReadable)
	}
	if offset+uint64(len(dst)) > uint64(len(b.host)) {
		return fmt.Errorf("read %s [%d:+%d]: %w", b.label, offset, len(dst), ErrOutOfRange)
	}
	copy(dst, b.host[offset:])
	return nil
}

func (b *buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.dev.mu.Lock()
	delete(b.dev.live, b)
	b.dev.mu.Unlock()
}

type pipeline struct {
	label  string
	kernel gpu.Kernel
}

func (p *pipeline) Label() string      { return p.label }
func (p *pipeline) Kernel() gpu.Kernel { return p.kernel }
func (p *pipeline) Release()           {}

func (d *Device) CreatePipeline(desc gpu.PipelineDescriptor) (gpu.Pipeline, error) {
	if desc.Kernel.Bindings() == nil {
		return nil, fmt.Errorf("soft: pipeline %q: unknown kernel %d", desc.Label, desc.Kernel)
	}
	return &pipeline{label: desc.Label, kernel: desc.Kernel}, nil
}

type bindGroup struct {
	label    string
	pipeline *pipeline
	slots    map[uint32]*buffer
}

func (g *bindGroup) Release() {}

func (d *Device) CreateBindGroup(label string, p gpu.Pipeline, entries []gpu.BindGroupEntry) (gpu.BindGroup, error) {
	sp, ok := p.(*pipeline)
	if !ok {
		return nil, fmt.Errorf("bind group %q pipeline: %w", label, ErrForeign)
	}
	g := &bindGroup{label: label, pipeline: sp, slots: make(map[uint32]*buffer, len(entries))}
	for _, e := range entries {
		b, ok := e.Buffer.(*buffer)
		if !ok || b.dev != d {
			return nil, fmt.Errorf("bind group %q binding %d: %w", label, e.Binding, ErrForeign)
		}
		if b.released {
			return nil, fmt.Errorf("bind group %q binding %d: %w", label, e.Binding, ErrReleased)
		}
		g.slots[e.Binding] = b
	}
	for _, slot := range sp.kernel.Bindings() {
		if _, ok := g.slots[slot]; !ok {
			return nil, fmt.Errorf("soft: bind group %q is missing binding %d for %s kernel", label, slot, sp.kernel)
		}
	}
	return g, nil
}

type commandList struct {
	dev       *Device
	label     string
	ops       []func() error
	submitted bool
}

func (d *Device) BeginCommands(label string) (gpu.CommandList, error) {
	return &commandList{dev: d, label: label}, nil
}

func (c *commandList) Dispatch(p gpu.Pipeline, bg gpu.BindGroup, x, y, z uint32) error {
	sp, ok := p.(*pipeline)
	if !ok {
		return fmt.Errorf("dispatch pipeline: %w", ErrForeign)
	}
	g, ok := bg.(*bindGroup)
	if !ok {
		return fmt.Errorf("dispatch bind group: %w", ErrForeign)
	}
	if g.pipeline.kernel != sp.kernel {
		return fmt.Errorf("soft: bind group %q was created for a %s pipeline, not %s", g.label, g.pipeline.kernel, sp.kernel)
	}
	invocations := uint64(x) * uint64(y) * uint64(z)
	c.ops = append(c.ops, func() error {
		for _, b := range g.slots {
			if b.released {
				return fmt.Errorf("dispatch %s: %w", b.label, ErrReleased)
			}
		}
		for i := uint64(0); i < invocations; i++ {
			run(sp.kernel, g.slots)
			c.dev.mu.Lock()
			c.dev.dispatches++
			c.dev.mu.Unlock()
		}
		return nil
	})
	return nil
}

func run(k gpu.Kernel, s map[uint32]*buffer) {
	switch k {
	case gpu.KernelMesh:
		kernel.Mesh(s[gpu.BindNodes].data, s[gpu.BindTris].data, s[gpu.BindPositions].data,
			s[gpu.BindUniform].data, s[gpu.BindHit].data)
	case gpu.KernelInstanced:
		kernel.Instanced(s[gpu.BindNodes].data, s[gpu.BindTris].data, s[gpu.BindPositions].data,
			s[gpu.BindUniform].data, s[gpu.BindHit].data,
			s[gpu.BindInstances].data, s[gpu.BindIDs].data)
	case gpu.KernelGlyph:
		kernel.Glyph(s[gpu.BindGlyphUniform].data, s[gpu.BindGlyphSpans].data, s[gpu.BindGlyphHit].data)
	}
}

func (c *commandList) BarrierToHost(buffers ...gpu.Buffer) error {
	for _, gb := range buffers {
		b, ok := gb.(*buffer)
		if !ok {
			return fmt.Errorf("barrier: %w", ErrForeign)
		}
		if b.host == nil {
			return fmt.Errorf("barrier %s: %w", b.label, ErrNotReadable)
		}
		c.ops = append(c.ops, func() error {
			if b.released {
				return fmt.Errorf("barrier %s: %w", b.label, ErrReleased)
			}
			copy(b.host, b.data)
			return nil
		})
	}
	return nil
}

type fence struct {
	once sync.Once
	run  func() error
	err  error
	done bool
	mu   sync.Mutex
}

func (f *fence) Wait() error {
	f.once.Do(func() {
		err := f.run()
		f.mu.Lock()
		f.err, f.done = err, true
		f.mu.Unlock()
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (d *Device) Submit(cl gpu.CommandList) (gpu.Fence, error) {
	c, ok := cl.(*commandList)
	if !ok {
		return nil, fmt.Errorf("submit: %w", ErrForeign)
	}
	if c.submitted {
		return nil, fmt.Errorf("soft: command list %q submitted twice", c.label)
	}
	c.submitted = true
	d.mu.Lock()
	d.submissions++
	d.mu.Unlock()

	ops := c.ops
	f := &fence{run: func() error {
		var errs []error
		for _, op := range ops {
			if err := op(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}}
	if d.DeferCompletion {
		return f, nil
	}
	return f, f.Wait()
}
