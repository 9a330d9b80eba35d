// Package wgpudev implements gpu.Device on WebGPU.
package wgpudev

import (
	"errors"
	"fmt"

	"github.com/gekko3d/raypick/pickrt/rt/gpu"

	"github.com/cogentcore/webgpu/wgpu"
)

var errForeign = errors.New("wgpudev: object was not created by this device")

type Device struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
}

// New wraps a device owned by the caller.
func New(device *wgpu.Device) *Device {
	return &Device{Device: device, Queue: device.GetQueue()}
}

// NewHeadless requests an adapter and device without a surface.
func NewHeadless() (*Device, error) {
	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	d := New(device)
	d.instance = instance
	d.adapter = adapter
	return d, nil
}

// Close releases the device if NewHeadless created it.
func (d *Device) Close() {
	if d.instance == nil {
		return
	}
	d.Device.Release()
	d.adapter.Release()
	d.instance.Release()
	d.instance = nil
}

type buffer struct {
	dev     *Device
	label   string
	usage   gpu.BufferUsage
	size    uint64
	buf     *wgpu.Buffer
	staging *wgpu.Buffer // MapRead copy of buf for readback buffers
}

func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	var usage wgpu.BufferUsage
	switch {
	case desc.Usage&gpu.UsageUniform != 0:
		usage = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	case desc.Usage&gpu.UsageReadback != 0:
		usage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	default:
		usage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	}
	buf, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            usage,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, err
	}
	b := &buffer{dev: d, label: desc.Label, usage: desc.Usage, size: desc.Size, buf: buf}

	if desc.Usage&gpu.UsageReadback != 0 {
		b.staging, err = d.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: desc.Label + ".staging",
			Size:  desc.Size,
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			buf.Release()
			return nil, err
		}
	}
	return b, nil
}

func (b *buffer) Label() string          { return b.label }
func (b *buffer) Size() uint64           { return b.size }
func (b *buffer) Usage() gpu.BufferUsage { return b.usage }

func (b *buffer) Write(offset uint64, data []byte) error {
	if b.buf == nil {
		return fmt.Errorf("write %s: released", b.label)
	}
	return b.dev.Queue.WriteBuffer(b.buf, offset, data)
}

// Read maps the staging copy and blocks until the mapping completes.
func (b *buffer) Read(offset uint64, dst []byte) error {
	if b.staging == nil {
		return fmt.Errorf("read %s: not a readback buffer", b.label)
	}
	size := uint64(len(dst))
	done := false
	var status wgpu.BufferMapAsyncStatus
	err := b.staging.MapAsync(wgpu.MapModeRead, offset, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	if err != nil {
		return fmt.Errorf("map %s: %w", b.label, err)
	}
	for !done {
		b.dev.Device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("map %s: status %v", b.label, status)
	}
	copy(dst, b.staging.GetMappedRange(uint(offset), uint(size)))
	return b.staging.Unmap()
}

func (b *buffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
	if b.staging != nil {
		b.staging.Release()
		b.staging = nil
	}
}

type pipeline struct {
	label  string
	kernel gpu.Kernel
	cp     *wgpu.ComputePipeline
}

func (p *pipeline) Label() string      { return p.label }
func (p *pipeline) Kernel() gpu.Kernel { return p.kernel }
func (p *pipeline) Release()           { p.cp.Release() }

func (d *Device) CreatePipeline(desc gpu.PipelineDescriptor) (gpu.Pipeline, error) {
	module, err := d.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.Source},
	})
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", desc.Label, err)
	}
	defer module.Release()

	entry := desc.EntryPoint
	if entry == "" {
		entry = "main"
	}
	cp, err := d.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: desc.Label,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", desc.Label, err)
	}
	return &pipeline{label: desc.Label, kernel: desc.Kernel, cp: cp}, nil
}

type bindGroup struct {
	bg *wgpu.BindGroup
}

func (g *bindGroup) Release() { g.bg.Release() }

func (d *Device) CreateBindGroup(label string, p gpu.Pipeline, entries []gpu.BindGroupEntry) (gpu.BindGroup, error) {
	wp, ok := p.(*pipeline)
	if !ok {
		return nil, errForeign
	}
	wgEntries := make([]wgpu.BindGroupEntry, 0, len(entries))
	for _, e := range entries {
		b, ok := e.Buffer.(*buffer)
		if !ok {
			return nil, errForeign
		}
		wgEntries = append(wgEntries, wgpu.BindGroupEntry{
			Binding: e.Binding,
			Buffer:  b.buf,
			Size:    wgpu.WholeSize,
		})
	}

	layout := wp.cp.GetBindGroupLayout(0)
	defer layout.Release()
	bg, err := d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  layout,
		Entries: wgEntries,
	})
	if err != nil {
		return nil, err
	}
	return &bindGroup{bg: bg}, nil
}

type commandList struct {
	encoder *wgpu.CommandEncoder
}

func (d *Device) BeginCommands(label string) (gpu.CommandList, error) {
	encoder, err := d.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, err
	}
	return &commandList{encoder: encoder}, nil
}

func (c *commandList) Dispatch(p gpu.Pipeline, bg gpu.BindGroup, x, y, z uint32) error {
	wp, ok := p.(*pipeline)
	if !ok {
		return errForeign
	}
	g, ok := bg.(*bindGroup)
	if !ok {
		return errForeign
	}
	pass := c.encoder.BeginComputePass(nil)
	pass.SetPipeline(wp.cp)
	pass.SetBindGroup(0, g.bg, nil)
	pass.DispatchWorkgroups(x, y, z)
	return pass.End()
}

func (c *commandList) BarrierToHost(buffers ...gpu.Buffer) error {
	for _, gb := range buffers {
		b, ok := gb.(*buffer)
		if !ok {
			return errForeign
		}
		if b.staging == nil {
			return fmt.Errorf("barrier %s: not a readback buffer", b.label)
		}
		if err := c.encoder.CopyBufferToBuffer(b.buf, 0, b.staging, 0, b.size); err != nil {
			return fmt.Errorf("barrier %s: %w", b.label, err)
		}
	}
	return nil
}

type fence struct {
	dev  *Device
	done bool
}

func (f *fence) Wait() error {
	if !f.done {
		f.dev.Device.Poll(true, nil)
		f.done = true
	}
	return nil
}

func (f *fence) Signaled() bool {
	if !f.done {
		f.done = f.dev.Device.Poll(false, nil)
	}
	return f.done
}

func (d *Device) Submit(cl gpu.CommandList) (gpu.Fence, error) {
	c, ok := cl.(*commandList)
	if !ok {
		return nil, errForeign
	}
	cmd, err := c.encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	defer cmd.Release()
	defer c.encoder.Release()
	d.Queue.Submit(cmd)
	return &fence{dev: d}, nil
}
