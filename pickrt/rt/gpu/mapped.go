package gpu

import (
	"fmt"

	"github.com/gekko3d/raypick"
)

// Codec encodes one element of a MappedBuffer at a fixed stride.
type Codec[T any] struct {
	Stride int
	Put    func(buf []byte, v T)
	Get    func(buf []byte) T
}

// MappedBuffer is a device buffer of fixed-stride elements with a host copy.
// Set and WriteSlice stage elements in the host copy; Flush uploads the dirty
// range. Sync refreshes the host copy from the device.
type MappedBuffer[T any] struct {
	buf   Buffer
	codec Codec[T]
	host  []byte

	dirtyLo, dirtyHi int // element range, empty when lo >= hi
}

// NewMappedBuffer creates a buffer holding capacity elements (at least one).
func NewMappedBuffer[T any](dev Device, label string, usage BufferUsage, capacity int, codec Codec[T]) (*MappedBuffer[T], error) {
	capacity = max(capacity, 1)
	size := AlignedSize(uint64(capacity*codec.Stride), uint64(codec.Stride))
	buf, err := dev.CreateBuffer(BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", label, err)
	}
	return &MappedBuffer[T]{
		buf:   buf,
		codec: codec,
		host:  make([]byte, capacity*codec.Stride),
	}, nil
}

func (m *MappedBuffer[T]) Buffer() Buffer { return m.buf }

// Cap is the number of elements the buffer holds.
func (m *MappedBuffer[T]) Cap() int { return len(m.host) / m.codec.Stride }

func (m *MappedBuffer[T]) Set(i int, v T) error {
	if i < 0 || i >= m.Cap() {
		return m.capacityError(i + 1)
	}
	m.codec.Put(m.host[i*m.codec.Stride:], v)
	m.markDirty(i, i+1)
	return nil
}

// Get returns the host copy of element i.
func (m *MappedBuffer[T]) Get(i int) T {
	return m.codec.Get(m.host[i*m.codec.Stride:])
}

// WriteSlice stages vs starting at element first. Nothing is written when the
// slice does not fit.
func (m *MappedBuffer[T]) WriteSlice(first int, vs []T) error {
	if len(vs) == 0 {
		return nil
	}
	if first < 0 || first+len(vs) > m.Cap() {
		return m.capacityError(first + len(vs))
	}
	for k, v := range vs {
		m.codec.Put(m.host[(first+k)*m.codec.Stride:], v)
	}
	m.markDirty(first, first+len(vs))
	return nil
}

func (m *MappedBuffer[T]) capacityError(elems int) error {
	s := uint64(m.codec.Stride)
	return &raypick.CapacityError{Buffer: m.buf.Label(), Needed: uint64(elems) * s, Capacity: uint64(len(m.host))}
}

func (m *MappedBuffer[T]) markDirty(lo, hi int) {
	if m.dirtyLo >= m.dirtyHi {
		m.dirtyLo, m.dirtyHi = lo, hi
		return
	}
	m.dirtyLo = min(m.dirtyLo, lo)
	m.dirtyHi = max(m.dirtyHi, hi)
}

func (m *MappedBuffer[T]) Dirty() bool { return m.dirtyLo < m.dirtyHi }

// Flush uploads the dirty element range.
func (m *MappedBuffer[T]) Flush() error {
	if !m.Dirty() {
		return nil
	}
	s := m.codec.Stride
	if err := m.buf.Write(uint64(m.dirtyLo*s), m.host[m.dirtyLo*s:m.dirtyHi*s]); err != nil {
		return err
	}
	m.dirtyLo, m.dirtyHi = 0, 0
	return nil
}

// Sync reads the first n elements back from the device into the host copy.
func (m *MappedBuffer[T]) Sync(n int) error {
	n = min(n, m.Cap())
	if n <= 0 {
		return nil
	}
	return m.buf.Read(0, m.host[:n*m.codec.Stride])
}

func (m *MappedBuffer[T]) Release() {
	if m == nil || m.buf == nil {
		return
	}
	m.buf.Release()
	m.buf = nil
}

// AlignedSize rounds size up to a multiple of 4 and to at least minSize.
func AlignedSize(size, minSize uint64) uint64 {
	size = max(size, minSize, 4)
	if size%4 != 0 {
		size += 4 - size%4
	}
	return size
}
