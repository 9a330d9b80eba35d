package raypick

import (
	"errors"
	"fmt"
)

var (
	// ErrUninitialized is returned when a picker is dispatched or read back
	// before its device buffers exist.
	ErrUninitialized = errors.New("raypick: picker used before Initialize")
	// ErrOutOfOrder is returned when a per-frame call does not follow
	// update -> dispatch -> readback.
	ErrOutOfOrder = errors.New("raypick: picking call out of order")
	// ErrWrongVariant is returned for calls that do not apply to the picker's variant.
	ErrWrongVariant = errors.New("raypick: operation not supported by picker variant")
	// ErrInFlight is returned when bindings would be rebuilt while a dispatch
	// recorded against them has not been read back.
	ErrInFlight = errors.New("raypick: dispatch still in flight")
	// ErrFenceNotSignaled is returned by readback when the frame fence has not completed.
	ErrFenceNotSignaled = errors.New("raypick: frame fence not signaled")
	// ErrEmptyGeometry matches any *EmptyGeometryError.
	ErrEmptyGeometry = errors.New("raypick: empty geometry")
	// ErrCapacity matches any *CapacityError.
	ErrCapacity = errors.New("raypick: buffer capacity exceeded")
)

// CapacityError reports an upload larger than the buffer sized at initialization.
type CapacityError struct {
	Buffer   string
	Needed   uint64
	Capacity uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("raypick: %s needs %d bytes, capacity is %d", e.Buffer, e.Needed, e.Capacity)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacity }

// EmptyGeometryError reports a build request without any vertices or triangles.
type EmptyGeometryError struct {
	Source string
}

func (e *EmptyGeometryError) Error() string {
	return fmt.Sprintf("raypick: %s has no geometry to build", e.Source)
}

func (e *EmptyGeometryError) Is(target error) bool { return target == ErrEmptyGeometry }

// IsFatal reports whether err is a programmer or device error that must not be
// swallowed. Empty geometry is the only soft condition.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrEmptyGeometry)
}
