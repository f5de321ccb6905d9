package platformview

import (
	"sync"
	"sync/atomic"
)

// HostHandle owns one virtual display bound to an output surface. It has a
// single owner and is released explicitly, never by the garbage collector.
type HostHandle struct {
	display  VirtualDisplay
	surface  Surface
	once     sync.Once
	released atomic.Bool
}

func newHostHandle(display VirtualDisplay, surface Surface) *HostHandle {
	return &HostHandle{display: display, surface: surface}
}

// Display returns the owned virtual display.
func (h *HostHandle) Display() VirtualDisplay {
	return h.display
}

// Surface returns the bound output surface.
func (h *HostHandle) Surface() Surface {
	return h.surface
}

// Release unbinds the output surface, so releasing the display cannot
// destroy it, then releases the display. Later calls do nothing.
func (h *HostHandle) Release() {
	h.once.Do(func() {
		h.display.SetSurface(nil)
		h.display.Release()
		h.released.Store(true)
	})
}

// Released reports whether Release ran.
func (h *HostHandle) Released() bool {
	return h.released.Load()
}
