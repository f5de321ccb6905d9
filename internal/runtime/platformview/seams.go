// Package platformview hosts natively composited views redirected into an
// off-screen virtual display whose output surface feeds a shared texture.
//
// The platform is reached only through the small interfaces in this file so
// a Host can run against a real windowing backend or against fakes.
package platformview

import (
	"context"
	"time"
)

// Content is the embedded view presented into a virtual display. The host
// never destroys it; ownership returns to the caller on Dispose.
type Content interface{}

// DrawObservable is implemented by content that can report its next draw
// pass. fn runs once, on any goroutine. cancel unregisters fn if it has not
// run yet.
type DrawObservable interface {
	OnNextDraw(fn func()) (cancel func())
}

// Surface is the output surface a virtual display renders into. It outlives
// every session bound to it.
type Surface interface {
	SetDefaultBufferSize(width, height int)
}

// DisplayManager creates virtual displays.
type DisplayManager interface {
	CreateVirtualDisplay(name string, width, height, densityDPI int, surface Surface) (VirtualDisplay, error)
}

// VirtualDisplay is one off-screen display, a scarce platform resource that
// must be released explicitly.
type VirtualDisplay interface {
	// SetSurface rebinds the output surface; nil unbinds it.
	SetSurface(Surface)
	Release()
}

// Presenter shows content on a virtual display.
type Presenter interface {
	Present(display VirtualDisplay, content Content) (Presentation, error)
}

// Presentation is content shown on one display.
type Presentation interface {
	// Detach removes the content from the display without destroying it and
	// returns it.
	Detach() Content
}

// ContentFactory creates the content for a new session.
type ContentFactory func(ctx context.Context) (Content, error)

// Executor marshals callbacks onto the owning goroutine.
type Executor interface {
	Post(fn func()) bool
}

// Clock schedules the settle grace period.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

type inlineExecutor struct{}

func (inlineExecutor) Post(fn func()) bool {
	fn()
	return true
}
