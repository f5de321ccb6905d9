package platformview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/embedbridge/internal/runtime/ids"
	"github.com/drblury/embedbridge/internal/runtime/logging"
)

// DefaultSettleGracePeriod is waited after the first post-resize draw before
// the new size is reported visible.
const DefaultSettleGracePeriod = 128 * time.Millisecond

// State is a Host lifecycle state.
type State int

const (
	StateAbsent State = iota
	StateAttached
	StateResizing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateAttached:
		return "attached"
	case StateResizing:
		return "resizing"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one live binding of content to a virtual display.
type Session struct {
	ID         string
	Handle     *HostHandle
	Width      int
	Height     int
	DensityDPI int
	Content    Content
	// Generation increases with every attach and resize.
	Generation uint64
	CreatedAt  time.Time
}

// Observer receives host lifecycle events for metrics.
type Observer interface {
	ViewAttached(label string)
	ViewResized(label string)
	ViewSettled(label string, latency time.Duration)
	SettleSuperseded(label string)
	ViewDisposed(label string)
	CreationFailed(label string)
}

type nopObserver struct{}

func (nopObserver) ViewAttached(string)               {}
func (nopObserver) ViewResized(string)                {}
func (nopObserver) ViewSettled(string, time.Duration) {}
func (nopObserver) SettleSuperseded(string)           {}
func (nopObserver) ViewDisposed(string)               {}
func (nopObserver) CreationFailed(string)             {}

// HostConfig wires a Host to the platform.
type HostConfig struct {
	Displays  DisplayManager
	Presenter Presenter
	// Executor runs draw and settle callbacks. Defaults to running them inline.
	Executor Executor
	// Clock defaults to the wall clock.
	Clock       Clock
	GracePeriod time.Duration
	// DisplayName names created virtual displays.
	DisplayName string
	// Label identifies the host in logs and metrics.
	Label    string
	Logger   logging.ServiceLogger
	Observer Observer
}

// Host owns the lifecycle of one embedded view: attach, resize with a
// settle signal, and dispose. Attach, Resize and Dispose must be called from
// the owning goroutine; accessors are safe from anywhere.
type Host struct {
	displays  DisplayManager
	presenter Presenter
	exec      Executor
	clock     Clock
	grace     time.Duration
	name      string
	label     string
	logger    logging.ServiceLogger
	observer  Observer

	mu           sync.Mutex
	state        State
	surface      Surface
	session      *Session
	presentation Presentation
	generation   uint64
	// detached holds content left over by a failed resize until Dispose.
	detached Content

	settleGen    uint64
	settleCancel []func()
}

// NewHost validates cfg and returns an Absent host.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Displays == nil {
		return nil, fmt.Errorf("platformview: display manager is required")
	}
	if cfg.Presenter == nil {
		return nil, fmt.Errorf("platformview: presenter is required")
	}
	h := &Host{
		displays:  cfg.Displays,
		presenter: cfg.Presenter,
		exec:      cfg.Executor,
		clock:     cfg.Clock,
		grace:     cfg.GracePeriod,
		name:      cfg.DisplayName,
		label:     cfg.Label,
		observer:  cfg.Observer,
	}
	if h.exec == nil {
		h.exec = inlineExecutor{}
	}
	if h.clock == nil {
		h.clock = realClock{}
	}
	if h.grace <= 0 {
		h.grace = DefaultSettleGracePeriod
	}
	if h.name == "" {
		h.name = "embedbridge-vd"
	}
	if h.observer == nil {
		h.observer = nopObserver{}
	}
	h.logger = logging.OrNop(cfg.Logger).With(logging.LogFields{"component": "platformview", "view": h.label})
	return h, nil
}

// Attach creates a virtual display bound to surface at the given size and
// presents the content built by factory into it. A display that cannot be
// created yields a *CreationError wrapping ErrDisplayUnavailable; on any
// failure nothing is retained. Content left over by a failed resize must be
// taken back with ReclaimContent first, otherwise ErrContentDetached.
func (h *Host) Attach(ctx context.Context, surface Surface, width, height, densityDPI int, factory ContentFactory) (*Session, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidSize
	}
	if surface == nil || factory == nil {
		return nil, fmt.Errorf("platformview: surface and content factory are required")
	}

	h.mu.Lock()
	switch h.state {
	case StateDisposed:
		h.mu.Unlock()
		return nil, ErrDisposed
	case StateAttached, StateResizing:
		h.mu.Unlock()
		return nil, ErrAlreadyAttached
	}
	if h.detached != nil {
		h.mu.Unlock()
		return nil, ErrContentDetached
	}
	h.mu.Unlock()

	surface.SetDefaultBufferSize(width, height)
	handle, err := h.createHandle("attach", surface, width, height, densityDPI)
	if err != nil {
		return nil, err
	}

	content, err := factory(ctx)
	if err != nil {
		handle.Release()
		h.observer.CreationFailed(h.label)
		return nil, fmt.Errorf("platformview: create content: %w", err)
	}

	presentation, err := h.presenter.Present(handle.Display(), content)
	if err != nil {
		handle.Release()
		h.observer.CreationFailed(h.label)
		return nil, fmt.Errorf("platformview: present content: %w", err)
	}

	h.mu.Lock()
	h.generation++
	session := &Session{
		ID:         ids.CreateULID(),
		Handle:     handle,
		Width:      width,
		Height:     height,
		DensityDPI: densityDPI,
		Content:    content,
		Generation: h.generation,
		CreatedAt:  time.Now(),
	}
	h.surface = surface
	h.session = session
	h.presentation = presentation
	h.state = StateAttached
	h.mu.Unlock()

	h.observer.ViewAttached(h.label)
	h.logger.Info("Platform view attached", logging.LogFields{
		"session": session.ID,
		"width":   width,
		"height":  height,
	})
	return session, nil
}

// Resize retires the current session and presents the same content into a
// new virtual display of the new size, bound to the same output surface.
//
// The content is detached before the old display is released so releasing
// the display cannot destroy it. onSettled, if non-nil, runs once on the
// executor after one draw pass at the new size plus the grace period. A
// later Resize or a Dispose supersedes it and it never runs.
func (h *Host) Resize(width, height int, onSettled func()) error {
	if width <= 0 || height <= 0 {
		return ErrInvalidSize
	}

	h.mu.Lock()
	switch h.state {
	case StateDisposed:
		h.mu.Unlock()
		return ErrDisposed
	case StateAbsent:
		h.mu.Unlock()
		return ErrNotAttached
	}
	old := h.session
	presentation := h.presentation
	surface := h.surface
	h.state = StateResizing
	cancels := h.supersedeSettleLocked()
	h.mu.Unlock()
	runAll(cancels)

	content := presentation.Detach()
	old.Handle.Release()
	surface.SetDefaultBufferSize(width, height)

	handle, err := h.createHandle("resize", surface, width, height, old.DensityDPI)
	if err == nil {
		var next Presentation
		next, err = h.presenter.Present(handle.Display(), content)
		if err != nil {
			handle.Release()
			err = &CreationError{Op: "resize", Width: width, Height: height, Err: err}
		} else {
			presentation = next
		}
	}
	if err != nil {
		h.mu.Lock()
		h.session = nil
		h.presentation = nil
		h.detached = content
		if h.state == StateResizing {
			h.state = StateAbsent
		}
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	if h.state == StateDisposed {
		// Disposed while the new display was being created.
		h.mu.Unlock()
		presentation.Detach()
		handle.Release()
		return ErrDisposed
	}
	h.generation++
	session := &Session{
		ID:         ids.CreateULID(),
		Handle:     handle,
		Width:      width,
		Height:     height,
		DensityDPI: old.DensityDPI,
		Content:    content,
		Generation: h.generation,
		CreatedAt:  time.Now(),
	}
	h.session = session
	h.presentation = presentation
	h.state = StateAttached
	if onSettled != nil {
		h.settleGen = session.Generation
	}
	h.mu.Unlock()

	h.observer.ViewResized(h.label)
	h.logger.Debug("Platform view resized", logging.LogFields{
		"session":    session.ID,
		"width":      width,
		"height":     height,
		"generation": session.Generation,
	})

	if onSettled != nil {
		h.armSettle(session.Generation, content, session.CreatedAt, onSettled)
	}
	return nil
}

// Dispose detaches the content without destroying it, releases the virtual
// display and cancels any pending settle. It returns the content, whose
// ownership passes back to the caller. Disposing again returns nil.
func (h *Host) Dispose() Content {
	h.mu.Lock()
	if h.state == StateDisposed {
		h.mu.Unlock()
		return nil
	}
	session := h.session
	presentation := h.presentation
	content := h.detached
	h.state = StateDisposed
	h.session = nil
	h.presentation = nil
	h.detached = nil
	cancels := h.supersedeSettleLocked()
	h.mu.Unlock()
	runAll(cancels)

	if presentation != nil {
		if live := presentation.Detach(); live != nil || content == nil {
			content = live
		}
	}
	if session != nil {
		session.Handle.Release()
	}

	h.observer.ViewDisposed(h.label)
	h.logger.Info("Platform view disposed", nil)
	return content
}

// ReclaimContent hands back content left detached by a failed resize and
// clears it, so the host can be attached again. It returns nil when there is
// none.
func (h *Host) ReclaimContent() Content {
	h.mu.Lock()
	defer h.mu.Unlock()
	content := h.detached
	h.detached = nil
	return content
}

// CurrentContent returns the presented content, or nil when no session is
// attached.
func (h *Host) CurrentContent() Content {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil
	}
	return h.session.Content
}

// Session returns a copy of the live session.
func (h *Host) Session() (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return Session{}, false
	}
	return *h.session, true
}

// State returns the lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SettlePending reports whether a resize is still waiting to settle.
func (h *Host) SettlePending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settleGen != 0
}

func (h *Host) createHandle(op string, surface Surface, width, height, densityDPI int) (*HostHandle, error) {
	display, err := h.displays.CreateVirtualDisplay(h.name, width, height, densityDPI, surface)
	if err != nil || display == nil {
		h.observer.CreationFailed(h.label)
		cerr := displayUnavailable(op, width, height, err)
		h.logger.Error("Virtual display creation failed", cerr, nil)
		return nil, cerr
	}
	return newHostHandle(display, surface), nil
}

// armSettle waits for one draw of content, then the grace period, then
// fires onSettled if generation gen is still the pending settle.
func (h *Host) armSettle(gen uint64, content Content, started time.Time, onSettled func()) {
	startGrace := func() {
		stop := h.clock.AfterFunc(h.grace, func() {
			h.exec.Post(func() { h.fireSettle(gen, started, onSettled) })
		})
		h.addSettleCancel(gen, func() { stop() })
	}

	observable, ok := content.(DrawObservable)
	if !ok {
		startGrace()
		return
	}
	cancel := observable.OnNextDraw(func() {
		h.exec.Post(func() {
			if h.settleIsCurrent(gen) {
				startGrace()
			}
		})
	})
	if cancel != nil {
		h.addSettleCancel(gen, cancel)
	}
}

func (h *Host) fireSettle(gen uint64, started time.Time, onSettled func()) {
	h.mu.Lock()
	if h.settleGen != gen || h.state != StateAttached {
		h.mu.Unlock()
		return
	}
	h.settleGen = 0
	h.settleCancel = nil
	h.mu.Unlock()

	h.observer.ViewSettled(h.label, time.Since(started))
	onSettled()
}

func (h *Host) settleIsCurrent(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settleGen == gen
}

// addSettleCancel stores cancel for generation gen, or runs it right away if
// gen was already superseded.
func (h *Host) addSettleCancel(gen uint64, cancel func()) {
	h.mu.Lock()
	if h.settleGen == gen {
		h.settleCancel = append(h.settleCancel, cancel)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	cancel()
}

// supersedeSettleLocked drops the pending settle and returns its cancel
// functions for the caller to run without the lock.
func (h *Host) supersedeSettleLocked() []func() {
	if h.settleGen == 0 {
		return nil
	}
	h.settleGen = 0
	cancels := h.settleCancel
	h.settleCancel = nil
	h.observer.SettleSuperseded(h.label)
	return cancels
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
