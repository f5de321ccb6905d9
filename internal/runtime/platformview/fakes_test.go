package platformview

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type fakeSurface struct {
	log           *eventLog
	width, height int
}

func (s *fakeSurface) SetDefaultBufferSize(width, height int) {
	s.width, s.height = width, height
	s.log.add("surface.size %dx%d", width, height)
}

type fakeDisplay struct {
	log      *eventLog
	n        int
	surface  Surface
	released bool
}

func (d *fakeDisplay) SetSurface(s Surface) {
	d.surface = s
	if s == nil {
		d.log.add("display%d.unbind", d.n)
		return
	}
	d.log.add("display%d.bind", d.n)
}

func (d *fakeDisplay) Release() {
	d.released = true
	d.log.add("display%d.release", d.n)
}

type fakeDisplays struct {
	log     *eventLog
	fail    bool
	created []*fakeDisplay
}

func (m *fakeDisplays) CreateVirtualDisplay(_ string, width, height, _ int, surface Surface) (VirtualDisplay, error) {
	if m.fail {
		m.log.add("display.create failed")
		return nil, errors.New("no displays left")
	}
	d := &fakeDisplay{log: m.log, n: len(m.created) + 1, surface: surface}
	m.created = append(m.created, d)
	m.log.add("display%d.create %dx%d", d.n, width, height)
	return d, nil
}

func (m *fakeDisplays) live() int {
	n := 0
	for _, d := range m.created {
		if !d.released {
			n++
		}
	}
	return n
}

type fakePresentation struct {
	log     *eventLog
	display *fakeDisplay
	content Content
}

func (p *fakePresentation) Detach() Content {
	p.log.add("display%d.detach", p.display.n)
	return p.content
}

type fakePresenter struct {
	log  *eventLog
	fail bool
}

func (p *fakePresenter) Present(display VirtualDisplay, content Content) (Presentation, error) {
	if p.fail {
		return nil, errors.New("present failed")
	}
	d := display.(*fakeDisplay)
	p.log.add("display%d.present", d.n)
	return &fakePresentation{log: p.log, display: d, content: content}, nil
}

// drawableContent reports draw passes when draw is called.
type drawableContent struct {
	name     string
	mu       sync.Mutex
	next     map[int]func()
	seq      int
	disposed bool
}

func newDrawable(name string) *drawableContent {
	return &drawableContent{name: name, next: make(map[int]func())}
}

func (c *drawableContent) OnNextDraw(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	key := c.seq
	c.next[key] = fn
	return func() {
		c.mu.Lock()
		delete(c.next, key)
		c.mu.Unlock()
	}
}

func (c *drawableContent) draw() {
	c.mu.Lock()
	fns := c.next
	c.next = make(map[int]func())
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *drawableContent) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.next)
}

func (c *drawableContent) Dispose() {
	c.disposed = true
}

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fakeTexture struct {
	id       int64
	surface  *fakeSurface
	released bool
}

func (t *fakeTexture) ID() int64        { return t.id }
func (t *fakeTexture) Surface() Surface { return t.surface }
func (t *fakeTexture) Release()         { t.released = true }

type fakeTextures struct {
	log     *eventLog
	next    int64
	created []*fakeTexture
}

func (p *fakeTextures) CreateSurfaceTexture() (TextureEntry, error) {
	p.next++
	t := &fakeTexture{id: p.next, surface: &fakeSurface{log: p.log}}
	p.created = append(p.created, t)
	return t, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{counts: make(map[string]int)}
}

func (o *recordingObserver) inc(name string) {
	o.mu.Lock()
	o.counts[name]++
	o.mu.Unlock()
}

func (o *recordingObserver) count(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[name]
}

func (o *recordingObserver) ViewAttached(string)               { o.inc("attached") }
func (o *recordingObserver) ViewResized(string)                { o.inc("resized") }
func (o *recordingObserver) ViewSettled(string, time.Duration) { o.inc("settled") }
func (o *recordingObserver) SettleSuperseded(string)           { o.inc("superseded") }
func (o *recordingObserver) ViewDisposed(string)               { o.inc("disposed") }
func (o *recordingObserver) CreationFailed(string)             { o.inc("creation_failed") }
