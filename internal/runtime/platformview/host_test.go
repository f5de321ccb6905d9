package platformview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hostFixture struct {
	log      *eventLog
	surface  *fakeSurface
	displays *fakeDisplays
	present  *fakePresenter
	clock    *fakeClock
	observer *recordingObserver
	host     *Host
}

func newHostFixture(t *testing.T) *hostFixture {
	t.Helper()
	log := &eventLog{}
	f := &hostFixture{
		log:      log,
		surface:  &fakeSurface{log: log},
		displays: &fakeDisplays{log: log},
		present:  &fakePresenter{log: log},
		clock:    &fakeClock{},
		observer: newRecordingObserver(),
	}
	host, err := NewHost(HostConfig{
		Displays:  f.displays,
		Presenter: f.present,
		Clock:     f.clock,
		Label:     "test",
		Observer:  f.observer,
	})
	require.NoError(t, err)
	f.host = host
	return f
}

func (f *hostFixture) attach(t *testing.T, content Content) *Session {
	t.Helper()
	s, err := f.host.Attach(context.Background(), f.surface, 100, 50, 160, func(context.Context) (Content, error) {
		return content, nil
	})
	require.NoError(t, err)
	return s
}

func TestNewHostRequiresSeams(t *testing.T) {
	_, err := NewHost(HostConfig{})
	require.Error(t, err)
	_, err = NewHost(HostConfig{Displays: &fakeDisplays{}})
	require.Error(t, err)
}

func TestAttachPresentsContentOnNewDisplay(t *testing.T) {
	f := newHostFixture(t)
	content := newDrawable("web")

	s := f.attach(t, content)

	assert.Equal(t, StateAttached, f.host.State())
	assert.Same(t, content, f.host.CurrentContent())
	assert.Equal(t, 100, s.Width)
	assert.Equal(t, 50, s.Height)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, []string{"surface.size 100x50", "display1.create 100x50", "display1.present"}, f.log.all())
	assert.Equal(t, 1, f.observer.count("attached"))
}

func TestAttachTwiceFails(t *testing.T) {
	f := newHostFixture(t)
	f.attach(t, newDrawable("web"))

	_, err := f.host.Attach(context.Background(), f.surface, 10, 10, 160, func(context.Context) (Content, error) {
		return newDrawable("other"), nil
	})
	require.ErrorIs(t, err, ErrAlreadyAttached)
}

func TestAttachDisplayUnavailable(t *testing.T) {
	f := newHostFixture(t)
	f.displays.fail = true
	built := false

	_, err := f.host.Attach(context.Background(), f.surface, 100, 50, 160, func(context.Context) (Content, error) {
		built = true
		return newDrawable("web"), nil
	})

	require.ErrorIs(t, err, ErrDisplayUnavailable)
	var cerr *CreationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "attach", cerr.Op)
	assert.Equal(t, 100, cerr.Width)
	assert.False(t, built)
	assert.Equal(t, StateAbsent, f.host.State())
	assert.Nil(t, f.host.CurrentContent())
	assert.Equal(t, 1, f.observer.count("creation_failed"))
}

func TestAttachFactoryFailureReleasesDisplay(t *testing.T) {
	f := newHostFixture(t)
	boom := errors.New("boom")

	_, err := f.host.Attach(context.Background(), f.surface, 100, 50, 160, func(context.Context) (Content, error) {
		return nil, boom
	})

	require.ErrorIs(t, err, boom)
	require.Len(t, f.displays.created, 1)
	assert.True(t, f.displays.created[0].released)
	assert.Equal(t, StateAbsent, f.host.State())
}

func TestAttachPresenterFailureReleasesDisplay(t *testing.T) {
	f := newHostFixture(t)
	f.present.fail = true

	_, err := f.host.Attach(context.Background(), f.surface, 100, 50, 160, func(context.Context) (Content, error) {
		return newDrawable("web"), nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, f.displays.live())
}

func TestAttachRejectsInvalidSize(t *testing.T) {
	f := newHostFixture(t)
	_, err := f.host.Attach(context.Background(), f.surface, 0, 50, 160, func(context.Context) (Content, error) {
		return newDrawable("web"), nil
	})
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestResizeKeepsContentAndTearsDownInOrder(t *testing.T) {
	f := newHostFixture(t)
	content := newDrawable("web")
	first := f.attach(t, content)
	f.log.reset()

	require.NoError(t, f.host.Resize(200, 300, nil))

	assert.Equal(t, []string{
		"display1.detach",
		"display1.unbind",
		"display1.release",
		"surface.size 200x300",
		"display2.create 200x300",
		"display2.present",
	}, f.log.all())
	assert.Same(t, content, f.host.CurrentContent())
	assert.True(t, first.Handle.Released())
	assert.Equal(t, 1, f.displays.live())
	assert.Equal(t, 200, f.surface.width)

	s, ok := f.host.Session()
	require.True(t, ok)
	assert.Equal(t, 200, s.Width)
	assert.Equal(t, 300, s.Height)
	assert.Greater(t, s.Generation, first.Generation)
	assert.NotEqual(t, first.ID, s.ID)
}

func TestResizeSettlesAfterDrawAndGracePeriod(t *testing.T) {
	f := newHostFixture(t)
	content := newDrawable("web")
	f.attach(t, content)

	settled := 0
	require.NoError(t, f.host.Resize(200, 300, func() { settled++ }))
	assert.True(t, f.host.SettlePending())

	f.clock.Advance(time.Second)
	assert.Zero(t, settled, "grace period starts only after a draw")

	content.draw()
	f.clock.Advance(DefaultSettleGracePeriod - time.Millisecond)
	assert.Zero(t, settled)

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, settled)
	assert.False(t, f.host.SettlePending())

	content.draw()
	f.clock.Advance(time.Second)
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, f.observer.count("settled"))
}

func TestSecondResizeSupersedesFirstSettle(t *testing.T) {
	f := newHostFixture(t)
	content := newDrawable("web")
	f.attach(t, content)

	var fired []string
	require.NoError(t, f.host.Resize(200, 300, func() { fired = append(fired, "first") }))
	require.NoError(t, f.host.Resize(400, 600, func() { fired = append(fired, "second") }))

	assert.Equal(t, 1, content.waiting(), "first draw callback was cancelled")
	content.draw()
	f.clock.Advance(DefaultSettleGracePeriod)

	assert.Equal(t, []string{"second"}, fired)
	assert.Equal(t, 1, f.observer.count("superseded"))
	assert.Same(t, content, f.host.CurrentContent())
}

func TestResizeDuringGracePeriodSupersedes(t *testing.T) {
	f := newHostFixture(t)
	content := newDrawable("web")
	f.attach(t, content)

	var fired []string
	require.NoError(t, f.host.Resize(200, 300, func() { fired = append(fired, "first") }))
	content.draw()
	f.clock.Advance(DefaultSettleGracePeriod / 2)
	require.NoError(t, f.host.Resize(400, 600, func() { fired = append(fired, "second") }))
	assert.Zero(t, f.clock.armed())

	f.clock.Advance(DefaultSettleGracePeriod)
	assert.Empty(t, fired)

	content.draw()
	f.clock.Advance(DefaultSettleGracePeriod)
	assert.Equal(t, []string{"second"}, fired)
}

func TestSettleWithoutDrawObservableUsesGraceOnly(t *testing.T) {
	f := newHostFixture(t)
	f.attach(t, "plain content")

	settled := false
	require.NoError(t, f.host.Resize(200, 300, func() { settled = true }))
	f.clock.Advance(DefaultSettleGracePeriod)
	assert.True(t, settled)
}

func TestSettleRunsOnExecutor(t *testing.T) {
	log := &eventLog{}
	var queue []func()
	clock := &fakeClock{}
	host, err := NewHost(HostConfig{
		Displays:  &fakeDisplays{log: log},
		Presenter: &fakePresenter{log: log},
		Clock:     clock,
		Executor: executorFunc(func(fn func()) bool {
			queue = append(queue, fn)
			return true
		}),
	})
	require.NoError(t, err)
	content := newDrawable("web")
	_, err = host.Attach(context.Background(), &fakeSurface{log: log}, 10, 10, 160, func(context.Context) (Content, error) {
		return content, nil
	})
	require.NoError(t, err)

	settled := false
	require.NoError(t, host.Resize(20, 20, func() { settled = true }))
	content.draw()
	assert.Zero(t, clock.armed(), "draw callback waits for the executor")

	runQueue := func() {
		for len(queue) > 0 {
			fn := queue[0]
			queue = queue[1:]
			fn()
		}
	}
	runQueue()
	clock.Advance(DefaultSettleGracePeriod)
	assert.False(t, settled)
	runQueue()
	assert.True(t, settled)
}

func TestDisposeReturnsContentAndIsIdempotent(t *testing.T) {
	f := newHostFixture(t)
	content := newDrawable("web")
	s := f.attach(t, content)

	settled := false
	require.NoError(t, f.host.Resize(200, 300, func() { settled = true }))
	f.log.reset()

	got := f.host.Dispose()
	assert.Same(t, content, got)
	assert.Equal(t, StateDisposed, f.host.State())
	assert.Nil(t, f.host.CurrentContent())
	assert.False(t, content.disposed, "the host never destroys content")
	assert.True(t, s.Handle.Released())
	assert.Equal(t, 0, f.displays.live())
	assert.Equal(t, []string{"display2.detach", "display2.unbind", "display2.release"}, f.log.all())

	content.draw()
	f.clock.Advance(time.Second)
	assert.False(t, settled)

	assert.Nil(t, f.host.Dispose())
	assert.Equal(t, 1, f.observer.count("disposed"))
}

func TestOperationsAfterDispose(t *testing.T) {
	f := newHostFixture(t)
	f.attach(t, newDrawable("web"))
	f.host.Dispose()

	require.ErrorIs(t, f.host.Resize(10, 10, nil), ErrDisposed)
	_, err := f.host.Attach(context.Background(), f.surface, 10, 10, 160, func(context.Context) (Content, error) {
		return newDrawable("web"), nil
	})
	require.ErrorIs(t, err, ErrDisposed)
	_, ok := f.host.Session()
	assert.False(t, ok)
}

func TestResizeBeforeAttach(t *testing.T) {
	f := newHostFixture(t)
	require.ErrorIs(t, f.host.Resize(10, 10, nil), ErrNotAttached)
	require.ErrorIs(t, f.host.Resize(-1, 10, nil), ErrInvalidSize)
}

func TestResizeFailureKeepsContentForDispose(t *testing.T) {
	f := newHostFixture(t)
	content := newDrawable("web")
	f.attach(t, content)
	f.displays.fail = true

	settled := false
	err := f.host.Resize(200, 300, func() { settled = true })

	require.ErrorIs(t, err, ErrDisplayUnavailable)
	assert.Equal(t, StateAbsent, f.host.State())
	assert.Nil(t, f.host.CurrentContent())
	assert.Equal(t, 0, f.displays.live())
	assert.Same(t, content, f.host.Dispose())
	assert.False(t, settled)
}

func TestAttachAfterFailedResizeRequiresReclaim(t *testing.T) {
	f := newHostFixture(t)
	first := newDrawable("first")
	f.attach(t, first)
	f.displays.fail = true
	require.Error(t, f.host.Resize(200, 300, nil))
	f.displays.fail = false

	built := false
	_, err := f.host.Attach(context.Background(), f.surface, 10, 10, 160, func(context.Context) (Content, error) {
		built = true
		return newDrawable("second"), nil
	})
	require.ErrorIs(t, err, ErrContentDetached)
	assert.False(t, built)
	assert.Equal(t, StateAbsent, f.host.State())

	assert.Same(t, first, f.host.ReclaimContent())
	assert.Nil(t, f.host.ReclaimContent())

	second := newDrawable("second")
	f.attach(t, second)
	assert.Same(t, second, f.host.Dispose())
}

func TestHostHandleReleaseRunsOnce(t *testing.T) {
	log := &eventLog{}
	d := &fakeDisplay{log: log, n: 1}
	h := newHostHandle(d, &fakeSurface{log: log})

	h.Release()
	h.Release()

	assert.True(t, h.Released())
	assert.Equal(t, []string{"display1.unbind", "display1.release"}, log.all())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "attached", StateAttached.String())
	assert.Equal(t, "state(9)", State(9).String())
}

type executorFunc func(fn func()) bool

func (e executorFunc) Post(fn func()) bool { return e(fn) }
