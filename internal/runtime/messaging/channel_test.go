package messaging

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/embedbridge/internal/runtime/errors"
)

type recordingBoundary struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (b *recordingBoundary) SendFrame(_ context.Context, f Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.frames = append(b.frames, f)
	return nil
}

func (b *recordingBoundary) sent() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.frames...)
}

type queueExecutor struct {
	mu     sync.Mutex
	tasks  []func()
	reject bool
}

func (q *queueExecutor) Post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject {
		return false
	}
	q.tasks = append(q.tasks, fn)
	return true
}

func (q *queueExecutor) runAll() {
	for {
		q.mu.Lock()
		tasks := q.tasks
		q.tasks = nil
		q.mu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			fn()
		}
	}
}

type countingObserver struct {
	mu        sync.Mutex
	sent      int
	received  int
	resolved  map[Resolution]int
	unmatched []uint32
	pending   int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{resolved: map[Resolution]int{}}
}

func (o *countingObserver) FrameSent(string, int) {
	o.mu.Lock()
	o.sent++
	o.mu.Unlock()
}

func (o *countingObserver) FrameReceived(string, int) {
	o.mu.Lock()
	o.received++
	o.mu.Unlock()
}

func (o *countingObserver) CallResolved(_ string, how Resolution, _ time.Duration) {
	o.mu.Lock()
	o.resolved[how]++
	o.mu.Unlock()
}

func (o *countingObserver) ReplyUnmatched(id uint32) {
	o.mu.Lock()
	o.unmatched = append(o.unmatched, id)
	o.mu.Unlock()
}

func (o *countingObserver) PendingChanged(n int) {
	o.mu.Lock()
	o.pending = n
	o.mu.Unlock()
}

func newTestChannel(t *testing.T, opts ...Option) (*Channel, *recordingBoundary) {
	t.Helper()
	boundary := &recordingBoundary{}
	ch, err := NewChannel(boundary, opts...)
	require.NoError(t, err)
	return ch, boundary
}

func TestNewChannelRequiresBoundary(t *testing.T) {
	_, err := NewChannel(nil)
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
}

func TestUnhandledCallGetsNoResponseReply(t *testing.T) {
	ch, boundary := newTestChannel(t)

	ch.HandleFrame(context.Background(), Frame{Channel: "foo", Payload: []byte("payload"), CorrelationID: 7})

	frames := boundary.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, ReplyChannel, frames[0].Channel)
	assert.Equal(t, uint32(7), frames[0].CorrelationID)
	assert.Nil(t, frames[0].Payload)
}

func TestUnhandledFireAndForgetSendsNothing(t *testing.T) {
	ch, boundary := newTestChannel(t)
	ch.HandleFrame(context.Background(), Frame{Channel: "foo", Payload: []byte("x")})
	assert.Empty(t, boundary.sent())
}

func TestCallResolvesOnceWithMatchingReply(t *testing.T) {
	ch, boundary := newTestChannel(t)

	var got [][]byte
	require.NoError(t, ch.Call(context.Background(), "greet", []byte("hi"), func(payload []byte, err error) {
		require.NoError(t, err)
		got = append(got, payload)
	}))
	assert.Equal(t, 1, ch.Pending())

	frames := boundary.sent()
	require.Len(t, frames, 1)
	id := frames[0].CorrelationID
	assert.Equal(t, uint32(1), id)
	assert.True(t, frames[0].ExpectsReply())

	ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, Payload: []byte("hello"), CorrelationID: id})
	ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, Payload: []byte("dup"), CorrelationID: id})

	assert.Equal(t, [][]byte{[]byte("hello")}, got)
	assert.Zero(t, ch.Pending())
}

func TestUnknownReplyIsNoOp(t *testing.T) {
	obs := newCountingObserver()
	ch, boundary := newTestChannel(t, WithObserver(obs))

	assert.NotPanics(t, func() {
		ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, Payload: []byte("late"), CorrelationID: 99})
		ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, CorrelationID: 0})
	})
	assert.Empty(t, boundary.sent())
	assert.Equal(t, []uint32{99, 0}, obs.unmatched)
}

func TestCorrelationIDsAreMonotonicAndPerInstance(t *testing.T) {
	first, firstBoundary := newTestChannel(t)
	second, secondBoundary := newTestChannel(t)
	noop := func([]byte, error) {}

	for i := 0; i < 3; i++ {
		require.NoError(t, first.Call(context.Background(), "a", nil, noop))
	}
	require.NoError(t, second.Call(context.Background(), "b", nil, noop))
	require.NoError(t, first.Send(context.Background(), "a", nil))

	var ids []uint32
	for _, f := range firstBoundary.sent() {
		ids = append(ids, f.CorrelationID)
	}
	assert.Equal(t, []uint32{1, 2, 3, 0}, ids)
	assert.Equal(t, uint32(1), secondBoundary.sent()[0].CorrelationID)
}

func TestIDAllocationSkipsZeroAndBusyIDs(t *testing.T) {
	ch, boundary := newTestChannel(t)
	noop := func([]byte, error) {}

	require.NoError(t, ch.Call(context.Background(), "a", nil, noop))
	ch.mu.Lock()
	ch.nextID = ^uint32(0)
	ch.mu.Unlock()

	require.NoError(t, ch.Call(context.Background(), "a", nil, noop))
	require.NoError(t, ch.Call(context.Background(), "a", nil, noop))

	frames := boundary.sent()
	require.Len(t, frames, 3)
	assert.Equal(t, uint32(1), frames[0].CorrelationID)
	assert.Equal(t, ^uint32(0), frames[1].CorrelationID)
	assert.Equal(t, uint32(2), frames[2].CorrelationID)
}

func TestCloseResolvesPendingWithClosedSignal(t *testing.T) {
	obs := newCountingObserver()
	ch, boundary := newTestChannel(t, WithObserver(obs))

	var errs []error
	for i := 0; i < 3; i++ {
		require.NoError(t, ch.Call(context.Background(), "slow", nil, func(_ []byte, err error) {
			errs = append(errs, err)
		}))
	}

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrChannelClosed)
	}
	assert.Zero(t, ch.Pending())
	assert.Equal(t, 3, obs.resolved[ResolvedByClose])

	// A reply arriving after close must not resolve anything again.
	ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, CorrelationID: boundary.sent()[0].CorrelationID})
	assert.Len(t, errs, 3)

	err := ch.Call(context.Background(), "slow", nil, func([]byte, error) {
		t.Fatal("continuation must not run for a call rejected by a closed channel")
	})
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.ErrorIs(t, ch.Send(context.Background(), "slow", nil), ErrChannelClosed)
}

func TestEveryCallResolvesExactlyOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		ch, boundary := newTestChannel(t)
		resolutions := map[int]int{}
		calls := 1 + rng.Intn(20)

		for i := 0; i < calls; i++ {
			i := i
			require.NoError(t, ch.Call(context.Background(), "prop", nil, func([]byte, error) {
				resolutions[i]++
			}))
		}

		// Reply to a random subset, sometimes twice, sometimes with bogus ids.
		for _, f := range boundary.sent() {
			switch rng.Intn(4) {
			case 0:
			case 1:
				ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, CorrelationID: f.CorrelationID})
			case 2:
				ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, CorrelationID: f.CorrelationID})
				ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, CorrelationID: f.CorrelationID})
			case 3:
				ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, CorrelationID: f.CorrelationID + 1000})
			}
		}
		require.NoError(t, ch.Close())

		require.Len(t, resolutions, calls)
		for i, n := range resolutions {
			assert.Equal(t, 1, n, "round %d call %d", round, i)
		}
		assert.Zero(t, ch.Pending())
	}
}

func TestTransmitFailureIsTheOnlyResolution(t *testing.T) {
	obs := newCountingObserver()
	ch, boundary := newTestChannel(t, WithObserver(obs))
	boom := errors.New("boom")
	boundary.err = boom

	err := ch.Call(context.Background(), "foo", nil, func([]byte, error) {
		t.Fatal("continuation must not run when Call returns an error")
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, ch.Pending())
	assert.Equal(t, 1, obs.resolved[ResolvedBySendFailure])

	f := ch.CallFuture(context.Background(), "foo", nil)
	_, err = f.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestLastHandlerRegistrationWins(t *testing.T) {
	ch, boundary := newTestChannel(t)

	firstCalled := false
	ch.SetHandler("dup", func(context.Context, []byte) []byte {
		firstCalled = true
		return []byte("first")
	})
	ch.SetHandler("dup", func(context.Context, []byte) []byte {
		return []byte("second")
	})

	ch.HandleFrame(context.Background(), Frame{Channel: "dup", CorrelationID: 1})
	assert.False(t, firstCalled)
	assert.Equal(t, []byte("second"), boundary.sent()[0].Payload)

	ch.SetAsyncHandler("dup", func(_ context.Context, _ []byte, r Responder) {
		_ = r.Respond([]byte("async"))
	})
	ch.HandleFrame(context.Background(), Frame{Channel: "dup", CorrelationID: 2})
	assert.Equal(t, []byte("async"), boundary.sent()[1].Payload)
	assert.Equal(t, []string{"dup"}, ch.Handlers())

	ch.SetHandler("dup", nil)
	assert.Empty(t, ch.Handlers())
}

func TestSyncHandlerReplyCarriesCorrelationID(t *testing.T) {
	ch, boundary := newTestChannel(t)
	ch.SetHandler("echo", func(_ context.Context, payload []byte) []byte { return payload })

	ch.HandleFrame(context.Background(), Frame{Channel: "echo", Payload: []byte("ping"), CorrelationID: 11})
	ch.HandleFrame(context.Background(), Frame{Channel: "echo", Payload: []byte("fire")})

	frames := boundary.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Channel: ReplyChannel, Payload: []byte("ping"), CorrelationID: 11}, frames[0])
}

func TestAsyncResponderAtMostOnce(t *testing.T) {
	ch, boundary := newTestChannel(t)

	var held Responder
	ch.SetAsyncHandler("later", func(_ context.Context, _ []byte, r Responder) {
		held = r
	})
	ch.HandleFrame(context.Background(), Frame{Channel: "later", CorrelationID: 5})
	assert.Empty(t, boundary.sent())

	require.NoError(t, held.Respond([]byte("done")))
	assert.ErrorIs(t, held.Respond([]byte("again")), ErrAlreadyResponded)

	frames := boundary.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(5), frames[0].CorrelationID)
	assert.Equal(t, []byte("done"), frames[0].Payload)
}

func TestAsyncResponderWithoutCorrelationSendsNothing(t *testing.T) {
	ch, boundary := newTestChannel(t)
	ch.SetAsyncHandler("fire", func(_ context.Context, _ []byte, r Responder) {
		assert.NoError(t, r.Respond([]byte("ignored")))
	})
	ch.HandleFrame(context.Background(), Frame{Channel: "fire"})
	assert.Empty(t, boundary.sent())
}

func TestPanickingHandlerStillReplies(t *testing.T) {
	ch, boundary := newTestChannel(t)
	ch.SetHandler("bad", func(context.Context, []byte) []byte { panic("boom") })
	ch.SetAsyncHandler("bad-async", func(context.Context, []byte, Responder) { panic("boom") })

	ch.HandleFrame(context.Background(), Frame{Channel: "bad", CorrelationID: 1})
	ch.HandleFrame(context.Background(), Frame{Channel: "bad-async", CorrelationID: 2})

	frames := boundary.sent()
	require.Len(t, frames, 2)
	assert.Nil(t, frames[0].Payload)
	assert.Equal(t, uint32(2), frames[1].CorrelationID)
}

func TestDeliverMarshalsOntoExecutor(t *testing.T) {
	exec := &queueExecutor{}
	ch, boundary := newTestChannel(t, WithExecutor(exec))

	var resolved []byte
	require.NoError(t, ch.Call(context.Background(), "x", nil, func(payload []byte, err error) {
		resolved = payload
	}))
	id := boundary.sent()[0].CorrelationID

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, ch.Deliver(ctx, Frame{Channel: ReplyChannel, Payload: []byte("ok"), CorrelationID: id}))
	cancel()
	assert.Nil(t, resolved)

	exec.runAll()
	assert.Equal(t, []byte("ok"), resolved)

	exec.reject = true
	assert.False(t, ch.Deliver(context.Background(), Frame{Channel: "x"}))
}

func TestCloseRunsContinuationsOnExecutor(t *testing.T) {
	exec := &queueExecutor{}
	ch, _ := newTestChannel(t, WithExecutor(exec))

	var err error
	require.NoError(t, ch.Call(context.Background(), "x", nil, func(_ []byte, e error) { err = e }))
	require.NoError(t, ch.Close())
	assert.NoError(t, err)

	exec.runAll()
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestCloseFallsBackInlineWhenExecutorStopped(t *testing.T) {
	exec := &queueExecutor{}
	ch, _ := newTestChannel(t, WithExecutor(exec))

	var err error
	require.NoError(t, ch.Call(context.Background(), "x", nil, func(_ []byte, e error) { err = e }))
	exec.reject = true
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestCallFutureResolvesWithReply(t *testing.T) {
	ch, boundary := newTestChannel(t)
	f := ch.CallFuture(context.Background(), "fut", []byte("q"))

	id := boundary.sent()[0].CorrelationID
	ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, Payload: []byte("a"), CorrelationID: id})

	payload, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), payload)
}

func TestNameValidation(t *testing.T) {
	ch, _ := newTestChannel(t)
	assert.ErrorIs(t, ch.Send(context.Background(), "", nil), errspkg.ErrChannelNameRequired)
	assert.ErrorIs(t, ch.Send(context.Background(), ReplyChannel, nil), ErrReservedChannel)
	assert.ErrorIs(t, ch.Call(context.Background(), ReplyChannel, nil, func([]byte, error) {}), ErrReservedChannel)
}

func TestCallWithNilReplyIsFireAndForget(t *testing.T) {
	ch, boundary := newTestChannel(t)
	require.NoError(t, ch.Call(context.Background(), "x", []byte("p"), nil))
	assert.Zero(t, boundary.sent()[0].CorrelationID)
	assert.Zero(t, ch.Pending())
}

func TestObserverSeesTraffic(t *testing.T) {
	obs := newCountingObserver()
	ch, boundary := newTestChannel(t, WithObserver(obs))

	require.NoError(t, ch.Call(context.Background(), "x", nil, func([]byte, error) {}))
	assert.Equal(t, 1, obs.pending)

	ch.HandleFrame(context.Background(), Frame{Channel: ReplyChannel, CorrelationID: boundary.sent()[0].CorrelationID})
	assert.Equal(t, 1, obs.sent)
	assert.Equal(t, 1, obs.received)
	assert.Equal(t, 1, obs.resolved[ResolvedByReply])
	assert.Zero(t, obs.pending)
}
