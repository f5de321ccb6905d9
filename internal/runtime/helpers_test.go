package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/embedbridge/internal/runtime/config"
	loggingpkg "github.com/drblury/embedbridge/internal/runtime/logging"
	"github.com/drblury/embedbridge/internal/runtime/messaging"
	"github.com/drblury/embedbridge/internal/runtime/platformview"
	transportpkg "github.com/drblury/embedbridge/internal/runtime/transport"
	"github.com/drblury/embedbridge/transport"
)

const waitTimeout = 2 * time.Second

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type testBridge struct {
	*Bridge
	pubsub   *gochannel.GoChannel
	registry *prometheus.Registry
}

// newTestBridge builds a bridge over an in-memory pub/sub shared with the
// test, which plays the engine.
func newTestBridge(t *testing.T, conf *configpkg.Config, deps BridgeDependencies) *testBridge {
	t.Helper()
	return newTestBridgeWithCaps(t, conf, deps, transport.ChannelCapabilities)
}

func newTestBridgeWithCaps(t *testing.T, conf *configpkg.Config, deps BridgeDependencies, caps transport.Capabilities) *testBridge {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	reg := prometheus.NewRegistry()
	deps.TransportFactory = transportpkg.StaticFactory(ps, ps, caps)
	deps.Registerer = reg

	b, err := TryNewBridge(conf, newTestLogger(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return &testBridge{Bridge: b, pubsub: ps, registry: reg}
}

// start runs the bridge until the test ends.
func (tb *testBridge) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.Start(ctx) }()

	select {
	case <-tb.Running():
	case <-time.After(waitTimeout):
		cancel()
		t.Fatal("bridge router did not start")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Error("bridge did not stop")
		}
	})
}

func (tb *testBridge) subscribe(t *testing.T, topic string) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := tb.pubsub.Subscribe(ctx, topic)
	require.NoError(t, err)
	return msgs
}

func (tb *testBridge) sendInbound(t *testing.T, f messaging.Frame) {
	t.Helper()
	require.NoError(t, tb.pubsub.Publish(tb.Conf.InboundTopic, frameToMessage(context.Background(), f)))
}

func receive(t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		require.NotNil(t, msg)
		msg.Ack()
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func receiveFrame(t *testing.T, msgs <-chan *message.Message) messaging.Frame {
	t.Helper()
	f, err := messageToFrame(receive(t, msgs))
	require.NoError(t, err)
	return f
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

// newTestEngine links an engine-side message channel to the bridge's
// topics: engine frames are published inbound, bridge frames are pumped
// into it.
func newTestEngine(t *testing.T, tb *testBridge) *messaging.Channel {
	t.Helper()
	engine, err := messaging.NewChannel(messaging.BoundaryFunc(func(ctx context.Context, f messaging.Frame) error {
		return tb.pubsub.Publish(tb.Conf.InboundTopic, frameToMessage(ctx, f))
	}))
	require.NoError(t, err)

	outbound := tb.subscribe(t, tb.Conf.OutboundTopic)
	go func() {
		for msg := range outbound {
			f, err := messageToFrame(msg)
			msg.Ack()
			if err == nil {
				engine.HandleFrame(context.Background(), f)
			}
		}
	}()
	return engine
}

type fakeSurface struct{}

func (fakeSurface) SetDefaultBufferSize(int, int) {}

type fakeTexture struct {
	id       int64
	released bool
}

func (t *fakeTexture) ID() int64                     { return t.id }
func (t *fakeTexture) Surface() platformview.Surface { return fakeSurface{} }
func (t *fakeTexture) Release()                      { t.released = true }

type fakeTextures struct {
	mu   sync.Mutex
	next int64
}

func (p *fakeTextures) CreateSurfaceTexture() (platformview.TextureEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return &fakeTexture{id: p.next}, nil
}

type fakeDisplay struct{}

func (fakeDisplay) SetSurface(platformview.Surface) {}
func (fakeDisplay) Release()                        {}

type fakeDisplays struct{}

func (fakeDisplays) CreateVirtualDisplay(string, int, int, int, platformview.Surface) (platformview.VirtualDisplay, error) {
	return fakeDisplay{}, nil
}

type fakePresentation struct{ content platformview.Content }

func (p fakePresentation) Detach() platformview.Content { return p.content }

type fakePresenter struct{}

func (fakePresenter) Present(_ platformview.VirtualDisplay, c platformview.Content) (platformview.Presentation, error) {
	return fakePresentation{content: c}, nil
}

// drawable reports draws on demand.
type drawable struct {
	mu       sync.Mutex
	seq      int
	pending  map[int]func()
	disposed bool
}

func newDrawable() *drawable {
	return &drawable{pending: make(map[int]func())}
}

func (d *drawable) OnNextDraw(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := d.seq
	d.pending[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.pending, id)
	}
}

func (d *drawable) waiting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0
}

func (d *drawable) draw() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.pending))
	for _, fn := range d.pending {
		fns = append(fns, fn)
	}
	d.pending = make(map[int]func())
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (d *drawable) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disposed = true
}

func (d *drawable) isDisposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposed
}

func testPlatform() *PlatformSeams {
	return &PlatformSeams{
		Textures:  &fakeTextures{},
		Displays:  fakeDisplays{},
		Presenter: fakePresenter{},
	}
}
