package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/embedbridge/internal/runtime/async"
	configpkg "github.com/drblury/embedbridge/internal/runtime/config"
	errspkg "github.com/drblury/embedbridge/internal/runtime/errors"
	"github.com/drblury/embedbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/embedbridge/internal/runtime/logging"
	looppkg "github.com/drblury/embedbridge/internal/runtime/loop"
	"github.com/drblury/embedbridge/internal/runtime/messaging"
	"github.com/drblury/embedbridge/internal/runtime/method"
	"github.com/drblury/embedbridge/internal/runtime/platformview"
	"github.com/drblury/embedbridge/internal/runtime/pointer"
	transportpkg "github.com/drblury/embedbridge/internal/runtime/transport"
	"github.com/drblury/embedbridge/transport"
	httptransport "github.com/drblury/embedbridge/transport/http"
)

const (
	// KeyEventChannel carries key events to the engine.
	KeyEventChannel = "embedbridge/keyevent"
	// NavigationChannel carries pushRoute and popRoute method calls.
	NavigationChannel = "embedbridge/navigation"
)

const (
	inboundHandlerName = "embedbridge_inbound"
	tracerName         = "github.com/drblury/embedbridge/runtime"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// EngineRunner starts the engine on a program loaded from source. It is
// called on the owning loop.
type EngineRunner interface {
	RunFromSource(ctx context.Context, mainPath, packagesPath, assetsDir string) error
}

// EngineRunnerFunc adapts a function to EngineRunner.
type EngineRunnerFunc func(ctx context.Context, mainPath, packagesPath, assetsDir string) error

func (fn EngineRunnerFunc) RunFromSource(ctx context.Context, mainPath, packagesPath, assetsDir string) error {
	return fn(ctx, mainPath, packagesPath, assetsDir)
}

// KeyEvent is a hardware key event forwarded to the engine.
type KeyEvent struct {
	// Type is "keydown" or "keyup".
	Type      string `json:"type"`
	Keymap    string `json:"keymap"`
	KeyCode   int    `json:"keyCode"`
	ScanCode  int    `json:"scanCode"`
	MetaState int    `json:"metaState"`
	CodePoint int    `json:"codePoint"`
}

// PlatformSeams are the windowing collaborators platform views need. A
// bridge without them has no platform view support.
type PlatformSeams struct {
	Textures  platformview.SurfaceProducer
	Displays  platformview.DisplayManager
	Presenter platformview.Presenter
	// Clock defaults to the wall clock.
	Clock platformview.Clock
}

// BridgeDependencies holds the optional collaborators a Bridge uses.
type BridgeDependencies struct {
	TransportFactory transportpkg.Factory
	Engine           EngineRunner
	Platform         *PlatformSeams
	// MethodCodec encodes the platform view channel. Defaults to JSON.
	MethodCodec               method.Codec
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool
	Hooks                     FrameHooks
	// Registerer defaults to the Prometheus default registerer.
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
}

// Bridge connects an embedding shell to an engine across a Watermill
// transport: a message channel with reply correlation, pointer packets,
// key events and platform views, all marshaled onto one owning loop.
type Bridge struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	caps       transport.Capabilities
	router     *message.Router
	registerer prometheus.Registerer
	tracer     trace.Tracer
	metrics    *BridgeMetrics

	loop        *looppkg.Loop
	loopStarted atomic.Bool
	messages    *messaging.Channel
	navigation  *method.Channel
	views       *platformview.Registry
	engine      EngineRunner

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewBridge is TryNewBridge that panics on error.
func NewBridge(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps BridgeDependencies) *Bridge {
	b, err := TryNewBridge(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return b
}

// TryNewBridge builds the transport, router and owning loop for conf. Set
// handlers and view factories on the returned Bridge before calling Start.
func TryNewBridge(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps BridgeDependencies) (*Bridge, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	resolved := conf.WithDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	conf = &resolved

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating engine bridge", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	b := &Bridge{
		Conf:       conf,
		Logger:     log,
		publisher:  tr.Publisher,
		subscriber: tr.Subscriber,
		caps:       tr.Capabilities,
		registerer: deps.Registerer,
		tracer:     deps.Tracer,
		engine:     deps.Engine,
		loop:       looppkg.New(log, conf.LoopQueueSize),
	}
	if b.registerer == nil {
		b.registerer = prometheus.DefaultRegisterer
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer(tracerName)
	}
	b.metrics = NewBridgeMetrics(b.registerer)

	if err := b.init(deps, wmLogger); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bridge) init(deps BridgeDependencies, wmLogger watermill.LoggerAdapter) error {
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return err
	}
	b.router = router
	b.router.AddPlugin(plugin.SignalsHandler)

	// Middleware builders may decorate the publisher, so the boundary is
	// built after them.
	if err := b.registerConfiguredMiddlewares(deps); err != nil {
		return err
	}

	b.messages, err = messaging.NewChannel(
		publisherBoundary{publisher: b.publisher, topic: b.Conf.OutboundTopic, caps: b.caps},
		messaging.WithExecutor(b.loop),
		messaging.WithLogger(b.Logger),
		messaging.WithObserver(b.metrics),
		messaging.WithTracer(b.tracer),
	)
	if err != nil {
		return err
	}

	b.navigation, err = method.NewChannel(b.messages, NavigationChannel, deps.MethodCodec, b.Logger)
	if err != nil {
		return err
	}

	b.router.AddNoPublisherHandler(inboundHandlerName, b.Conf.InboundTopic, b.subscriber, b.handleInbound)

	if deps.Platform != nil {
		if err := b.initPlatformViews(*deps.Platform, deps.MethodCodec); err != nil {
			return err
		}
	}

	if !b.caps.PreservesFrameOrder() {
		b.Logger.Info("Transport does not guarantee frame order; pointer packets and replies may be reordered",
			loggingpkg.LogFields{"pubsub_system": b.Conf.PubSubSystem})
	}
	return nil
}

func (b *Bridge) registerConfiguredMiddlewares(deps BridgeDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares)+1)
	registrations = append(registrations, defaults...)
	if !deps.Hooks.empty() {
		registrations = append(registrations, FrameHooksMiddleware(deps.Hooks))
	}
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := b.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (b *Bridge) initPlatformViews(seams PlatformSeams, codec method.Codec) error {
	views, err := platformview.NewRegistry(platformview.RegistryConfig{
		Textures:    seams.Textures,
		Displays:    seams.Displays,
		Presenter:   seams.Presenter,
		Executor:    b.loop,
		Clock:       seams.Clock,
		GracePeriod: b.Conf.SettleGracePeriod,
		DisplayName: b.Conf.DisplayName,
		DensityDPI:  b.Conf.DisplayDensityDPI,
		Logger:      b.Logger,
		Observer:    b.metrics,
	})
	if err != nil {
		return err
	}
	ch, err := method.NewChannel(b.messages, platformview.ChannelName, codec, b.Logger)
	if err != nil {
		return err
	}
	views.Bind(ch)
	b.views = views
	return nil
}

// handleInbound hands one engine frame to the owning loop. Malformed frames
// and frames arriving after the loop stopped are dropped and acked; the
// engine cannot act on a redelivery of either.
func (b *Bridge) handleInbound(msg *message.Message) error {
	frame, err := messageToFrame(msg)
	if err != nil {
		b.Logger.Error("Dropping malformed inbound frame", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		return nil
	}
	if !b.messages.Deliver(msg.Context(), frame) {
		b.Logger.Debug("Dropping inbound frame after loop stopped", loggingpkg.LogFields{
			"channel":        frame.Channel,
			"correlation_id": frame.CorrelationID,
		})
	}
	return nil
}

// Start runs the owning loop, the HTTP surfaces and the inbound router until
// ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	b.StartWebUIServer()
	b.startHTTPServers(ctx)

	b.loopStarted.Store(true)
	go func() {
		if err := b.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.Logger.Error("Owning loop stopped", err, nil)
		}
	}()

	if server, ok := b.subscriber.(httptransport.Server); ok {
		go func() {
			select {
			case <-b.router.Running():
			case <-ctx.Done():
				return
			}
			if err := server.StartHTTPServer(); err != nil {
				b.Logger.Error("Transport HTTP server stopped", err, nil)
			}
		}()
	}

	err := routerRun(b.router, ctx)
	b.loop.Stop()
	return err
}

// Running is closed once the inbound router is consuming.
func (b *Bridge) Running() chan struct{} {
	return b.router.Running()
}

// Close disposes every platform view, resolves pending calls with
// messaging.ErrChannelClosed, stops the loop and closes the transport.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		shutdown := func() {
			if b.views != nil {
				b.views.DisposeAll()
			}
			_ = b.messages.Close()
		}
		started := b.loopStarted.Load()
		if !started {
			// Nothing will ever run the loop; stop it first so reply
			// callbacks fall back to running inline.
			b.loop.Stop()
			shutdown()
		} else {
			if !b.loop.Post(shutdown) {
				shutdown()
			}
			b.loop.Stop()
			<-b.loop.Done()
		}

		var routerErr error
		if started {
			routerErr = b.router.Close()
		}
		transportErr := transport.Transport{Publisher: b.publisher, Subscriber: b.subscriber}.Close()
		b.closeErr = errors.Join(routerErr, transportErr)
	})
	return b.closeErr
}

// Messages returns the message channel to the engine.
func (b *Bridge) Messages() *messaging.Channel {
	return b.messages
}

// MethodChannel returns a method channel named name over the message
// channel. A nil codec means JSON.
func (b *Bridge) MethodChannel(name string, codec method.Codec) (*method.Channel, error) {
	return method.NewChannel(b.messages, name, codec, b.Logger)
}

// Views returns the platform view registry, or nil when the bridge was
// built without PlatformSeams.
func (b *Bridge) Views() *platformview.Registry {
	return b.views
}

// Metrics returns the bridge's collectors.
func (b *Bridge) Metrics() *BridgeMetrics {
	return b.metrics
}

// Capabilities describes the transport in use.
func (b *Bridge) Capabilities() transport.Capabilities {
	return b.caps
}

// Post runs fn on the owning loop. It returns false once the loop stopped.
func (b *Bridge) Post(fn func()) bool {
	return b.loop.Post(fn)
}

// SendPointerEvent encodes batch into one packet and publishes it. A batch
// with no resolvable sample sends nothing.
func (b *Bridge) SendPointerEvent(ctx context.Context, batch pointer.Batch) error {
	msg, ok := pointerMessage(ctx, batch)
	if !ok {
		return nil
	}
	if err := b.caps.CheckSize(len(msg.Payload)); err != nil {
		return err
	}
	if err := b.publisher.Publish(b.Conf.PointerTopic, msg); err != nil {
		return fmt.Errorf("publish pointer packet: %w", err)
	}
	b.metrics.PointerSamplesSent(batch.Resolved())
	return nil
}

// DispatchPointer converts a raw motion event and sends it.
func (b *Bridge) DispatchPointer(ctx context.Context, ev pointer.Event) error {
	return b.SendPointerEvent(ctx, pointer.BatchFromEvent(ev))
}

// SendKeyEvent sends ev on KeyEventChannel without expecting a reply.
func (b *Bridge) SendKeyEvent(ctx context.Context, ev KeyEvent) error {
	payload, err := jsoncodec.Marshal(ev)
	if err != nil {
		return err
	}
	return b.messages.Send(ctx, KeyEventChannel, payload)
}

// PushRoute asks the engine to navigate to route. No reply is expected.
func (b *Bridge) PushRoute(ctx context.Context, route string) error {
	return b.navigation.Invoke(ctx, "pushRoute", route, nil)
}

// PopRoute asks the engine to leave the current route.
func (b *Bridge) PopRoute(ctx context.Context) error {
	return b.navigation.Invoke(ctx, "popRoute", nil, nil)
}

// RunFromSource asks the engine to run the program at mainPath. The start
// runs on the owning loop; the returned future resolves when it returns.
func (b *Bridge) RunFromSource(ctx context.Context, mainPath, packagesPath, assetsDir string) *async.Future[struct{}] {
	if b.engine == nil {
		return async.Resolved(struct{}{}, errspkg.ErrEngineRunnerRequired)
	}
	future := async.NewFuture[struct{}]()
	posted := b.loop.Post(func() {
		started := time.Now()
		err := b.engine.RunFromSource(ctx, mainPath, packagesPath, assetsDir)
		fields := loggingpkg.LogFields{
			"main":        mainPath,
			"packages":    packagesPath,
			"assets":      assetsDir,
			"duration_ms": time.Since(started).Milliseconds(),
		}
		if err != nil {
			b.Logger.Error("Engine failed to run from source", err, fields)
		} else {
			b.Logger.Info("Engine running from source", fields)
		}
		future.Complete(struct{}{}, err)
	})
	if !posted {
		return async.Resolved(struct{}{}, errspkg.ErrLoopStopped)
	}
	return future
}

// RegisterHTTPHandler serves handler at pattern on port once Start runs.
func (b *Bridge) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	if b.httpServers == nil {
		b.httpServers = make(map[int]*http.ServeMux)
	}
	mux, ok := b.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		b.httpServers[port] = mux
	}
	mux.Handle(pattern, handler)
}

func (b *Bridge) startHTTPServers(ctx context.Context) {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	for port, mux := range b.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		b.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
}
