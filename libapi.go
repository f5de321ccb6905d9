package embedbridge

import (
	runtimepkg "github.com/drblury/embedbridge/internal/runtime"
	"github.com/drblury/embedbridge/internal/runtime/async"
	configpkg "github.com/drblury/embedbridge/internal/runtime/config"
	errspkg "github.com/drblury/embedbridge/internal/runtime/errors"
	idspkg "github.com/drblury/embedbridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/embedbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/embedbridge/internal/runtime/logging"
	"github.com/drblury/embedbridge/internal/runtime/messaging"
	"github.com/drblury/embedbridge/internal/runtime/method"
	"github.com/drblury/embedbridge/internal/runtime/platformview"
	"github.com/drblury/embedbridge/internal/runtime/pointer"
	transportpkg "github.com/drblury/embedbridge/internal/runtime/transport"
	newtransport "github.com/drblury/embedbridge/transport"
)

type (
	Config             = configpkg.Config
	Bridge             = runtimepkg.Bridge
	BridgeDependencies = runtimepkg.BridgeDependencies
	PlatformSeams      = runtimepkg.PlatformSeams
	EngineRunner       = runtimepkg.EngineRunner
	EngineRunnerFunc   = runtimepkg.EngineRunnerFunc
	KeyEvent           = runtimepkg.KeyEvent
	Transport          = transportpkg.Transport
	TransportFactory   = transportpkg.Factory

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Frame lifecycle hooks
	FrameContext = runtimepkg.FrameContext
	FrameHooks   = runtimepkg.FrameHooks

	// Introspection
	BridgeMetrics    = runtimepkg.BridgeMetrics
	ChannelStats     = runtimepkg.ChannelStats
	Latency          = runtimepkg.Latency
	ChannelsResponse = runtimepkg.ChannelsResponse

	LogFields             = loggingpkg.LogFields
	ServiceLogger         = loggingpkg.ServiceLogger
	ConfigValidationError = errspkg.ConfigValidationError

	// Message channel
	Frame          = messaging.Frame
	MessageChannel = messaging.Channel
	MessageHandler = messaging.Handler
	AsyncHandler   = messaging.AsyncHandler
	Responder      = messaging.Responder
	ReplyFunc      = messaging.ReplyFunc

	// Method channel
	MethodChannel = method.Channel
	MethodCall    = method.Call
	MethodResult  = method.Result
	MethodCodec   = method.Codec
	MethodError   = method.Error
	JSONCodec     = method.JSONCodec
	ProtoCodec    = method.ProtoCodec

	// Pointer events
	PointerEvent   = pointer.Event
	PointerContact = pointer.Contact
	PointerAction  = pointer.Action
	PointerTool    = pointer.ToolType
	PointerBatch   = pointer.Batch
	PointerSample  = pointer.Sample
	PointerRecord  = pointer.Record
	PointerChange  = pointer.Change
	DeviceKind     = pointer.DeviceKind

	// Platform views
	ViewContent       = platformview.Content
	ViewFactory       = platformview.ViewFactory
	ViewInfo          = platformview.ViewInfo
	ViewRegistry      = platformview.Registry
	ViewHost          = platformview.Host
	ViewHostConfig    = platformview.HostConfig
	ViewSession       = platformview.Session
	DrawObservable    = platformview.DrawObservable
	Surface           = platformview.Surface
	SurfaceProducer   = platformview.SurfaceProducer
	TextureEntry      = platformview.TextureEntry
	DisplayManager    = platformview.DisplayManager
	VirtualDisplay    = platformview.VirtualDisplay
	Presenter         = platformview.Presenter
	Presentation      = platformview.Presentation
	Clock             = platformview.Clock
	ViewCreationError = platformview.CreationError

	// Transport capabilities
	Capabilities = newtransport.Capabilities

	// Modular transport registry
	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry
)

// Future is the result of an asynchronous bridge operation.
type Future[T any] = async.Future[T]

var (
	NewBridge      = runtimepkg.NewBridge
	TryNewBridge   = runtimepkg.TryNewBridge
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.LoadFile
	SaveConfig     = configpkg.Save

	DefaultMiddlewares    = runtimepkg.DefaultMiddlewares
	LogFramesMiddleware   = runtimepkg.LogFramesMiddleware
	TracerMiddleware      = runtimepkg.TracerMiddleware
	MetricsMiddleware     = runtimepkg.MetricsMiddleware
	RecovererMiddleware   = runtimepkg.RecovererMiddleware
	FrameHooksMiddleware  = runtimepkg.FrameHooksMiddleware
	LoggingHooks          = runtimepkg.LoggingHooks
	NewBridgeMetrics      = runtimepkg.NewBridgeMetrics
	DefaultTransport      = transportpkg.DefaultFactory
	RegistryTransport     = transportpkg.RegistryFactory
	StaticTransport       = transportpkg.StaticFactory
	NewPlatformViewHost   = platformview.NewHost
	EncodePointerBatch    = pointer.Encode
	DecodePointerPacket   = pointer.Decode
	PointerBatchFromEvent = pointer.BatchFromEvent

	// Transport capabilities
	GetCapabilities = newtransport.GetCapabilities

	// Modular transport registry. Built-in transports register themselves;
	// custom ones via RegisterTransport.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrEngineRunnerRequired = errspkg.ErrEngineRunnerRequired
	ErrLoopStopped          = errspkg.ErrLoopStopped
	ErrChannelClosed        = messaging.ErrChannelClosed
	ErrAlreadyResponded     = messaging.ErrAlreadyResponded
	ErrReservedChannel      = messaging.ErrReservedChannel
	ErrNotImplemented       = method.ErrNotImplemented
	ErrShortPacket          = pointer.ErrShortPacket
	ErrDisplayUnavailable   = platformview.ErrDisplayUnavailable
	ErrUnknownViewType      = platformview.ErrUnknownViewType
	ErrUnknownView          = platformview.ErrUnknownView

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	CreateULID = idspkg.CreateULID
)

// Reserved channel names.
const (
	ReplyChannel        = messaging.ReplyChannel
	KeyEventChannel     = runtimepkg.KeyEventChannel
	NavigationChannel   = runtimepkg.NavigationChannel
	PlatformViewChannel = platformview.ChannelName
)

// Pointer packet layout.
const (
	PointerFieldCount    = pointer.FieldCount
	PointerBytesPerField = pointer.BytesPerField
	PointerSampleSize    = pointer.SampleSize
)

// DefaultSettleGracePeriod is waited after the first draw following a
// resize before the resize is reported as settled.
const DefaultSettleGracePeriod = platformview.DefaultSettleGracePeriod

// Pointer actions and tools.
const (
	ActionDown        = pointer.ActionDown
	ActionUp          = pointer.ActionUp
	ActionMove        = pointer.ActionMove
	ActionCancel      = pointer.ActionCancel
	ActionPointerDown = pointer.ActionPointerDown
	ActionPointerUp   = pointer.ActionPointerUp
	ActionHoverMove   = pointer.ActionHoverMove

	ToolFinger = pointer.ToolFinger
	ToolStylus = pointer.ToolStylus
	ToolMouse  = pointer.ToolMouse
	ToolEraser = pointer.ToolEraser
)
