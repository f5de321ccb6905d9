package platformview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drblury/embedbridge/internal/runtime/logging"
	"github.com/drblury/embedbridge/internal/runtime/method"
)

// ChannelName is the method channel the engine drives platform views on.
const ChannelName = "embedbridge/platform_views"

const defaultDensityDPI = 160

var (
	ErrUnknownViewType = errors.New("platformview: unknown view type")
	ErrUnknownView     = errors.New("platformview: unknown view id")
	ErrDuplicateView   = errors.New("platformview: view id already in use")
)

// TextureEntry is a texture slot shared with the engine's compositor. Its
// surface is the output surface of every session of one view.
type TextureEntry interface {
	ID() int64
	Surface() Surface
	Release()
}

// SurfaceProducer allocates texture slots.
type SurfaceProducer interface {
	CreateSurfaceTexture() (TextureEntry, error)
}

// ViewFactory builds the content for a view of one registered type.
type ViewFactory func(ctx context.Context, viewID int, params any) (Content, error)

// RegistryConfig wires a Registry to the platform. The display fields are
// passed through to every Host it creates.
type RegistryConfig struct {
	Textures    SurfaceProducer
	Displays    DisplayManager
	Presenter   Presenter
	Executor    Executor
	Clock       Clock
	GracePeriod time.Duration
	DisplayName string
	DensityDPI  int
	Logger      logging.ServiceLogger
	Observer    Observer
}

// ViewInfo describes one live view.
type ViewInfo struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	TextureID int64  `json:"textureId"`
	State     string `json:"state"`
	SessionID string `json:"sessionId,omitempty"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type view struct {
	id       int
	viewType string
	host     *Host
	texture  TextureEntry
	// pendingResize is the method result still waiting for a settle.
	pendingResize method.Result
}

// Registry maps engine view ids to hosts, each backed by its own texture.
type Registry struct {
	cfg    RegistryConfig
	logger logging.ServiceLogger

	mu        sync.Mutex
	factories map[string]ViewFactory
	views     map[int]*view
}

// NewRegistry validates cfg and returns an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Textures == nil {
		return nil, fmt.Errorf("platformview: surface producer is required")
	}
	if cfg.Displays == nil || cfg.Presenter == nil {
		return nil, fmt.Errorf("platformview: display manager and presenter are required")
	}
	if cfg.DensityDPI <= 0 {
		cfg.DensityDPI = defaultDensityDPI
	}
	return &Registry{
		cfg:       cfg,
		logger:    logging.OrNop(cfg.Logger).With(logging.LogFields{"component": "platformview_registry"}),
		factories: make(map[string]ViewFactory),
		views:     make(map[int]*view),
	}, nil
}

// RegisterViewFactory makes viewType creatable. Registering a type twice
// replaces the factory.
func (r *Registry) RegisterViewFactory(viewType string, factory ViewFactory) error {
	if viewType == "" || factory == nil {
		return fmt.Errorf("platformview: view type and factory are required")
	}
	r.mu.Lock()
	r.factories[viewType] = factory
	r.mu.Unlock()
	return nil
}

// Create builds view id of viewType at the given size and returns the id of
// the texture the engine composites it from.
func (r *Registry) Create(ctx context.Context, id int, viewType string, width, height int, params any) (int64, error) {
	r.mu.Lock()
	factory, ok := r.factories[viewType]
	_, exists := r.views[id]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownViewType, viewType)
	}
	if exists {
		return 0, fmt.Errorf("%w: %d", ErrDuplicateView, id)
	}

	texture, err := r.cfg.Textures.CreateSurfaceTexture()
	if err != nil {
		return 0, fmt.Errorf("platformview: allocate texture: %w", err)
	}
	host, err := NewHost(HostConfig{
		Displays:    r.cfg.Displays,
		Presenter:   r.cfg.Presenter,
		Executor:    r.cfg.Executor,
		Clock:       r.cfg.Clock,
		GracePeriod: r.cfg.GracePeriod,
		DisplayName: r.cfg.DisplayName,
		Label:       viewType,
		Logger:      r.cfg.Logger,
		Observer:    r.cfg.Observer,
	})
	if err != nil {
		texture.Release()
		return 0, err
	}
	_, err = host.Attach(ctx, texture.Surface(), width, height, r.cfg.DensityDPI, func(ctx context.Context) (Content, error) {
		return factory(ctx, id, params)
	})
	if err != nil {
		texture.Release()
		return 0, err
	}

	r.mu.Lock()
	if _, exists := r.views[id]; exists {
		r.mu.Unlock()
		disposeContent(host.Dispose())
		texture.Release()
		return 0, fmt.Errorf("%w: %d", ErrDuplicateView, id)
	}
	r.views[id] = &view{id: id, viewType: viewType, host: host, texture: texture}
	r.mu.Unlock()

	r.logger.Info("Platform view created", logging.LogFields{
		"view_id":    id,
		"view_type":  viewType,
		"texture_id": texture.ID(),
	})
	return texture.ID(), nil
}

// Resize resizes view id. onSettled runs once the new size is visible,
// unless a later resize or dispose of the same view supersedes it.
func (r *Registry) Resize(id, width, height int, onSettled func()) error {
	v, err := r.lookup(id)
	if err != nil {
		return err
	}
	return v.host.Resize(width, height, onSettled)
}

// Dispose tears view id down, disposes its content and frees its texture.
func (r *Registry) Dispose(id int) error {
	r.mu.Lock()
	v, ok := r.views[id]
	if ok {
		delete(r.views, id)
	}
	var pending method.Result
	if ok {
		pending = v.pendingResize
		v.pendingResize = nil
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownView, id)
	}

	disposeContent(v.host.Dispose())
	v.texture.Release()
	if pending != nil {
		_ = pending.Error("disposed", "view was disposed before the resize settled", nil)
	}
	r.logger.Info("Platform view disposed", logging.LogFields{"view_id": id})
	return nil
}

// DisposeAll disposes every live view.
func (r *Registry) DisposeAll() {
	for _, info := range r.Views() {
		_ = r.Dispose(info.ID)
	}
}

// Views lists live views ordered by id.
func (r *Registry) Views() []ViewInfo {
	r.mu.Lock()
	views := make([]*view, 0, len(r.views))
	for _, v := range r.views {
		views = append(views, v)
	}
	r.mu.Unlock()

	out := make([]ViewInfo, 0, len(views))
	for _, v := range views {
		info := ViewInfo{
			ID:        v.id,
			Type:      v.viewType,
			TextureID: v.texture.ID(),
			State:     v.host.State().String(),
		}
		if s, ok := v.host.Session(); ok {
			info.SessionID = s.ID
			info.Width = s.Width
			info.Height = s.Height
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Content returns the content currently presented by view id.
func (r *Registry) Content(id int) Content {
	v, err := r.lookup(id)
	if err != nil {
		return nil
	}
	return v.host.CurrentContent()
}

// Bind serves create, resize and dispose calls on ch.
// A resize is answered once the new size has settled; a superseded resize
// is answered with a "superseded" error.
func (r *Registry) Bind(ch *method.Channel) {
	ch.SetCallHandler(func(ctx context.Context, call method.Call, res method.Result) {
		switch call.Method {
		case "create":
			r.handleCreate(ctx, call, res)
		case "resize":
			r.handleResize(call, res)
		case "dispose":
			id, err := call.Int("id")
			if err != nil {
				_ = res.Error("bad_arguments", err.Error(), nil)
				return
			}
			if err := r.Dispose(id); err != nil {
				_ = res.Error(errorCode(err), err.Error(), nil)
				return
			}
			_ = res.Success(nil)
		default:
			_ = res.NotImplemented()
		}
	})
}

func (r *Registry) handleCreate(ctx context.Context, call method.Call, res method.Result) {
	id, err := call.Int("id")
	if err != nil {
		_ = res.Error("bad_arguments", err.Error(), nil)
		return
	}
	viewType, err := call.String("viewType")
	if err != nil {
		_ = res.Error("bad_arguments", err.Error(), nil)
		return
	}
	width, err := call.Int("width")
	if err != nil {
		_ = res.Error("bad_arguments", err.Error(), nil)
		return
	}
	height, err := call.Int("height")
	if err != nil {
		_ = res.Error("bad_arguments", err.Error(), nil)
		return
	}
	params, _ := call.Argument("params")

	textureID, err := r.Create(ctx, id, viewType, width, height, params)
	if err != nil {
		r.logger.Error("Platform view creation failed", err, logging.LogFields{"view_id": id, "view_type": viewType})
		_ = res.Error(errorCode(err), err.Error(), nil)
		return
	}
	_ = res.Success(textureID)
}

func (r *Registry) handleResize(call method.Call, res method.Result) {
	id, err := call.Int("id")
	if err != nil {
		_ = res.Error("bad_arguments", err.Error(), nil)
		return
	}
	width, err := call.Int("width")
	if err != nil {
		_ = res.Error("bad_arguments", err.Error(), nil)
		return
	}
	height, err := call.Int("height")
	if err != nil {
		_ = res.Error("bad_arguments", err.Error(), nil)
		return
	}

	r.mu.Lock()
	v, ok := r.views[id]
	var superseded method.Result
	if ok {
		superseded = v.pendingResize
		v.pendingResize = res
	}
	r.mu.Unlock()
	if !ok {
		_ = res.Error(errorCode(ErrUnknownView), fmt.Sprintf("%v: %d", ErrUnknownView, id), nil)
		return
	}
	if superseded != nil {
		_ = superseded.Error("superseded", "a later resize replaced this one", nil)
	}

	err = v.host.Resize(width, height, func() {
		if r.takePending(v, res) {
			_ = res.Success(nil)
		}
	})
	if err != nil && r.takePending(v, res) {
		_ = res.Error(errorCode(err), err.Error(), nil)
	}
}

// takePending clears v's pending resize if it is still res.
func (r *Registry) takePending(v *view, res method.Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.pendingResize != res {
		return false
	}
	v.pendingResize = nil
	return true
}

func (r *Registry) lookup(id int) (*view, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownView, id)
	}
	return v, nil
}

func disposeContent(c Content) {
	if d, ok := c.(interface{ Dispose() }); ok {
		d.Dispose()
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrDisplayUnavailable):
		return "display_unavailable"
	case errors.Is(err, ErrUnknownViewType):
		return "unknown_view_type"
	case errors.Is(err, ErrUnknownView):
		return "unknown_view"
	case errors.Is(err, ErrDuplicateView):
		return "duplicate_view"
	case errors.Is(err, ErrInvalidSize):
		return "invalid_size"
	case errors.Is(err, ErrDisposed):
		return "disposed"
	case errors.Is(err, ErrContentDetached):
		return "content_detached"
	default:
		var cerr *CreationError
		if errors.As(err, &cerr) {
			return "creation_failed"
		}
		return "error"
	}
}
