package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/embedbridge/internal/runtime/async"
	errspkg "github.com/drblury/embedbridge/internal/runtime/errors"
	"github.com/drblury/embedbridge/internal/runtime/logging"
)

const tracerName = "github.com/drblury/embedbridge/messaging"

// Handler answers an inbound message synchronously. A nil return means
// "no response".
type Handler func(ctx context.Context, payload []byte) []byte

// AsyncHandler answers an inbound message through r, at any later point or
// never.
type AsyncHandler func(ctx context.Context, payload []byte, r Responder)

// ReplyFunc receives the single resolution of a call: the reply payload, or
// ErrChannelClosed.
type ReplyFunc func(payload []byte, err error)

// Responder sends the reply to one inbound message. Only the first Respond
// has an effect.
type Responder interface {
	Respond(payload []byte) error
}

type pendingReply struct {
	channel string
	reply   ReplyFunc
	started time.Time
	span    trace.Span
}

type handlerEntry struct {
	sync  Handler
	async AsyncHandler
}

// Channel is one message channel instance. Correlation ids and the pending
// reply table belong to the instance; channels never share them.
//
// Inbound frames and reply continuations run on the Executor. Send, Call and
// the handler setters are safe from any goroutine.
type Channel struct {
	boundary Boundary
	exec     Executor
	logger   logging.ServiceLogger
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.Mutex
	nextID   uint32
	pending  map[uint32]*pendingReply
	handlers map[string]handlerEntry
	closed   bool
}

// Option configures a Channel.
type Option func(*Channel)

// WithExecutor sets the owning executor. Defaults to InlineExecutor.
func WithExecutor(exec Executor) Option {
	return func(c *Channel) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger sets the channel logger.
func WithLogger(logger logging.ServiceLogger) Option {
	return func(c *Channel) {
		c.logger = logging.OrNop(logger)
	}
}

// WithObserver reports channel events to o.
func WithObserver(o Observer) Option {
	return func(c *Channel) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Channel) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewChannel creates a channel that transmits through boundary.
func NewChannel(boundary Boundary, opts ...Option) (*Channel, error) {
	if boundary == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	c := &Channel{
		boundary: boundary,
		exec:     InlineExecutor{},
		logger:   logging.NopLogger(),
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		nextID:   1,
		pending:  make(map[uint32]*pendingReply),
		handlers: make(map[string]handlerEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.LogFields{"component": "messaging"})
	return c, nil
}

// Send transmits payload on channel without expecting a reply.
func (c *Channel) Send(ctx context.Context, channel string, payload []byte) error {
	if err := validateName(channel); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrChannelClosed
	}
	return c.transmit(ctx, Frame{Channel: channel, Payload: payload})
}

// Call transmits payload on channel and returns as soon as the frame is
// handed to the boundary. reply later runs exactly once on the executor,
// with the reply payload or with ErrChannelClosed.
//
// If Call returns an error, that error is the call's resolution and reply
// is never invoked.
func (c *Channel) Call(ctx context.Context, channel string, payload []byte, reply ReplyFunc) error {
	if err := validateName(channel); err != nil {
		return err
	}
	if reply == nil {
		return c.Send(ctx, channel, payload)
	}

	ctx, span := c.tracer.Start(ctx, "messaging.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("messaging.channel", channel)),
	)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		span.SetStatus(codes.Error, ErrChannelClosed.Error())
		span.End()
		return ErrChannelClosed
	}
	id := c.allocateIDLocked()
	c.pending[id] = &pendingReply{channel: channel, reply: reply, started: c.now(), span: span}
	pendingCount := len(c.pending)
	c.mu.Unlock()

	span.SetAttributes(attribute.Int64("messaging.correlation_id", int64(id)))
	c.observer.PendingChanged(pendingCount)

	err := c.transmit(ctx, Frame{Channel: channel, Payload: payload, CorrelationID: id})
	if err == nil {
		return nil
	}

	p, removed := c.take(id)
	if !removed {
		// Close already resolved this call.
		c.logger.Error("Call transmit failed after channel closed", err, logging.LogFields{
			"channel":        channel,
			"correlation_id": id,
		})
		return nil
	}
	c.finish(p, ResolvedBySendFailure, err)
	return err
}

// CallFuture is Call returning a future that resolves with the reply.
func (c *Channel) CallFuture(ctx context.Context, channel string, payload []byte) *async.Future[[]byte] {
	f := async.NewFuture[[]byte]()
	if err := c.Call(ctx, channel, payload, func(reply []byte, err error) {
		f.Complete(reply, err)
	}); err != nil {
		f.Complete(nil, err)
	}
	return f
}

// SetHandler registers h for inbound messages on channel, replacing any
// handler of either shape. A nil h unregisters.
func (c *Channel) SetHandler(channel string, h Handler) {
	c.setHandler(channel, handlerEntry{sync: h})
}

// SetAsyncHandler registers h for inbound messages on channel, replacing any
// handler of either shape. A nil h unregisters.
func (c *Channel) SetAsyncHandler(channel string, h AsyncHandler) {
	c.setHandler(channel, handlerEntry{async: h})
}

func (c *Channel) setHandler(channel string, entry handlerEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.sync == nil && entry.async == nil {
		delete(c.handlers, channel)
		return
	}
	c.handlers[channel] = entry
}

// Handlers returns the names with a registered handler, sorted.
func (c *Channel) Handlers() []string {
	c.mu.Lock()
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)
	return names
}

// Pending returns the number of calls awaiting a reply.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Deliver marshals an inbound frame onto the executor. It is safe from any
// goroutine and returns false if the executor rejected the frame.
func (c *Channel) Deliver(ctx context.Context, f Frame) bool {
	ctx = context.WithoutCancel(ctx)
	return c.exec.Post(func() {
		c.HandleFrame(ctx, f)
	})
}

// HandleFrame dispatches an inbound frame. It must run on the owning
// goroutine; Deliver arranges that.
func (c *Channel) HandleFrame(ctx context.Context, f Frame) {
	c.observer.FrameReceived(f.Channel, len(f.Payload))
	if f.IsReply() {
		c.resolve(f.CorrelationID, f.Payload)
		return
	}

	c.mu.Lock()
	entry, ok := c.handlers[f.Channel]
	closed := c.closed
	c.mu.Unlock()

	if !ok || closed {
		c.logger.Debug("No handler for inbound message", logging.LogFields{
			"channel":        f.Channel,
			"correlation_id": f.CorrelationID,
		})
		if f.ExpectsReply() {
			c.sendReply(ctx, f.CorrelationID, nil)
		}
		return
	}

	r := &responder{channel: c, ctx: ctx, id: f.CorrelationID}
	if entry.async != nil {
		c.runAsync(ctx, entry.async, f, r)
		return
	}
	c.runSync(ctx, entry.sync, f, r)
}

func (c *Channel) runSync(ctx context.Context, h Handler, f Frame, r *responder) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Message handler panicked", fmt.Errorf("panic: %v", rec), logging.LogFields{"channel": f.Channel})
			_ = r.Respond(nil)
		}
	}()
	_ = r.Respond(h(ctx, f.Payload))
}

func (c *Channel) runAsync(ctx context.Context, h AsyncHandler, f Frame, r *responder) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Async message handler panicked", fmt.Errorf("panic: %v", rec), logging.LogFields{"channel": f.Channel})
			_ = r.Respond(nil)
		}
	}()
	h(ctx, f.Payload, r)
}

// Close resolves every pending call with ErrChannelClosed. Later calls fail
// with ErrChannelClosed and inbound messages get "no response". Close is
// idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	drained := c.pending
	c.pending = make(map[uint32]*pendingReply)
	c.mu.Unlock()

	ids := make([]uint32, 0, len(drained))
	for id := range drained {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c.observer.PendingChanged(0)
	for _, id := range ids {
		p := drained[id]
		c.onOwner(func() { c.finish(p, ResolvedByClose, ErrChannelClosed) })
	}
	if len(ids) > 0 {
		c.logger.Info("Channel closed with pending calls", logging.LogFields{"pending": len(ids)})
	}
	return nil
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// allocateIDLocked returns the next free id, skipping 0 and ids still pending
// after wraparound.
func (c *Channel) allocateIDLocked() uint32 {
	for {
		id := c.nextID
		c.nextID++
		if c.nextID == 0 {
			c.nextID = 1
		}
		if _, busy := c.pending[id]; !busy && id != 0 {
			return id
		}
	}
}

func (c *Channel) take(id uint32) (*pendingReply, bool) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	pendingCount := len(c.pending)
	c.mu.Unlock()
	if ok {
		c.observer.PendingChanged(pendingCount)
	}
	return p, ok
}

func (c *Channel) resolve(id uint32, payload []byte) {
	p, ok := c.take(id)
	if !ok {
		c.logger.Debug("Ignoring reply for unknown correlation id", logging.LogFields{"correlation_id": id})
		c.observer.ReplyUnmatched(id)
		return
	}
	c.finish(p, ResolvedByReply, nil)
	p.reply(payload, nil)
}

// finish records the outcome. For close the continuation runs here too.
func (c *Channel) finish(p *pendingReply, how Resolution, err error) {
	c.observer.CallResolved(p.channel, how, c.now().Sub(p.started))
	if err != nil {
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, err.Error())
	}
	p.span.SetAttributes(attribute.String("messaging.resolution", string(how)))
	p.span.End()
	if how == ResolvedByClose {
		p.reply(nil, err)
	}
}

func (c *Channel) onOwner(fn func()) {
	if !c.exec.Post(fn) {
		fn()
	}
}

func (c *Channel) transmit(ctx context.Context, f Frame) error {
	if err := c.boundary.SendFrame(ctx, f); err != nil {
		return fmt.Errorf("messaging: send on %q: %w", f.Channel, err)
	}
	c.observer.FrameSent(f.Channel, len(f.Payload))
	return nil
}

func (c *Channel) sendReply(ctx context.Context, id uint32, payload []byte) {
	if err := c.transmit(ctx, Frame{Channel: ReplyChannel, Payload: payload, CorrelationID: id}); err != nil {
		c.logger.Error("Failed to send reply", err, logging.LogFields{"correlation_id": id})
	}
}

func validateName(channel string) error {
	if channel == "" {
		return errspkg.ErrChannelNameRequired
	}
	if channel == ReplyChannel {
		return ErrReservedChannel
	}
	return nil
}

type responder struct {
	channel *Channel
	ctx     context.Context
	id      uint32
	used    atomic.Bool
}

func (r *responder) Respond(payload []byte) error {
	if !r.used.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	if r.id == 0 {
		return nil
	}
	r.channel.sendReply(r.ctx, r.id, payload)
	return nil
}
