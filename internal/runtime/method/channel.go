package method

import (
	"context"
	"fmt"

	"github.com/drblury/embedbridge/internal/runtime/async"
	errspkg "github.com/drblury/embedbridge/internal/runtime/errors"
	"github.com/drblury/embedbridge/internal/runtime/logging"
	"github.com/drblury/embedbridge/internal/runtime/messaging"
)

// ResultFunc receives an invocation's outcome: the success value, a *Error,
// ErrNotImplemented or messaging.ErrChannelClosed.
type ResultFunc func(result any, err error)

// Result answers one inbound call. Only the first method called has an
// effect; later calls return messaging.ErrAlreadyResponded.
type Result interface {
	Success(result any) error
	Error(code, message string, details any) error
	NotImplemented() error
}

// CallHandler handles inbound calls. It may answer r at any later point.
type CallHandler func(ctx context.Context, call Call, r Result)

// Channel is a named method channel on top of a message channel.
type Channel struct {
	name   string
	msgs   *messaging.Channel
	codec  Codec
	logger logging.ServiceLogger
}

// NewChannel binds name on msgs. A nil codec selects JSONCodec.
func NewChannel(msgs *messaging.Channel, name string, codec Codec, logger logging.ServiceLogger) (*Channel, error) {
	if msgs == nil {
		return nil, errspkg.ErrBridgeRequired
	}
	if name == "" {
		return nil, errspkg.ErrChannelNameRequired
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Channel{
		name:   name,
		msgs:   msgs,
		codec:  codec,
		logger: logging.OrNop(logger).With(logging.LogFields{"method_channel": name}),
	}, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Invoke calls method on the peer. cb runs once on the owning executor.
// A returned error means cb will not run.
func (c *Channel) Invoke(ctx context.Context, method string, args any, cb ResultFunc) error {
	payload, err := c.codec.EncodeCall(Call{Method: method, Arguments: args})
	if err != nil {
		return err
	}
	if cb == nil {
		return c.msgs.Send(ctx, c.name, payload)
	}
	return c.msgs.Call(ctx, c.name, payload, func(reply []byte, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		cb(c.codec.DecodeResult(reply))
	})
}

// InvokeFuture is Invoke returning a future.
func (c *Channel) InvokeFuture(ctx context.Context, method string, args any) *async.Future[any] {
	f := async.NewFuture[any]()
	if err := c.Invoke(ctx, method, args, func(result any, err error) {
		f.Complete(result, err)
	}); err != nil {
		f.Complete(nil, err)
	}
	return f
}

// SetCallHandler installs h for inbound calls, replacing any previous
// handler. A nil h unregisters, after which calls are answered "not
// implemented".
func (c *Channel) SetCallHandler(h CallHandler) {
	if h == nil {
		c.msgs.SetAsyncHandler(c.name, nil)
		return
	}
	c.msgs.SetAsyncHandler(c.name, func(ctx context.Context, payload []byte, r messaging.Responder) {
		res := &result{codec: c.codec, responder: r, logger: c.logger}
		call, err := c.codec.DecodeCall(payload)
		if err != nil {
			c.logger.Error("Dropping malformed method call", err, nil)
			_ = res.Error("malformed_call", err.Error(), nil)
			return
		}
		h(ctx, call, res)
	})
}

type result struct {
	codec     Codec
	responder messaging.Responder
	logger    logging.ServiceLogger
}

func (r *result) Success(value any) error {
	payload, err := r.codec.EncodeSuccess(value)
	if err != nil {
		r.logger.Error("Failed to encode method result", err, nil)
		return r.Error("encode_failed", err.Error(), nil)
	}
	return r.responder.Respond(payload)
}

func (r *result) Error(code, message string, details any) error {
	payload, err := r.codec.EncodeError(&Error{Code: code, Message: message, Details: details})
	if err != nil {
		return fmt.Errorf("method: encode error envelope: %w", err)
	}
	return r.responder.Respond(payload)
}

func (r *result) NotImplemented() error {
	return r.responder.Respond(nil)
}
