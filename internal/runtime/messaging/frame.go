// Package messaging implements the bidirectional, name-addressed message
// channel between the bridge and the engine, with per-call reply correlation.
package messaging

import (
	"context"
	"errors"
)

// ReplyChannel is the reserved channel name carried by reply frames.
const ReplyChannel = "embedbridge/reply"

var (
	// ErrChannelClosed resolves every call still pending when the channel closes.
	ErrChannelClosed = errors.New("messaging: channel closed")
	// ErrAlreadyResponded is returned by a Responder used more than once.
	ErrAlreadyResponded = errors.New("messaging: reply already sent")
	// ErrReservedChannel rejects sends addressed to ReplyChannel.
	ErrReservedChannel = errors.New("messaging: reply channel is reserved")
)

// Frame is one message crossing the boundary. CorrelationID 0 means no reply
// is expected or possible.
type Frame struct {
	Channel       string
	Payload       []byte
	CorrelationID uint32
}

// IsReply reports whether f answers an earlier call.
func (f Frame) IsReply() bool {
	return f.Channel == ReplyChannel
}

// ExpectsReply reports whether the sender awaits exactly one reply.
func (f Frame) ExpectsReply() bool {
	return !f.IsReply() && f.CorrelationID != 0
}

// Boundary transmits frames to the engine. Implementations must be safe for
// concurrent use.
type Boundary interface {
	SendFrame(ctx context.Context, f Frame) error
}

// BoundaryFunc adapts a function to Boundary.
type BoundaryFunc func(ctx context.Context, f Frame) error

func (fn BoundaryFunc) SendFrame(ctx context.Context, f Frame) error {
	return fn(ctx, f)
}

// Executor marshals work onto the owning goroutine. Post returns false when
// the work was rejected.
type Executor interface {
	Post(fn func()) bool
}

// InlineExecutor runs work immediately on the calling goroutine.
type InlineExecutor struct{}

func (InlineExecutor) Post(fn func()) bool {
	fn()
	return true
}
