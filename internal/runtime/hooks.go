package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/embedbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/embedbridge/internal/runtime/metadata"
)

// FrameContext describes one inbound frame to hooks.
type FrameContext struct {
	// Channel is the addressed message channel, or ReplyChannel for replies.
	Channel string
	// CorrelationID is 0 when no reply is expected.
	CorrelationID uint32
	MessageUUID   string
	Metadata      message.Metadata
	Context       context.Context
	StartedAt     time.Time
	// Duration is set for OnFrameDone and OnFrameError.
	Duration time.Duration
}

// FrameHooks are callbacks around inbound frame handling. Nil hooks are
// skipped. Hooks run on router goroutines, before the frame reaches the
// owning loop.
type FrameHooks struct {
	OnFrameStart func(ctx FrameContext)
	OnFrameDone  func(ctx FrameContext)
	OnFrameError func(ctx FrameContext, err error)
}

func (h FrameHooks) empty() bool {
	return h.OnFrameStart == nil && h.OnFrameDone == nil && h.OnFrameError == nil
}

// Merge returns hooks that call h first, then other.
func (h FrameHooks) Merge(other FrameHooks) FrameHooks {
	return FrameHooks{
		OnFrameStart: chainHooks(h.OnFrameStart, other.OnFrameStart),
		OnFrameDone:  chainHooks(h.OnFrameDone, other.OnFrameDone),
		OnFrameError: chainErrorHooks(h.OnFrameError, other.OnFrameError),
	}
}

func chainHooks(a, b func(FrameContext)) func(FrameContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx FrameContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(FrameContext, error)) func(FrameContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx FrameContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// FrameHooksMiddleware invokes hooks around every inbound frame.
func FrameHooksMiddleware(hooks FrameHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "frame_hooks",
		Middleware: frameHooksMiddleware(hooks),
	}
}

func frameHooksMiddleware(hooks FrameHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			headers := metadatapkg.FromWatermill(msg.Metadata)
			id, _ := headers.CorrelationID()
			fc := FrameContext{
				Channel:       headers.Channel(),
				CorrelationID: id,
				MessageUUID:   msg.UUID,
				Metadata:      msg.Metadata,
				Context:       msg.Context(),
				StartedAt:     time.Now(),
			}

			if hooks.OnFrameStart != nil {
				hooks.OnFrameStart(fc)
			}

			msgs, err := h(msg)
			fc.Duration = time.Since(fc.StartedAt)

			if err != nil {
				if hooks.OnFrameError != nil {
					hooks.OnFrameError(fc, err)
				}
			} else if hooks.OnFrameDone != nil {
				hooks.OnFrameDone(fc)
			}
			return msgs, err
		}
	}
}

// LoggingHooks logs frame handling at debug level and failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) FrameHooks {
	logger = loggingpkg.OrNop(logger)
	return FrameHooks{
		OnFrameStart: func(ctx FrameContext) {
			logger.Debug("Frame received", loggingpkg.LogFields{
				"channel":        ctx.Channel,
				"correlation_id": ctx.CorrelationID,
				"message_uuid":   ctx.MessageUUID,
			})
		},
		OnFrameDone: func(ctx FrameContext) {
			logger.Debug("Frame handed to loop", loggingpkg.LogFields{
				"channel":      ctx.Channel,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnFrameError: func(ctx FrameContext, err error) {
			logger.Error("Frame handling failed", err, loggingpkg.LogFields{
				"channel":        ctx.Channel,
				"correlation_id": ctx.CorrelationID,
				"message_uuid":   ctx.MessageUUID,
			})
		},
	}
}
