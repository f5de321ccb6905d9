package runtime

import (
	"errors"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/embedbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/embedbridge/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a router middleware for a bridge. Returning a
// nil middleware skips registration.
type MiddlewareBuilder func(*Bridge) (message.HandlerMiddleware, error)

// MiddlewareRegistration describes a middleware for the inbound router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard inbound middleware chain.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		LogFramesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// LogFramesMiddleware logs every inbound frame's headers at debug level.
// Payloads are opaque and not logged.
func LogFramesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_frames",
		Builder: func(b *Bridge) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = b.Logger
			}
			if l == nil {
				return nil, errors.New("log frames middleware requires a logger")
			}
			return logFramesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps inbound frame handling in a span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(b *Bridge) (message.HandlerMiddleware, error) {
			return tracerMiddleware(b.tracer), nil
		},
	}
}

// MetricsMiddleware registers the bridge collectors and Watermill's router
// and publisher metrics, and serves /metrics on the configured port. It is a
// no-op unless metrics are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(b *Bridge) (message.HandlerMiddleware, error) {
			if !b.Conf.MetricsEnabled {
				return nil, nil
			}
			if err := b.metrics.Register(); err != nil {
				return nil, err
			}

			builder := metrics.NewPrometheusMetricsBuilder(b.registerer, metricsNamespace, b.Conf.PubSubSystem)
			builder.AddPrometheusRouterMetrics(b.router)

			decorated, err := builder.DecoratePublisher(b.publisher)
			if err != nil {
				return nil, err
			}
			b.publisher = decorated

			if b.Conf.MetricsPort > 0 {
				b.RegisterHTTPHandler(b.Conf.MetricsPort, "/metrics", metricsHandler(b.registerer))
			}
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// RecovererMiddleware turns handler panics into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches cfg to the inbound router.
func (b *Bridge) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if b.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(b)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}
	b.router.AddMiddleware(mw)
	return nil
}

func metricsHandler(registerer prometheus.Registerer) http.Handler {
	if gatherer, ok := registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func logFramesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing inbound frame", loggingpkg.LogFields{
				"message_uuid":  msg.UUID,
				"payload_bytes": len(msg.Payload),
				"metadata":      msg.Metadata,
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(tracer trace.Tracer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			headers := metadatapkg.FromWatermill(msg.Metadata)
			ctx, span := tracer.Start(msg.Context(), "embedbridge.inbound_frame",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("message.uuid", msg.UUID),
					attribute.String("embedbridge.channel", headers.Channel()),
					attribute.String("embedbridge.correlation_id", headers[metadatapkg.KeyCorrelationID]),
					attribute.Int("embedbridge.payload_bytes", len(msg.Payload)),
				),
			)
			defer span.End()
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
			}
			return msgs, err
		}
	}
}
