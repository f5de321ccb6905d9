// Package embedbridge connects a host process to an embedded UI engine. It
// carries three kinds of traffic across the engine boundary on a Watermill
// transport (Go channels, Kafka, RabbitMQ, NATS, AWS SNS/SQS, HTTP or a
// frame log file, picked by Config.PubSubSystem):
//
//   - pointer packets: raw motion events flattened into fixed-size,
//     little-endian sample records;
//   - named messages: byte payloads with optional replies matched by
//     correlation id, plus method calls layered on top;
//   - platform view control: the engine creates, resizes and disposes native
//     views rendered into virtual displays, and resize replies are held until
//     the view has drawn at its new size.
//
// A Bridge owns one event loop. Every handler, reply callback and settle
// callback runs on that loop, so host code never sees concurrent callbacks.
// A minimal setup fills Config, calls NewBridge, registers handlers on
// Bridge.Messages and calls Start.
//
// # Transports
//
// Built-in transports register themselves in DefaultTransportRegistry:
//   - channel: in-process Go channels, for tests and single-process embedding
//   - kafka: partition-ordered frames over a broker
//   - rabbitmq: AMQP durable queues
//   - nats: low-latency delivery without an ordering guarantee
//   - aws: SNS topics fanned out to SQS queues, LocalStack supported
//   - http: frames POSTed to the engine's HTTP endpoint
//   - io: frames appended to and tailed from a JSON lines file
//
// Capabilities reports whether the chosen transport preserves frame order
// and the largest payload it carries. Frames that exceed it fail at send
// time rather than being truncated.
//
// # Middleware
//
// Inbound frames pass through a Watermill router. The default chain logs
// frame headers, opens an OpenTelemetry span, records Prometheus metrics
// when enabled and recovers handler panics. FrameHooks add OnFrameStart,
// OnFrameDone and OnFrameError callbacks without writing a middleware.
//
// # Introspection
//
// With WebUIEnabled the bridge serves /api/channels and /api/views as JSON,
// and with MetricsEnabled it serves /metrics on MetricsPort.
package embedbridge
