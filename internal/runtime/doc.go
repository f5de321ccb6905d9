/*
Package runtime wires the engine bridge: the owning loop, the message
channel to the engine, pointer packets, key events and platform views, all
carried over a Watermill transport.

# Boundary

Frames leave on Config.OutboundTopic and arrive on Config.InboundTopic as
Watermill messages. The addressed channel and correlation id travel in
metadata; payloads are opaque. Pointer packets go to Config.PointerTopic.
Inbound messages pass through a router middleware chain (logging, tracing,
metrics, recovery, optional FrameHooks) and are then handed to the owning
loop, where message handlers, reply callbacks and platform view settle
callbacks run.

# Platform views

When PlatformSeams are supplied, a platformview.Registry answers the
platform view method channel (create, resize, dispose). Resize replies are
sent only once the view settled.

# Monitoring

BridgeMetrics exports Prometheus collectors and per-channel counters. With
the web UI enabled, /api/channels and /api/views expose them as JSON.

# Usage

	conf := &config.Config{PubSubSystem: "nats", NATSURL: "nats://localhost:4222"}
	bridge := runtime.NewBridge(conf, logger, ctx, runtime.BridgeDependencies{
		Engine:   engine,
		Platform: &runtime.PlatformSeams{Textures: textures, Displays: displays, Presenter: presenter},
	})
	bridge.Messages().SetHandler("app/lifecycle", onLifecycle)
	go bridge.Start(ctx)
	_, err := bridge.RunFromSource(ctx, "app/main", "app/packages", "app/assets").Await(ctx)
*/
package runtime
