// Package transport builds the publisher/subscriber pair the bridge uses to
// reach the engine, together with the capabilities the bridge checks.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/embedbridge/internal/runtime/config"
	pubsub "github.com/drblury/embedbridge/transport"
	_ "github.com/drblury/embedbridge/transport/transports"
)

// Transport is a built transport and what it guarantees.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities pubsub.Capabilities
}

// Close closes the publisher and subscriber.
func (t Transport) Close() error {
	return pubsub.Transport{Publisher: t.Publisher, Subscriber: t.Subscriber}.Close()
}

// Factory abstracts how the bridge initialises its transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory returns a factory backed by the transport registry,
// selecting the transport by conf.PubSubSystem.
func DefaultFactory() Factory {
	return registryFactory{registry: pubsub.DefaultRegistry}
}

// RegistryFactory returns a factory backed by reg.
func RegistryFactory(reg *pubsub.Registry) Factory {
	return registryFactory{registry: reg}
}

type registryFactory struct {
	registry *pubsub.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errors.New("transport: config is required")
	}
	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}
	return Transport{
		Publisher:    t.Publisher,
		Subscriber:   t.Subscriber,
		Capabilities: f.registry.GetCapabilities(conf.GetPubSubSystem()),
	}, nil
}

// StaticFactory returns a factory that hands out an already built pair,
// for embedding the bridge next to an in-process engine.
func StaticFactory(pub message.Publisher, sub message.Subscriber, caps pubsub.Capabilities) Factory {
	return staticFactory{t: Transport{Publisher: pub, Subscriber: sub, Capabilities: caps}}
}

type staticFactory struct {
	t Transport
}

func (f staticFactory) Build(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
	if f.t.Publisher == nil || f.t.Subscriber == nil {
		return Transport{}, errors.New("transport: static factory needs a publisher and a subscriber")
	}
	return f.t, nil
}
