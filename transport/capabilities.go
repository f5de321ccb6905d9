package transport

import "fmt"

// Capabilities describes what a transport guarantees for boundary frames.
type Capabilities struct {
	// Name is the PubSubSystem value the transport registers under.
	Name string

	// SupportsOrdering reports that frames on one topic arrive in publish
	// order. Pointer packets and replies rely on it.
	SupportsOrdering bool

	// SupportsAck reports explicit acknowledgement of delivered frames.
	SupportsAck bool

	// SupportsTracing reports that the transport carries trace headers.
	SupportsTracing bool

	// Remote reports that the engine peer lives in another process.
	Remote bool

	// MaxMessageSize is the largest payload in bytes; 0 means unlimited.
	MaxMessageSize int
}

// PreservesFrameOrder reports whether frames arrive in publish order.
func (c Capabilities) PreservesFrameOrder() bool {
	return c.SupportsOrdering
}

// CheckSize returns an error when a payload of n bytes cannot be carried.
func (c Capabilities) CheckSize(n int) error {
	if c.MaxMessageSize > 0 && n > c.MaxMessageSize {
		return fmt.Errorf("transport %s: payload of %d bytes exceeds the %d byte limit", c.Name, n, c.MaxMessageSize)
	}
	return nil
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsTracing:  true,
		Remote:           true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsTracing:  true,
		Remote:           true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		Remote:          true,
		MaxMessageSize:  1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsTracing:  true,
		Remote:           true,
		MaxMessageSize:   256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
		Remote:          true,
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name
// in the default registry.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
