package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/embedbridge/internal/runtime/errors"
	idspkg "github.com/drblury/embedbridge/internal/runtime/ids"
	"github.com/drblury/embedbridge/internal/runtime/messaging"
	metadatapkg "github.com/drblury/embedbridge/internal/runtime/metadata"
	"github.com/drblury/embedbridge/internal/runtime/pointer"
	"github.com/drblury/embedbridge/transport"
)

// frameToMessage wraps f in a Watermill message addressed by metadata.
func frameToMessage(ctx context.Context, f messaging.Frame) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), f.Payload)
	msg.Metadata = metadatapkg.ForFrame(f.Channel, f.CorrelationID).ToWatermill()
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return msg
}

// messageToFrame reads a frame back out of an inbound message.
func messageToFrame(msg *message.Message) (messaging.Frame, error) {
	headers := metadatapkg.FromWatermill(msg.Metadata)
	if kind := headers[metadatapkg.KeyFrameKind]; kind != "" && kind != metadatapkg.KindMessage {
		return messaging.Frame{}, fmt.Errorf("boundary: message %s has frame kind %q", msg.UUID, kind)
	}
	channel := headers.Channel()
	if channel == "" {
		return messaging.Frame{}, fmt.Errorf("boundary: message %s has no channel", msg.UUID)
	}
	id, ok := headers.CorrelationID()
	if !ok {
		return messaging.Frame{}, fmt.Errorf("boundary: message %s has a malformed correlation id %q",
			msg.UUID, headers[metadatapkg.KeyCorrelationID])
	}
	return messaging.Frame{
		Channel:       channel,
		Payload:       msg.Payload,
		CorrelationID: id,
	}, nil
}

// publisherBoundary transmits frames as messages on one topic.
type publisherBoundary struct {
	publisher message.Publisher
	topic     string
	caps      transport.Capabilities
}

func (p publisherBoundary) SendFrame(ctx context.Context, f messaging.Frame) error {
	if p.publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if err := p.caps.CheckSize(len(f.Payload)); err != nil {
		return err
	}
	return p.publisher.Publish(p.topic, frameToMessage(ctx, f))
}

// pointerMessage encodes b into one packet message. ok is false when no
// sample in b resolves.
func pointerMessage(ctx context.Context, b pointer.Batch) (msg *message.Message, ok bool) {
	n := b.Resolved()
	if n == 0 {
		return nil, false
	}
	msg = message.NewMessage(idspkg.CreateULID(), pointer.Encode(b))
	msg.Metadata = metadatapkg.ForPointer(n).ToWatermill()
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return msg, true
}
