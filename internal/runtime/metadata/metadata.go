// Package metadata defines the headers attached to boundary messages.
package metadata

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	// KeyChannel names the message channel a frame is addressed to.
	KeyChannel = "bridge_channel"
	// KeyCorrelationID carries the decimal correlation id, "0" when no reply is expected.
	KeyCorrelationID = "bridge_correlation_id"
	// KeyPointerSamples carries the number of samples in a pointer packet.
	KeyPointerSamples = "bridge_pointer_samples"
	// KeyFrameKind distinguishes message frames from pointer packets.
	KeyFrameKind = "bridge_frame_kind"
)

// Frame kinds.
const (
	KindMessage = "message"
	KindPointer = "pointer"
)

// Headers is the string map carried alongside a boundary payload.
type Headers map[string]string

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (h Headers) Clone() Headers {
	cloned := make(Headers, len(h))
	for k, v := range h {
		cloned[k] = v
	}
	return cloned
}

// With returns a copy containing key=value.
func (h Headers) With(key, value string) Headers {
	cloned := h.Clone()
	cloned[key] = value
	return cloned
}

// Channel returns the addressed channel name.
func (h Headers) Channel() string {
	return h[KeyChannel]
}

// CorrelationID parses the correlation id header. Missing or malformed values
// read as 0 and ok is false only for malformed values.
func (h Headers) CorrelationID() (id uint32, ok bool) {
	raw, present := h[KeyCorrelationID]
	if !present || raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ForFrame builds headers for a message frame.
func ForFrame(channel string, correlationID uint32) Headers {
	return Headers{
		KeyFrameKind:     KindMessage,
		KeyChannel:       channel,
		KeyCorrelationID: strconv.FormatUint(uint64(correlationID), 10),
	}
}

// ForPointer builds headers for a pointer packet holding samples entries.
func ForPointer(samples int) Headers {
	return Headers{
		KeyFrameKind:      KindPointer,
		KeyPointerSamples: strconv.Itoa(samples),
	}
}

// FromWatermill copies Watermill metadata into Headers.
func FromWatermill(md message.Metadata) Headers {
	result := make(Headers, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies Headers into a Watermill metadata map.
func (h Headers) ToWatermill() message.Metadata {
	wm := make(message.Metadata, len(h))
	for k, v := range h {
		wm[k] = v
	}
	return wm
}
