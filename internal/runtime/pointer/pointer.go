// Package pointer translates raw input-device events into the engine's fixed
// 19-field pointer packet.
//
// Every sample occupies FieldCount little-endian fields of BytesPerField
// bytes. Integral fields are int64 and fractional fields are float64, so the
// engine decodes a packet by reinterpretation rather than parsing.
package pointer

import "fmt"

const (
	FieldCount    = 19
	BytesPerField = 8
	// SampleSize is the encoded size of one sample in bytes.
	SampleSize = FieldCount * BytesPerField
)

// Change is the engine's pointer change enum.
type Change int64

const (
	ChangeCancel Change = iota
	ChangeAdd
	ChangeRemove
	ChangeDown
	ChangeMove
	ChangeUp

	// ChangeUnknown marks an action with no engine equivalent. Samples carrying
	// it are never encoded.
	ChangeUnknown Change = -1
)

func (c Change) String() string {
	switch c {
	case ChangeCancel:
		return "cancel"
	case ChangeAdd:
		return "add"
	case ChangeRemove:
		return "remove"
	case ChangeDown:
		return "down"
	case ChangeMove:
		return "move"
	case ChangeUp:
		return "up"
	default:
		return fmt.Sprintf("change(%d)", int64(c))
	}
}

// Valid reports whether c is one of the six wire values.
func (c Change) Valid() bool {
	return c >= ChangeCancel && c <= ChangeUp
}

// DeviceKind is the engine's pointer device kind enum.
type DeviceKind int64

const (
	DeviceTouch DeviceKind = iota
	DeviceMouse
	DeviceStylus
	DeviceInvertedStylus

	// DeviceKindUnknown marks an unrecognised tool. Samples carrying it are
	// never encoded.
	DeviceKindUnknown DeviceKind = -1
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceTouch:
		return "touch"
	case DeviceMouse:
		return "mouse"
	case DeviceStylus:
		return "stylus"
	case DeviceInvertedStylus:
		return "inverted_stylus"
	default:
		return fmt.Sprintf("kind(%d)", int64(k))
	}
}

// Valid reports whether k is one of the four wire values.
func (k DeviceKind) Valid() bool {
	return k >= DeviceTouch && k <= DeviceInvertedStylus
}

func (k DeviceKind) isStylus() bool {
	return k == DeviceStylus || k == DeviceInvertedStylus
}

// Sample is one contact's state within an input frame, as reported by the
// input device. Kind-dependent interpretation happens at encode time.
type Sample struct {
	// EventTimeMillis is the monotonic event time in milliseconds.
	EventTimeMillis int64
	PointerID       int64
	Change          Change
	Kind            DeviceKind
	X, Y            float64
	// ButtonState is the raw device button bitfield.
	ButtonState int64

	Pressure    float64
	PressureMin float64
	PressureMax float64
	Distance    float64
	DistanceMax float64
	RadiusMajor float64
	RadiusMinor float64
	RadiusMin   float64
	RadiusMax   float64
	Orientation float64
	Tilt        float64
}

// Resolved reports whether s has a known change and device kind.
func (s Sample) Resolved() bool {
	return s.Change.Valid() && s.Kind.Valid()
}

// Batch is the ordered set of samples produced by one input frame.
type Batch struct {
	Samples []Sample
}

// Resolved returns the number of samples that will be encoded.
func (b Batch) Resolved() int {
	n := 0
	for _, s := range b.Samples {
		if s.Resolved() {
			n++
		}
	}
	return n
}

// Record is the wire form of one sample, field for field.
type Record struct {
	TimestampMicros int64
	PointerID       int64
	Change          Change
	Kind            DeviceKind
	X, Y            float64
	Buttons         int64
	Obscured        int64
	Pressure        float64
	PressureMin     float64
	PressureMax     float64
	Distance        float64
	DistanceMax     float64
	RadiusMajor     float64
	RadiusMinor     float64
	RadiusMin       float64
	RadiusMax       float64
	Orientation     float64
	Tilt            float64
}

// Record converts s to its wire form. ok is false for unresolved samples.
func (s Sample) Record() (rec Record, ok bool) {
	if !s.Resolved() {
		return Record{}, false
	}
	rec = Record{
		TimestampMicros: s.EventTimeMillis * 1000,
		PointerID:       s.PointerID,
		Change:          s.Change,
		Kind:            s.Kind,
		X:               s.X,
		Y:               s.Y,
		Pressure:        s.Pressure,
		PressureMin:     s.PressureMin,
		PressureMax:     s.PressureMax,
		RadiusMajor:     s.RadiusMajor,
		RadiusMinor:     s.RadiusMinor,
		RadiusMin:       s.RadiusMin,
		RadiusMax:       s.RadiusMax,
		Orientation:     s.Orientation,
	}
	switch {
	case s.Kind == DeviceMouse:
		rec.Buttons = s.ButtonState & 0x1F
	case s.Kind.isStylus():
		rec.Buttons = (s.ButtonState >> 4) & 0xF
		rec.Distance = s.Distance
		rec.DistanceMax = s.DistanceMax
		rec.Tilt = s.Tilt
	}
	return rec, true
}
