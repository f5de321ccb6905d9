package pointer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortPacket is returned by Decode for a packet whose length is not a
// whole number of samples.
var ErrShortPacket = errors.New("pointer: packet length is not a multiple of the sample size")

// Encode returns the packet for b. Unresolved samples are skipped, so the
// result is SampleSize * b.Resolved() bytes long and may be empty.
func Encode(b Batch) []byte {
	return AppendEncode(make([]byte, 0, SampleSize*len(b.Samples)), b)
}

// AppendEncode appends the packet for b to dst.
func AppendEncode(dst []byte, b Batch) []byte {
	for _, s := range b.Samples {
		rec, ok := s.Record()
		if !ok {
			continue
		}
		dst = rec.appendTo(dst)
	}
	return dst
}

func (r Record) appendTo(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint64(dst, uint64(r.TimestampMicros))
	dst = le.AppendUint64(dst, uint64(r.PointerID))
	dst = le.AppendUint64(dst, uint64(r.Change))
	dst = le.AppendUint64(dst, uint64(r.Kind))
	dst = le.AppendUint64(dst, math.Float64bits(r.X))
	dst = le.AppendUint64(dst, math.Float64bits(r.Y))
	dst = le.AppendUint64(dst, uint64(r.Buttons))
	dst = le.AppendUint64(dst, uint64(r.Obscured))
	for _, f := range [...]float64{
		r.Pressure, r.PressureMin, r.PressureMax,
		r.Distance, r.DistanceMax,
		r.RadiusMajor, r.RadiusMinor, r.RadiusMin, r.RadiusMax,
		r.Orientation, r.Tilt,
	} {
		dst = le.AppendUint64(dst, math.Float64bits(f))
	}
	return dst
}

// Decode splits a packet into records.
func Decode(packet []byte) ([]Record, error) {
	if len(packet)%SampleSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(packet))
	}
	records := make([]Record, 0, len(packet)/SampleSize)
	for off := 0; off < len(packet); off += SampleSize {
		records = append(records, decodeRecord(packet[off:off+SampleSize]))
	}
	return records, nil
}

func decodeRecord(b []byte) Record {
	field := func(i int) uint64 {
		return binary.LittleEndian.Uint64(b[i*BytesPerField:])
	}
	float := func(i int) float64 {
		return math.Float64frombits(field(i))
	}
	return Record{
		TimestampMicros: int64(field(0)),
		PointerID:       int64(field(1)),
		Change:          Change(field(2)),
		Kind:            DeviceKind(field(3)),
		X:               float(4),
		Y:               float(5),
		Buttons:         int64(field(6)),
		Obscured:        int64(field(7)),
		Pressure:        float(8),
		PressureMin:     float(9),
		PressureMax:     float(10),
		Distance:        float(11),
		DistanceMax:     float(12),
		RadiusMajor:     float(13),
		RadiusMinor:     float(14),
		RadiusMin:       float(15),
		RadiusMax:       float(16),
		Orientation:     float(17),
		Tilt:            float(18),
	}
}
