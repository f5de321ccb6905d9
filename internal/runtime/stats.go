package runtime

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drblury/embedbridge/internal/runtime/messaging"
)

const latencySampleSize = 256

// ChannelStats summarises the traffic on one named channel.
type ChannelStats struct {
	FramesSent      uint64    `json:"frames_sent"`
	FramesReceived  uint64    `json:"frames_received"`
	BytesSent       uint64    `json:"bytes_sent"`
	BytesReceived   uint64    `json:"bytes_received"`
	Replies         uint64    `json:"replies"`
	SendFailures    uint64    `json:"send_failures"`
	ClosedPending   uint64    `json:"closed_pending"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	CallLatency     Latency   `json:"call_latency"`
	HandlerAttached bool      `json:"handler_attached"`
}

// Latency describes the round-trip time of resolved calls.
type Latency struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type channelCounters struct {
	stats   ChannelStats
	latency *latencyWindow
}

// channelStats accumulates per-channel counters for the introspection API.
type channelStats struct {
	mu       sync.Mutex
	now      func() time.Time
	channels map[string]*channelCounters
}

func newChannelStats() *channelStats {
	return &channelStats{
		now:      time.Now,
		channels: make(map[string]*channelCounters),
	}
}

func (s *channelStats) get(channel string) *channelCounters {
	c, ok := s.channels[channel]
	if !ok {
		c = &channelCounters{latency: newLatencyWindow(latencySampleSize)}
		s.channels[channel] = c
	}
	c.stats.LastActivityAt = s.now()
	return c
}

func (s *channelStats) sent(channel string, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(channel)
	c.stats.FramesSent++
	c.stats.BytesSent += uint64(bytes)
}

func (s *channelStats) received(channel string, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(channel)
	c.stats.FramesReceived++
	c.stats.BytesReceived += uint64(bytes)
}

func (s *channelStats) resolved(channel string, how messaging.Resolution, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(channel)
	switch how {
	case messaging.ResolvedByReply:
		c.stats.Replies++
		c.latency.Add(latency)
	case messaging.ResolvedBySendFailure:
		c.stats.SendFailures++
	case messaging.ResolvedByClose:
		c.stats.ClosedPending++
	}
}

// snapshot copies the counters. handlers marks channels with a handler
// attached; they are listed even without traffic.
func (s *channelStats) snapshot(handlers []string) map[string]ChannelStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ChannelStats, len(s.channels)+len(handlers))
	for name, c := range s.channels {
		st := c.stats
		st.CallLatency = c.latency.Snapshot()
		out[name] = st
	}
	for _, name := range handlers {
		st := out[name]
		st.HandlerAttached = true
		out[name] = st
	}
	return out
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() Latency {
	l := Latency{LastNs: lw.last}
	if lw.filled == 0 {
		return l
	}
	samples := make([]int64, 0, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples = append(samples, lw.samples[idx])
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}
	l.SampleSize = len(samples)
	l.AverageNs = sum / int64(len(samples))
	l.P50Ns = percentile(samples, 0.50)
	l.P95Ns = percentile(samples, 0.95)
	l.P99Ns = percentile(samples, 0.99)
	return l
}

// percentile interpolates linearly between the closest ranks of sorted samples.
func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}
