package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/embedbridge/internal/runtime/messaging"
)

const metricsNamespace = "embedbridge"

// View lifecycle events counted by BridgeMetrics.
const (
	viewEventAttached   = "attached"
	viewEventResized    = "resized"
	viewEventSettled    = "settled"
	viewEventSuperseded = "superseded"
	viewEventDisposed   = "disposed"
	viewEventFailed     = "creation_failed"
)

// BridgeMetrics records message channel and platform view activity. It
// implements messaging.Observer and platformview.Observer. Counters are
// kept whether or not the collectors are registered.
type BridgeMetrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	stats *channelStats

	framesTotal     *prometheus.CounterVec
	frameBytesTotal *prometheus.CounterVec
	callsTotal      *prometheus.CounterVec
	callLatency     *prometheus.HistogramVec
	unmatchedTotal  prometheus.Counter
	pendingCalls    prometheus.Gauge
	pointerSamples  prometheus.Counter
	viewEventsTotal *prometheus.CounterVec
	settleLatency   *prometheus.HistogramVec
}

// NewBridgeMetrics creates the collectors. A nil registerer means the
// Prometheus default registerer.
func NewBridgeMetrics(registerer prometheus.Registerer) *BridgeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &BridgeMetrics{
		registerer: registerer,
		stats:      newChannelStats(),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "messaging",
			Name:      "frames_total",
			Help:      "Frames crossing the engine boundary by channel and direction.",
		}, []string{"channel", "direction"}),
		frameBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "messaging",
			Name:      "frame_bytes_total",
			Help:      "Payload bytes crossing the engine boundary by direction.",
		}, []string{"direction"}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "messaging",
			Name:      "calls_resolved_total",
			Help:      "Calls resolved by channel and resolution.",
		}, []string{"channel", "resolution"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "messaging",
			Name:      "call_latency_seconds",
			Help:      "Time from sending a call to receiving its reply.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"channel"}),
		unmatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "messaging",
			Name:      "unmatched_replies_total",
			Help:      "Replies whose correlation id matched no pending call.",
		}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "messaging",
			Name:      "pending_calls",
			Help:      "Calls awaiting a reply.",
		}),
		pointerSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pointer",
			Name:      "samples_total",
			Help:      "Pointer samples sent to the engine.",
		}),
		viewEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "platform_views",
			Name:      "events_total",
			Help:      "Platform view lifecycle events by view and event.",
		}, []string{"view", "event"}),
		settleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "platform_views",
			Name:      "settle_latency_seconds",
			Help:      "Time from a resize request to its settle callback.",
			Buckets:   []float64{.05, .1, .128, .15, .2, .3, .5, 1, 2},
		}, []string{"view"}),
	}
}

// Register registers the collectors. Calling it again, or registering
// collectors that are already present, is not an error.
func (m *BridgeMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.framesTotal,
		m.frameBytesTotal,
		m.callsTotal,
		m.callLatency,
		m.unmatchedTotal,
		m.pendingCalls,
		m.pointerSamples,
		m.viewEventsTotal,
		m.settleLatency,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// ChannelStats returns per-channel counters. Channels in handlers are
// marked as having a handler attached.
func (m *BridgeMetrics) ChannelStats(handlers []string) map[string]ChannelStats {
	return m.stats.snapshot(handlers)
}

func (m *BridgeMetrics) FrameSent(channel string, bytes int) {
	m.framesTotal.WithLabelValues(channel, "outbound").Inc()
	m.frameBytesTotal.WithLabelValues("outbound").Add(float64(bytes))
	m.stats.sent(channel, bytes)
}

func (m *BridgeMetrics) FrameReceived(channel string, bytes int) {
	m.framesTotal.WithLabelValues(channel, "inbound").Inc()
	m.frameBytesTotal.WithLabelValues("inbound").Add(float64(bytes))
	m.stats.received(channel, bytes)
}

func (m *BridgeMetrics) CallResolved(channel string, how messaging.Resolution, latency time.Duration) {
	m.callsTotal.WithLabelValues(channel, string(how)).Inc()
	if how == messaging.ResolvedByReply {
		m.callLatency.WithLabelValues(channel).Observe(latency.Seconds())
	}
	m.stats.resolved(channel, how, latency)
}

func (m *BridgeMetrics) ReplyUnmatched(uint32) {
	m.unmatchedTotal.Inc()
}

func (m *BridgeMetrics) PendingChanged(pending int) {
	m.pendingCalls.Set(float64(pending))
}

// PointerSamplesSent counts encoded pointer samples.
func (m *BridgeMetrics) PointerSamplesSent(n int) {
	m.pointerSamples.Add(float64(n))
}

func (m *BridgeMetrics) ViewAttached(label string) {
	m.viewEventsTotal.WithLabelValues(label, viewEventAttached).Inc()
}

func (m *BridgeMetrics) ViewResized(label string) {
	m.viewEventsTotal.WithLabelValues(label, viewEventResized).Inc()
}

func (m *BridgeMetrics) ViewSettled(label string, latency time.Duration) {
	m.viewEventsTotal.WithLabelValues(label, viewEventSettled).Inc()
	m.settleLatency.WithLabelValues(label).Observe(latency.Seconds())
}

func (m *BridgeMetrics) SettleSuperseded(label string) {
	m.viewEventsTotal.WithLabelValues(label, viewEventSuperseded).Inc()
}

func (m *BridgeMetrics) ViewDisposed(label string) {
	m.viewEventsTotal.WithLabelValues(label, viewEventDisposed).Inc()
}

func (m *BridgeMetrics) CreationFailed(label string) {
	m.viewEventsTotal.WithLabelValues(label, viewEventFailed).Inc()
}
