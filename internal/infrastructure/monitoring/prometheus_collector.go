package monitoring

import (
	"context"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports fleet and per-stream health to Prometheus.
// Per-stream vectors are rebuilt from each collection snapshot, so gauges
// for unregistered streams disappear on the next tick.
type PrometheusCollector struct {
	// Fleet gauges
	streamsTotal    prometheus.Gauge
	streamsHealthy  prometheus.Gauge
	streamsDegraded prometheus.Gauge
	streamsError    prometheus.Gauge
	avgHealthScore  prometheus.Gauge
	alertsActive    prometheus.Gauge

	// Composite gauges
	compositorOutputFPS prometheus.Gauge
	webrtcPacketLoss    prometheus.Gauge
	webrtcPeers         prometheus.Gauge

	// Counters
	alertsRaisedTotal   *prometheus.CounterVec
	alertsResolvedTotal prometheus.Counter
	stateChangesTotal   *prometheus.CounterVec

	// Stream metrics
	streamBitrate     *prometheus.GaugeVec
	streamFPS         *prometheus.GaugeVec
	streamHealthScore *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		streamsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_streams_total",
			Help: "Number of registered streams",
		}),

		streamsHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_streams_healthy",
			Help: "Number of streams with health score >= 80",
		}),

		streamsDegraded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_streams_degraded",
			Help: "Number of streams with health score in [50, 80)",
		}),

		streamsError: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_streams_error",
			Help: "Number of streams with health score below 50",
		}),

		avgHealthScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_fleet_avg_health_score",
			Help: "Average health score across registered streams (0-100)",
		}),

		alertsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_alerts_active",
			Help: "Number of currently active stream alerts",
		}),

		compositorOutputFPS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_compositor_output_fps",
			Help: "Compositor output frame rate",
		}),

		webrtcPacketLoss: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_webrtc_packet_loss",
			Help: "Transport packet loss fraction (0-1)",
		}),

		webrtcPeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streampulse_webrtc_peers_connected",
			Help: "Number of connected transport peers",
		}),

		alertsRaisedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "streampulse_alerts_raised_total",
			Help: "Total alerts raised",
		}, []string{"type", "severity"}),

		alertsResolvedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streampulse_alerts_resolved_total",
			Help: "Total alerts resolved",
		}),

		stateChangesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "streampulse_stream_state_changes_total",
			Help: "Total stream state transitions",
		}, []string{"new_state"}),

		streamBitrate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streampulse_stream_bitrate_bps",
			Help: "Current bitrate of streams in bits per second",
		}, []string{"stream_id"}),

		streamFPS: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streampulse_stream_fps",
			Help: "Current frame rate of streams",
		}, []string{"stream_id"}),

		streamHealthScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streampulse_stream_health_score",
			Help: "Health score of streams (0-100)",
		}, []string{"stream_id"}),
	}
}

// Run consumes the engine feed until ctx is cancelled or the feed closes.
func (p *PrometheusCollector) Run(ctx context.Context, source ports.EventSource) {
	events, cancel := source.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			p.record(evt)
		}
	}
}

func (p *PrometheusCollector) record(evt domain.Event) {
	switch evt.Type {
	case domain.EventMetricsCollected:
		if snapshot, ok := evt.Payload.(*domain.FleetSnapshot); ok {
			p.recordSnapshot(snapshot)
		}

	case domain.EventMetricsUpdated:
		if update, ok := evt.Payload.(domain.MetricsUpdate); ok {
			id := string(update.StreamID)
			p.streamBitrate.WithLabelValues(id).Set(update.Metrics.Bitrate)
			p.streamFPS.WithLabelValues(id).Set(update.Metrics.FPS)
		}

	case domain.EventStateChanged:
		if change, ok := evt.Payload.(domain.StateChange); ok {
			p.stateChangesTotal.WithLabelValues(string(change.NewState)).Inc()
		}

	case domain.EventAlertRaised:
		if alert, ok := evt.Payload.(*domain.Alert); ok {
			p.alertsRaisedTotal.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
		}

	case domain.EventAlertResolved:
		p.alertsResolvedTotal.Inc()

	case domain.EventCompositorMetrics:
		if m, ok := evt.Payload.(domain.CompositorMetrics); ok {
			p.compositorOutputFPS.Set(m.OutputFPS)
		}

	case domain.EventWebRTCMetrics:
		if m, ok := evt.Payload.(domain.WebRTCMetrics); ok {
			p.webrtcPacketLoss.Set(m.PacketLoss)
			p.webrtcPeers.Set(float64(m.PeersConnected))
		}
	}
}

func (p *PrometheusCollector) recordSnapshot(snapshot *domain.FleetSnapshot) {
	p.streamsTotal.Set(float64(snapshot.Summary.TotalStreams))
	p.streamsHealthy.Set(float64(snapshot.Summary.HealthyStreams))
	p.streamsDegraded.Set(float64(snapshot.Summary.DegradedStreams))
	p.streamsError.Set(float64(snapshot.Summary.ErrorStreams))
	p.avgHealthScore.Set(float64(snapshot.Summary.AvgHealthScore))
	p.alertsActive.Set(float64(snapshot.Summary.TotalAlerts))

	p.streamBitrate.Reset()
	p.streamFPS.Reset()
	p.streamHealthScore.Reset()
	for _, s := range snapshot.Streams {
		id := string(s.StreamID)
		p.streamBitrate.WithLabelValues(id).Set(s.Metrics.Bitrate)
		p.streamFPS.WithLabelValues(id).Set(s.Metrics.FPS)
		p.streamHealthScore.WithLabelValues(id).Set(float64(s.Health))
	}
}
