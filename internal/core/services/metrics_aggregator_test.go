package services

import (
	"testing"
	"time"

	"streampulse/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAggregator() (*MetricsAggregator, *captureBus, *captureSink) {
	bus := &captureBus{}
	sink := &captureSink{}
	a := NewMetricsAggregator(DefaultThresholds(), 60, 24*time.Hour, sink, bus, zap.NewNop().Sugar())
	return a, bus, sink
}

func TestMetricsAggregator_RegisterUnregister(t *testing.T) {
	a, _, _ := newTestAggregator()

	m, err := a.Register("stream-1", "rtmp://example/one")
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = a.Register("stream-1", "rtmp://example/one")
	assert.ErrorIs(t, err, domain.ErrStreamAlreadyRegistered)

	got, ok := a.Monitor("stream-1")
	require.True(t, ok)
	assert.Same(t, m, got)

	a.Unregister("stream-1")
	_, ok = a.Monitor("stream-1")
	assert.False(t, ok)

	// Unknown ids are a no-op.
	a.Unregister("stream-1")
}

func TestMetricsAggregator_SummaryBuckets(t *testing.T) {
	a, _, _ := newTestAggregator()

	healthy, _ := a.Register("healthy", "")
	healthy.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(2_000_000), FPS: f64(30)})

	degraded, _ := a.Register("degraded", "")
	degraded.SetState(domain.StateBuffering)
	degraded.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(2_000_000), FPS: f64(30)})

	failed, _ := a.Register("failed", "")
	failed.SetState(domain.StateError)

	summary := a.Summary()
	assert.Equal(t, 3, summary.TotalStreams)
	assert.Equal(t, 1, summary.HealthyStreams) // 100
	assert.Equal(t, 1, summary.DegradedStreams)
	assert.Equal(t, 1, summary.ErrorStreams) // error state scores 0
	assert.Equal(t, domain.StatusCritical, summary.OverallStatus)

	// degraded: buffering -20, one stream_degraded alert -5 => 75
	assert.Equal(t, 2, summary.TotalAlerts)
	// round((100 + 75 + 0) / 3) = 58
	assert.Equal(t, 58, summary.AvgHealthScore)
}

func TestMetricsAggregator_OverallStatusWithoutErrors(t *testing.T) {
	a, _, _ := newTestAggregator()

	m, _ := a.Register("stream-1", "")
	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(2_000_000), FPS: f64(30)})

	assert.Equal(t, domain.StatusHealthy, a.Summary().OverallStatus)

	m.SetState(domain.StateBuffering)
	// 100 - 20 - 5 = 75: degraded band, no error streams.
	assert.Equal(t, domain.StatusDegraded, a.Summary().OverallStatus)
}

func TestMetricsAggregator_EmptyFleet(t *testing.T) {
	a, _, _ := newTestAggregator()

	summary := a.Summary()
	assert.Equal(t, 0, summary.TotalStreams)
	assert.Equal(t, 0, summary.AvgHealthScore)
	assert.Equal(t, domain.StatusWarning, summary.OverallStatus)
}

func TestMetricsAggregator_CompositeMerge(t *testing.T) {
	a, bus, _ := newTestAggregator()
	a.Register("stream-1", "")
	a.Register("stream-2", "")

	layout := "2x2"
	a.UpdateCompositorMetrics(&domain.CompositorPatch{OutputFPS: f64(30), GridLayout: &layout})
	a.UpdateCompositorMetrics(&domain.CompositorPatch{ProcessingTime: f64(12)})

	snapshot := a.FleetSnapshot()
	assert.Equal(t, 30.0, snapshot.Compositor.OutputFPS)
	assert.Equal(t, 12.0, snapshot.Compositor.ProcessingTime)
	assert.Equal(t, "2x2", snapshot.Compositor.GridLayout)
	// Active stream count tracks registered monitors, not the patch.
	assert.Equal(t, 2, snapshot.Compositor.ActiveStreams)

	require.Len(t, bus.byType(domain.EventCompositorMetrics), 2)
}

func TestMetricsAggregator_FleetAlerts(t *testing.T) {
	a, _, sink := newTestAggregator()

	a.UpdateCompositorMetrics(&domain.CompositorPatch{OutputFPS: f64(10)})
	require.Equal(t, []domain.AlertType{domain.AlertCompositorPerformance}, sink.processedTypes())
	fleetAlert := sink.processed[0]
	assert.Equal(t, domain.StreamID(""), fleetAlert.StreamID)
	assert.Equal(t, domain.SeverityWarning, fleetAlert.Severity)

	// Still unresolved: a repeat breach does not raise a second alert.
	a.UpdateCompositorMetrics(&domain.CompositorPatch{OutputFPS: f64(8)})
	require.Len(t, sink.processed, 1)

	// After explicit resolution the next breach raises a fresh alert.
	sink.markResolved(fleetAlert.ID)
	a.UpdateCompositorMetrics(&domain.CompositorPatch{OutputFPS: f64(9)})
	require.Len(t, sink.processed, 2)

	a.UpdateWebRTCMetrics(&domain.WebRTCPatch{PacketLoss: f64(0.2)})
	require.Len(t, sink.processed, 3)
	assert.Equal(t, domain.AlertPacketLoss, sink.processed[2].Type)
	assert.Equal(t, domain.SeverityError, sink.processed[2].Severity)
}

func TestMetricsAggregator_CompositorStallRaisesAlert(t *testing.T) {
	a, _, sink := newTestAggregator()

	// A dead compositor reports 0 fps; that is a stall, not missing data.
	a.UpdateCompositorMetrics(&domain.CompositorPatch{OutputFPS: f64(0)})
	require.Equal(t, []domain.AlertType{domain.AlertCompositorPerformance}, sink.processedTypes())
	assert.Equal(t, 0.0, sink.processed[0].Details["current"])
}

func TestMetricsAggregator_AggregateAndHistory(t *testing.T) {
	a, bus, _ := newTestAggregator()

	m, _ := a.Register("stream-1", "")
	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(300_000), FPS: f64(30)})

	sample := a.AggregateMetrics()
	assert.Equal(t, 1, sample.StreamCount)
	// One low_bitrate alert on the only monitor.
	assert.Equal(t, 1, sample.AlertCount)

	history := a.HistoricalMetrics(1)
	require.Len(t, history, 1)
	assert.Equal(t, sample, history[0])

	completed := bus.byType(domain.EventAggregationCompleted)
	require.Len(t, completed, 1)
}

func TestMetricsAggregator_RetentionEviction(t *testing.T) {
	bus := &captureBus{}
	sink := &captureSink{}
	a := NewMetricsAggregator(DefaultThresholds(), 60, time.Hour, sink, bus, zap.NewNop().Sugar())

	stale := &domain.AggregatedSample{Timestamp: domain.NowMillis() - 2*time.Hour.Milliseconds()}
	a.series = append(a.series, stale)

	fresh := a.AggregateMetrics()

	history := a.HistoricalMetrics(24)
	require.Len(t, history, 1)
	assert.Equal(t, fresh, history[0])
}

func TestMetricsAggregator_Trends(t *testing.T) {
	a, _, _ := newTestAggregator()

	// Not enough rollups for a trend.
	a.AggregateMetrics()
	assert.Nil(t, a.CalculateTrends(1))

	a.Register("stream-1", "")
	a.Register("stream-2", "")
	a.AggregateMetrics()

	trends := a.CalculateTrends(1)
	require.NotNil(t, trends)
	assert.Equal(t, 2, trends.StreamCount.Current)
	assert.Equal(t, 2, trends.StreamCount.Change)
	assert.Equal(t, 0, trends.AlertCount.Change)
}

func TestMetricsAggregator_TrendsZeroDelta(t *testing.T) {
	a, _, _ := newTestAggregator()
	a.Register("stream-1", "")

	a.AggregateMetrics()
	a.AggregateMetrics()

	trends := a.CalculateTrends(1)
	require.NotNil(t, trends)
	assert.Equal(t, 1, trends.StreamCount.Current)
	assert.Equal(t, 0, trends.StreamCount.Change)
	assert.Equal(t, 0, trends.HealthScore.Change)
}

func TestMetricsAggregator_Statistics(t *testing.T) {
	a, _, _ := newTestAggregator()

	m, _ := a.Register("stream-1", "")
	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(300_000), FPS: f64(10)})

	stats := a.Statistics()
	require.NotNil(t, stats.Current)
	assert.Equal(t, 2, stats.Alerts.Total) // low_bitrate and low_fps
	assert.Equal(t, 2, stats.Alerts.BySeverity[domain.SeverityWarning])
	assert.Equal(t, 1, stats.Alerts.ByType[domain.AlertLowBitrate])
	assert.Nil(t, stats.Trends)
}

func TestMetricsAggregator_SetThresholdsPropagates(t *testing.T) {
	a, _, sink := newTestAggregator()

	m, _ := a.Register("stream-1", "")

	next := DefaultThresholds()
	next.MinBitrate = 100_000
	a.SetThresholds(next)

	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(300_000), FPS: f64(30)})
	assert.Empty(t, sink.processedTypes())
}
