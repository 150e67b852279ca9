package services

import (
	"encoding/json"
	"sync"
	"testing"

	"streampulse/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// captureBus records published events for assertions.
type captureBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *captureBus) Publish(evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *captureBus) byType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, evt := range b.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// captureSink records alerts handed to the registry boundary.
type captureSink struct {
	mu        sync.Mutex
	processed []*domain.Alert
	resolved  []string
	inactive  map[string]bool
}

func (s *captureSink) Process(alert *domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, alert)
}

func (s *captureSink) Resolve(alertID string) *domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, alertID)
	s.markInactiveLocked(alertID)
	return nil
}

func (s *captureSink) IsActive(alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inactive[alertID]
}

func (s *captureSink) markResolved(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markInactiveLocked(alertID)
}

func (s *captureSink) markInactiveLocked(alertID string) {
	if s.inactive == nil {
		s.inactive = make(map[string]bool)
	}
	s.inactive[alertID] = true
}

func (s *captureSink) processedTypes() []domain.AlertType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AlertType
	for _, a := range s.processed {
		out = append(out, a.Type)
	}
	return out
}

func newTestMonitor(t *testing.T) (*StreamMonitor, *captureBus, *captureSink) {
	t.Helper()
	bus := &captureBus{}
	sink := &captureSink{}
	m := NewStreamMonitor("stream-1", "rtmp://example/stream-1", DefaultThresholds(), 60, sink, bus, zap.NewNop().Sugar())
	return m, bus, sink
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestStreamMonitor_LowBitrateRaisedOnceAndCleared(t *testing.T) {
	m, bus, sink := newTestMonitor(t)

	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(300_000), FPS: f64(30)})
	require.Equal(t, []domain.AlertType{domain.AlertLowBitrate}, sink.processedTypes())
	assert.Equal(t, 1, m.ActiveAlertCount())

	firstAlert := sink.processed[0]
	assert.Equal(t, domain.SeverityWarning, firstAlert.Severity)
	assert.Equal(t, domain.StreamID("stream-1"), firstAlert.StreamID)
	assert.False(t, firstAlert.Resolved)

	// Second breach of the same type is deduplicated: same alert survives
	// with its original identity.
	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(200_000)})
	require.Len(t, sink.processed, 1)
	assert.Equal(t, firstAlert.ID, sink.processed[0].ID)
	assert.Equal(t, firstAlert.Timestamp, sink.processed[0].Timestamp)

	// Recovery clears the alert and resolves it through the registry. The
	// alert handed over at raise time is a detached copy, so it stays
	// unresolved no matter what the monitor does afterwards.
	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(900_000)})
	assert.Equal(t, 0, m.ActiveAlertCount())
	require.Equal(t, []string{firstAlert.ID}, sink.resolved)
	assert.False(t, firstAlert.Resolved)
	assert.Zero(t, firstAlert.ResolvedAt)

	cleared := bus.byType(domain.EventAlertCleared)
	require.Len(t, cleared, 1)
	payload := cleared[0].Payload.(*domain.Alert)
	assert.Equal(t, firstAlert.ID, payload.ID)
	assert.True(t, payload.Resolved)
	assert.NotZero(t, payload.ResolvedAt)
}

func TestStreamMonitor_ZeroBitrateMeansNoData(t *testing.T) {
	m, _, sink := newTestMonitor(t)

	m.UpdateMetrics(&domain.MetricsPatch{FPS: f64(30)})
	assert.Empty(t, sink.processed)
	assert.Equal(t, 0, m.ActiveAlertCount())
}

func TestStreamMonitor_HighBitrateAndLatency(t *testing.T) {
	m, _, sink := newTestMonitor(t)

	m.UpdateMetrics(&domain.MetricsPatch{
		Bitrate: f64(12_000_000),
		FPS:     f64(30),
		Latency: f64(6000),
	})

	assert.ElementsMatch(t,
		[]domain.AlertType{domain.AlertHighBitrate, domain.AlertHighLatency},
		sink.processedTypes(),
	)
}

func TestStreamMonitor_StateTransitionsRaiseAlerts(t *testing.T) {
	m, bus, sink := newTestMonitor(t)

	m.SetState(domain.StateError)
	require.Equal(t, []domain.AlertType{domain.AlertStreamDown}, sink.processedTypes())
	assert.Equal(t, domain.SeverityCritical, sink.processed[0].Severity)

	m.SetState(domain.StateBuffering)
	require.Equal(t,
		[]domain.AlertType{domain.AlertStreamDown, domain.AlertStreamDegraded},
		sink.processedTypes(),
	)

	changes := bus.byType(domain.EventStateChanged)
	require.Len(t, changes, 2)
	first := changes[0].Payload.(domain.StateChange)
	assert.Equal(t, domain.StateInitializing, first.OldState)
	assert.Equal(t, domain.StateError, first.NewState)

	// Leaving the failed state does not clear the state alerts; only the
	// metric checks clear alerts.
	m.SetState(domain.StatePlaying)
	assert.Equal(t, 2, m.ActiveAlertCount())
}

func TestStreamMonitor_MetricsPatchMergesIntoSnapshot(t *testing.T) {
	m, bus, _ := newTestMonitor(t)

	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(2_000_000), FPS: f64(30)})
	m.UpdateMetrics(&domain.MetricsPatch{Latency: f64(100)})

	updates := bus.byType(domain.EventMetricsUpdated)
	require.Len(t, updates, 2)

	merged := updates[1].Payload.(domain.MetricsUpdate).Metrics
	assert.Equal(t, 2_000_000.0, merged.Bitrate)
	assert.Equal(t, 30.0, merged.FPS)
	assert.Equal(t, 100.0, merged.Latency)
}

func TestStreamMonitor_FrameDropRate(t *testing.T) {
	m, _, sink := newTestMonitor(t)

	// A single sample is not enough to compute a rate.
	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(2_000_000), FPS: f64(30), FrameDrops: i64(100)})
	assert.Empty(t, sink.processedTypes())

	// Two samples: 100 / (100 + 100) = 0.5, above the threshold.
	m.UpdateMetrics(&domain.MetricsPatch{FrameDrops: i64(100)})
	require.Equal(t, []domain.AlertType{domain.AlertHighFrameDrop}, sink.processedTypes())
	assert.Equal(t, domain.SeverityError, sink.processed[0].Severity)
}

func TestStreamMonitor_HealthScore(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	// No data yet: bitrate and fps deductions apply even before metrics.
	assert.Equal(t, 70, m.HealthScore())

	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(2_000_000), FPS: f64(30)})
	assert.Equal(t, 100, m.HealthScore())

	m.SetState(domain.StateError)
	assert.Equal(t, 0, m.HealthScore())

	m.SetState(domain.StateDisconnected)
	assert.Equal(t, 10, m.HealthScore())

	// Buffering costs 20 plus 5 per active alert (stream_down and
	// stream_degraded are still active from the transitions above).
	m.SetState(domain.StateBuffering)
	assert.Equal(t, 100-20-5*2, m.HealthScore())
}

func TestStreamMonitor_HistoryBounded(t *testing.T) {
	bus := &captureBus{}
	sink := &captureSink{}
	m := NewStreamMonitor("stream-1", "", DefaultThresholds(), 5, sink, bus, zap.NewNop().Sugar())

	for i := 0; i < 8; i++ {
		m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(1_000_000 + float64(i))})
	}

	history := m.History(domain.MetricBitrate, 0)
	require.Len(t, history, 5)
	assert.Equal(t, 1_000_003.0, history[0].Value)
	assert.Equal(t, 1_000_007.0, history[4].Value)

	limited := m.History(domain.MetricBitrate, 2)
	require.Len(t, limited, 2)
	assert.Equal(t, 1_000_006.0, limited[0].Value)

	assert.Nil(t, m.History("unknown", 0))
}

func TestStreamMonitor_RecordError(t *testing.T) {
	m, bus, _ := newTestMonitor(t)

	m.RecordError("decoder stall")
	m.RecordError("decoder stall again")

	status := m.Status()
	assert.Equal(t, int64(2), status.Metrics.ErrorCount)
	require.NotNil(t, status.Metrics.LastError)
	assert.Equal(t, "decoder stall again", status.Metrics.LastError.Message)

	errs := bus.byType(domain.EventStreamError)
	require.Len(t, errs, 2)
	payload := errs[0].Payload.(domain.StreamErrorEvent)
	assert.Equal(t, "decoder stall", payload.Error.Message)
}

func TestStreamMonitor_StatusFields(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(300_000), FPS: f64(30)})
	status := m.Status()

	assert.Equal(t, domain.StreamID("stream-1"), status.StreamID)
	assert.Equal(t, "rtmp://example/stream-1", status.StreamURL)
	assert.Equal(t, domain.StateInitializing, status.State)
	assert.GreaterOrEqual(t, status.Uptime, int64(0))
	require.Len(t, status.ActiveAlerts, 1)
	assert.Equal(t, domain.AlertLowBitrate, status.ActiveAlerts[0].Type)
}

func TestStreamMonitor_StatusAlertsAreDetachedCopies(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(300_000), FPS: f64(30)})
	status := m.Status()
	require.Len(t, status.ActiveAlerts, 1)
	held := status.ActiveAlerts[0]

	// Clearing the alert afterwards must not reach into the earlier status.
	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(900_000)})
	assert.False(t, held.Resolved)
	assert.Zero(t, held.ResolvedAt)
}

// Serializing event payloads on a subscriber goroutine must never race the
// monitor's raise/clear cycle; payloads are copies, not live alerts.
func TestStreamMonitor_SubscribersCanSerializeWhileClearing(t *testing.T) {
	logger := zap.NewNop().Sugar()
	broker := NewBroker(logger)
	registry := NewAlertRegistry(broker, logger)
	m := NewStreamMonitor("stream-1", "", DefaultThresholds(), 60, registry, broker, logger)

	events, cancel := broker.Subscribe(1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range events {
			if _, err := json.Marshal(evt); err != nil {
				t.Errorf("marshal failed for %s: %v", evt.Type, err)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(300_000), FPS: f64(30)})
		m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(900_000)})
	}
	cancel()
	<-done
}

func TestStreamMonitor_SetThresholds(t *testing.T) {
	m, _, sink := newTestMonitor(t)

	next := DefaultThresholds()
	next.MinBitrate = 100_000
	m.SetThresholds(next)

	m.UpdateMetrics(&domain.MetricsPatch{Bitrate: f64(300_000), FPS: f64(30)})
	assert.Empty(t, sink.processedTypes())
}
