package services

import (
	"sync"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"

	"go.uber.org/zap"
)

// AlertSink receives alerts raised by monitors and resolves them when the
// owning monitor clears them. Implemented by AlertRegistry. Process takes
// ownership of the alert passed in; callers hand over private copies.
type AlertSink interface {
	Process(alert *domain.Alert)
	Resolve(alertID string) *domain.Alert
	IsActive(alertID string) bool
}

// StreamMonitor owns one stream's live state: its state machine, metric
// snapshot, bounded metric history and active-alert set. All mutation goes
// through its methods; metric updates for a stream are serialized by the
// monitor's lock and therefore observed in arrival order.
type StreamMonitor struct {
	mu sync.RWMutex

	streamID   domain.StreamID
	streamURL  string
	state      domain.StreamState
	startTime  int64
	lastUpdate int64

	metrics    domain.MetricSnapshot
	history    map[string][]domain.HistoryPoint
	historyCap int

	activeAlerts map[domain.AlertType]*domain.Alert
	alertHistory []*domain.Alert

	thresholds Thresholds

	alerts AlertSink
	events ports.EventPublisher
	logger *zap.SugaredLogger
}

func NewStreamMonitor(
	streamID domain.StreamID,
	streamURL string,
	thresholds Thresholds,
	historyCap int,
	alerts AlertSink,
	events ports.EventPublisher,
	logger *zap.SugaredLogger,
) *StreamMonitor {
	if historyCap <= 0 {
		historyCap = 60
	}
	now := domain.NowMillis()
	return &StreamMonitor{
		streamID:   streamID,
		streamURL:  streamURL,
		state:      domain.StateInitializing,
		startTime:  now,
		lastUpdate: now,
		history: map[string][]domain.HistoryPoint{
			domain.MetricBitrate:    nil,
			domain.MetricFPS:        nil,
			domain.MetricFrameDrops: nil,
		},
		historyCap:   historyCap,
		activeAlerts: make(map[domain.AlertType]*domain.Alert),
		thresholds:   thresholds,
		alerts:       alerts,
		events:       events,
		logger:       logger,
	}
}

func (m *StreamMonitor) StreamID() domain.StreamID { return m.streamID }

// SetState unconditionally overwrites the current state and emits a
// state-change notification. Entering error raises stream_down, entering
// buffering raises stream_degraded; no transition clears either type — only
// the metric threshold checks clear alerts.
func (m *StreamMonitor) SetState(newState domain.StreamState) {
	m.mu.Lock()
	oldState := m.state
	m.state = newState
	m.lastUpdate = domain.NowMillis()
	change := domain.StateChange{
		StreamID:  m.streamID,
		OldState:  oldState,
		NewState:  newState,
		Timestamp: m.lastUpdate,
	}
	m.mu.Unlock()

	m.events.Publish(domain.Event{Type: domain.EventStateChanged, Payload: change})

	switch newState {
	case domain.StateError:
		m.raiseAlert(domain.AlertStreamDown, domain.SeverityCritical, nil)
	case domain.StateBuffering:
		m.raiseAlert(domain.AlertStreamDegraded, domain.SeverityWarning, nil)
	}
}

func (m *StreamMonitor) State() domain.StreamState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// UpdateMetrics merges the patch into the current snapshot, appends the
// tracked metrics to history, runs the health checks and emits a
// metrics-update notification carrying the full merged snapshot.
func (m *StreamMonitor) UpdateMetrics(patch *domain.MetricsPatch) {
	m.mu.Lock()
	m.lastUpdate = domain.NowMillis()
	m.metrics.Apply(patch)

	m.appendHistoryLocked(domain.MetricBitrate, m.metrics.Bitrate)
	m.appendHistoryLocked(domain.MetricFPS, m.metrics.FPS)
	m.appendHistoryLocked(domain.MetricFrameDrops, float64(m.metrics.FrameDrops))
	m.mu.Unlock()

	m.checkHealth()

	m.mu.RLock()
	update := domain.MetricsUpdate{
		StreamID:  m.streamID,
		Metrics:   m.metrics,
		Timestamp: m.lastUpdate,
	}
	m.mu.RUnlock()

	m.events.Publish(domain.Event{Type: domain.EventMetricsUpdated, Payload: update})
}

// RecordError bumps the error counter, stores the last error and emits a
// stream-error notification.
func (m *StreamMonitor) RecordError(message string) {
	m.mu.Lock()
	m.metrics.ErrorCount++
	m.metrics.LastError = &domain.StreamError{
		Message:   message,
		Timestamp: domain.NowMillis(),
	}
	errEvt := domain.StreamErrorEvent{
		StreamID: m.streamID,
		Error:    *m.metrics.LastError,
	}
	m.mu.Unlock()

	m.events.Publish(domain.Event{Type: domain.EventStreamError, Payload: errEvt})
}

func (m *StreamMonitor) appendHistoryLocked(metric string, value float64) {
	points := append(m.history[metric], domain.HistoryPoint{
		Value:     value,
		Timestamp: domain.NowMillis(),
	})
	if len(points) > m.historyCap {
		points = points[len(points)-m.historyCap:]
	}
	m.history[metric] = points
}

// checkHealth evaluates the four threshold rules and raises or clears the
// corresponding alert types. A bitrate of exactly 0 means "no data yet" and
// does not trigger low_bitrate.
func (m *StreamMonitor) checkHealth() {
	m.mu.RLock()
	bitrate := m.metrics.Bitrate
	fps := m.metrics.FPS
	latency := m.metrics.Latency
	dropRate := m.frameDropRateLocked()
	t := m.thresholds
	m.mu.RUnlock()

	if bitrate > 0 && bitrate < t.MinBitrate {
		m.raiseAlert(domain.AlertLowBitrate, domain.SeverityWarning, map[string]interface{}{
			"current":   bitrate,
			"threshold": t.MinBitrate,
		})
	} else if bitrate > t.MaxBitrate {
		m.raiseAlert(domain.AlertHighBitrate, domain.SeverityWarning, map[string]interface{}{
			"current":   bitrate,
			"threshold": t.MaxBitrate,
		})
	} else {
		m.clearAlert(domain.AlertLowBitrate)
		m.clearAlert(domain.AlertHighBitrate)
	}

	if fps > 0 && fps < t.MinFPS {
		m.raiseAlert(domain.AlertLowFPS, domain.SeverityWarning, map[string]interface{}{
			"current":   fps,
			"threshold": t.MinFPS,
		})
	} else {
		m.clearAlert(domain.AlertLowFPS)
	}

	if dropRate > t.MaxFrameDropRate {
		m.raiseAlert(domain.AlertHighFrameDrop, domain.SeverityError, map[string]interface{}{
			"current":   dropRate,
			"threshold": t.MaxFrameDropRate,
		})
	} else {
		m.clearAlert(domain.AlertHighFrameDrop)
	}

	if latency > t.maxLatencyMillis() {
		m.raiseAlert(domain.AlertHighLatency, domain.SeverityWarning, map[string]interface{}{
			"current":   latency,
			"threshold": t.maxLatencyMillis(),
		})
	} else {
		m.clearAlert(domain.AlertHighLatency)
	}
}

// frameDropRateLocked divides the cumulative drop counter by the sum of the
// last 10 raw history samples. The denominator is a sum of cumulative
// counters, not deltas, so this is not a true rate; it is kept bit-for-bit
// compatible with what the existing dashboards alert on.
func (m *StreamMonitor) frameDropRateLocked() float64 {
	points := m.history[domain.MetricFrameDrops]
	if len(points) < 2 {
		return 0
	}
	recent := points
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var total float64
	for _, p := range recent {
		total += p.Value
	}
	if total <= 0 {
		return 0
	}
	return float64(m.metrics.FrameDrops) / total
}

// raiseAlert is a no-op when an alert of the same type is already active on
// this stream: the original id and raised timestamp are kept.
func (m *StreamMonitor) raiseAlert(typ domain.AlertType, severity domain.Severity, details map[string]interface{}) {
	m.mu.Lock()
	if _, active := m.activeAlerts[typ]; active {
		m.mu.Unlock()
		return
	}
	alert := domain.NewAlert(m.streamID, typ, severity, details)
	m.activeAlerts[typ] = alert
	m.alertHistory = append(m.alertHistory, alert)
	handoff := alert.Clone()
	m.mu.Unlock()

	m.logger.Warnw("alert raised",
		"stream_id", m.streamID,
		"type", typ,
		"severity", severity,
	)

	if m.alerts != nil {
		m.alerts.Process(handoff)
	}
}

// clearAlert resolves an active alert of the given type; a no-op when none
// is active. The published payload is a copy taken while the monitor's lock
// is held, so subscribers can serialize it without racing later mutations.
func (m *StreamMonitor) clearAlert(typ domain.AlertType) {
	m.mu.Lock()
	alert, active := m.activeAlerts[typ]
	if !active {
		m.mu.Unlock()
		return
	}
	alert.Resolved = true
	alert.ResolvedAt = domain.NowMillis()
	delete(m.activeAlerts, typ)
	cleared := alert.Clone()
	m.mu.Unlock()

	m.logger.Infow("alert cleared",
		"stream_id", m.streamID,
		"type", typ,
	)

	if m.alerts != nil {
		m.alerts.Resolve(cleared.ID)
	}

	m.events.Publish(domain.Event{Type: domain.EventAlertCleared, Payload: cleared})
}

// HealthScore computes the 0-100 heuristic from state and metrics. Unlike
// the threshold checks, the metric deductions apply even before any data
// arrives (a fresh stream with zero bitrate scores below 100).
func (m *StreamMonitor) HealthScore() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthScoreLocked()
}

func (m *StreamMonitor) healthScoreLocked() int {
	switch m.state {
	case domain.StateError:
		return 0
	case domain.StateDisconnected:
		return 10
	}

	score := 100
	if m.state == domain.StateBuffering {
		score -= 20
	}

	t := m.thresholds
	if m.metrics.Bitrate < t.MinBitrate {
		score -= 15
	}
	if m.metrics.FPS < t.MinFPS {
		score -= 15
	}
	if m.frameDropRateLocked() > t.MaxFrameDropRate {
		score -= 20
	}
	if m.metrics.Latency > t.maxLatencyMillis() {
		score -= 10
	}

	score -= 5 * len(m.activeAlerts)

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Status returns the externally visible condition of this stream. The active
// alerts are detached copies, not the monitor's live entries.
func (m *StreamMonitor) Status() *domain.StreamStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]*domain.Alert, 0, len(m.activeAlerts))
	for _, a := range m.activeAlerts {
		alerts = append(alerts, a.Clone())
	}

	return &domain.StreamStatus{
		StreamID:     m.streamID,
		StreamURL:    m.streamURL,
		State:        m.state,
		Uptime:       domain.NowMillis() - m.startTime,
		LastUpdate:   m.lastUpdate,
		Metrics:      m.metrics,
		ActiveAlerts: alerts,
		Health:       m.healthScoreLocked(),
	}
}

// History returns up to limit most recent points for a tracked metric.
func (m *StreamMonitor) History(metric string, limit int) []domain.HistoryPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	points, ok := m.history[metric]
	if !ok {
		return nil
	}
	if limit <= 0 || limit > len(points) {
		limit = len(points)
	}
	out := make([]domain.HistoryPoint, limit)
	copy(out, points[len(points)-limit:])
	return out
}

func (m *StreamMonitor) ActiveAlertCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeAlerts)
}

// TrimAlertHistory drops per-stream alert history entries raised before cutoff.
func (m *StreamMonitor) TrimAlertHistory(cutoff int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.alertHistory[:0]
	for _, a := range m.alertHistory {
		if a.Timestamp > cutoff {
			kept = append(kept, a)
		}
	}
	m.alertHistory = kept
}

// SetThresholds swaps the threshold set; the next health check uses it.
func (m *StreamMonitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// Close releases the monitor's history and alert maps. Called on
// unregistration; the monitor must not be used afterwards.
func (m *StreamMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = map[string][]domain.HistoryPoint{}
	m.activeAlerts = make(map[domain.AlertType]*domain.Alert)
	m.alertHistory = nil
}
