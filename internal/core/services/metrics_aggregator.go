package services

import (
	"math"
	"sort"
	"sync"
	"time"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"

	"go.uber.org/zap"
)

// MetricsAggregator owns the registered monitor set, the three composite
// metric groups (compositor, webrtc, system), fleet-level alerts, and the
// time series of periodic rollups.
type MetricsAggregator struct {
	mu       sync.RWMutex
	monitors map[domain.StreamID]*StreamMonitor

	compositor domain.CompositorMetrics
	webrtc     domain.WebRTCMetrics
	system     domain.SystemMetrics

	// Fleet-level alerts keyed by type. Unlike stream alerts these are not
	// auto-cleared when the metric recovers; they stay until resolved
	// explicitly.
	fleetAlerts map[domain.AlertType]*domain.Alert

	series    []*domain.AggregatedSample
	retention time.Duration

	thresholds Thresholds
	historyCap int

	alerts AlertSink
	events ports.EventPublisher
	logger *zap.SugaredLogger
}

func NewMetricsAggregator(
	thresholds Thresholds,
	historyCap int,
	retention time.Duration,
	alerts AlertSink,
	events ports.EventPublisher,
	logger *zap.SugaredLogger,
) *MetricsAggregator {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MetricsAggregator{
		monitors:    make(map[domain.StreamID]*StreamMonitor),
		fleetAlerts: make(map[domain.AlertType]*domain.Alert),
		retention:   retention,
		thresholds:  thresholds,
		historyCap:  historyCap,
		alerts:      alerts,
		events:      events,
		logger:      logger,
	}
}

// Register creates a monitor for the stream. Returns ErrStreamAlreadyRegistered
// when a monitor for the id already exists.
func (a *MetricsAggregator) Register(id domain.StreamID, url string) (*StreamMonitor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.monitors[id]; exists {
		return nil, domain.ErrStreamAlreadyRegistered
	}
	monitor := NewStreamMonitor(id, url, a.thresholds, a.historyCap, a.alerts, a.events, a.logger)
	a.monitors[id] = monitor
	a.logger.Infow("stream registered", "stream_id", id, "url", url)
	return monitor, nil
}

// Unregister removes and closes the stream's monitor. Unknown ids are a no-op.
func (a *MetricsAggregator) Unregister(id domain.StreamID) {
	a.mu.Lock()
	monitor, ok := a.monitors[id]
	if ok {
		delete(a.monitors, id)
	}
	a.mu.Unlock()

	if ok {
		monitor.Close()
		a.logger.Infow("stream unregistered", "stream_id", id)
	}
}

func (a *MetricsAggregator) Monitor(id domain.StreamID) (*StreamMonitor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.monitors[id]
	return m, ok
}

// UpdateCompositorMetrics merges the patch, forces the active stream count to
// the registered monitor count, and raises a fleet alert when output fps
// falls below the floor.
func (a *MetricsAggregator) UpdateCompositorMetrics(patch *domain.CompositorPatch) {
	a.mu.Lock()
	a.compositor.Apply(patch)
	a.compositor.ActiveStreams = len(a.monitors)
	snapshot := a.compositor
	t := a.thresholds
	a.mu.Unlock()

	a.events.Publish(domain.Event{Type: domain.EventCompositorMetrics, Payload: snapshot})

	// A reported 0 counts as a full stall, not missing data: the compositor
	// always pushes its output rate, unlike stream bitrate where 0 means no
	// sample yet.
	if snapshot.OutputFPS < t.MinCompositorFPS {
		a.raiseFleetAlert(domain.AlertCompositorPerformance, domain.SeverityWarning, map[string]interface{}{
			"current":   snapshot.OutputFPS,
			"threshold": t.MinCompositorFPS,
		})
	}
}

// UpdateWebRTCMetrics merges the patch and raises a fleet alert when packet
// loss exceeds the limit.
func (a *MetricsAggregator) UpdateWebRTCMetrics(patch *domain.WebRTCPatch) {
	a.mu.Lock()
	a.webrtc.Apply(patch)
	snapshot := a.webrtc
	t := a.thresholds
	a.mu.Unlock()

	a.events.Publish(domain.Event{Type: domain.EventWebRTCMetrics, Payload: snapshot})

	if snapshot.PacketLoss > t.MaxPacketLoss {
		a.raiseFleetAlert(domain.AlertPacketLoss, domain.SeverityError, map[string]interface{}{
			"current":   snapshot.PacketLoss,
			"threshold": t.MaxPacketLoss,
		})
	}
}

func (a *MetricsAggregator) UpdateSystemMetrics(patch *domain.SystemPatch) {
	a.mu.Lock()
	a.system.Apply(patch)
	snapshot := a.system
	a.mu.Unlock()

	a.events.Publish(domain.Event{Type: domain.EventSystemMetrics, Payload: snapshot})
}

// raiseFleetAlert deduplicates on alert type: while the previous alert of
// this type is unresolved in the registry, nothing new is raised.
func (a *MetricsAggregator) raiseFleetAlert(typ domain.AlertType, severity domain.Severity, details map[string]interface{}) {
	a.mu.Lock()
	if existing, ok := a.fleetAlerts[typ]; ok && a.fleetAlertActive(existing) {
		a.mu.Unlock()
		return
	}
	alert := domain.NewAlert("", typ, severity, details)
	a.fleetAlerts[typ] = alert
	handoff := alert.Clone()
	a.mu.Unlock()

	a.logger.Warnw("fleet alert raised", "type", typ, "severity", severity)
	if a.alerts != nil {
		a.alerts.Process(handoff)
	}
}

// fleetAlertActive asks the registry whether the alert is still unresolved;
// resolution happens over there, never on the aggregator's own record. With
// no sink configured the alert stays deduplicated for the aggregator's
// lifetime.
func (a *MetricsAggregator) fleetAlertActive(alert *domain.Alert) bool {
	if a.alerts == nil {
		return true
	}
	return a.alerts.IsActive(alert.ID)
}

// FleetSnapshot assembles the full point-in-time view of the fleet.
func (a *MetricsAggregator) FleetSnapshot() *domain.FleetSnapshot {
	a.mu.RLock()
	monitors := make([]*StreamMonitor, 0, len(a.monitors))
	for _, m := range a.monitors {
		monitors = append(monitors, m)
	}
	compositor := a.compositor
	webrtc := a.webrtc
	system := a.system
	a.mu.RUnlock()

	streams := make([]*domain.StreamStatus, 0, len(monitors))
	for _, m := range monitors {
		streams = append(streams, m.Status())
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].StreamID < streams[j].StreamID })

	return &domain.FleetSnapshot{
		Timestamp:  domain.NowMillis(),
		Streams:    streams,
		Compositor: compositor,
		WebRTC:     webrtc,
		System:     system,
		Summary:    a.summarize(streams),
	}
}

// Summary computes the fleet summary without materializing the full snapshot.
func (a *MetricsAggregator) Summary() domain.FleetSummary {
	a.mu.RLock()
	monitors := make([]*StreamMonitor, 0, len(a.monitors))
	for _, m := range a.monitors {
		monitors = append(monitors, m)
	}
	a.mu.RUnlock()

	streams := make([]*domain.StreamStatus, 0, len(monitors))
	for _, m := range monitors {
		streams = append(streams, m.Status())
	}
	return a.summarize(streams)
}

func (a *MetricsAggregator) summarize(streams []*domain.StreamStatus) domain.FleetSummary {
	summary := domain.FleetSummary{TotalStreams: len(streams)}

	var scoreSum int
	for _, s := range streams {
		scoreSum += s.Health
		switch {
		case s.Health >= 80:
			summary.HealthyStreams++
		case s.Health >= 50:
			summary.DegradedStreams++
		default:
			summary.ErrorStreams++
		}
		summary.TotalAlerts += len(s.ActiveAlerts)
	}

	if len(streams) > 0 {
		summary.AvgHealthScore = int(math.Round(float64(scoreSum) / float64(len(streams))))
	}

	switch {
	case summary.ErrorStreams > 0:
		summary.OverallStatus = domain.StatusCritical
	case summary.AvgHealthScore >= 80:
		summary.OverallStatus = domain.StatusHealthy
	case summary.AvgHealthScore >= 50:
		summary.OverallStatus = domain.StatusDegraded
	default:
		summary.OverallStatus = domain.StatusWarning
	}
	return summary
}

// AggregateMetrics takes a rollup of the current fleet condition, appends it
// to the retained series, evicts samples older than the retention window and
// publishes the completed sample. The alert count covers stream alerts only.
func (a *MetricsAggregator) AggregateMetrics() *domain.AggregatedSample {
	snapshot := a.FleetSnapshot()

	alertCount := 0
	for _, s := range snapshot.Streams {
		alertCount += len(s.ActiveAlerts)
	}

	sample := &domain.AggregatedSample{
		Timestamp:   snapshot.Timestamp,
		Summary:     snapshot.Summary,
		Compositor:  snapshot.Compositor,
		WebRTC:      snapshot.WebRTC,
		System:      snapshot.System,
		StreamCount: len(snapshot.Streams),
		AlertCount:  alertCount,
	}

	cutoff := domain.NowMillis() - a.retention.Milliseconds()

	a.mu.Lock()
	a.series = append(a.series, sample)
	kept := a.series[:0]
	for _, s := range a.series {
		if s.Timestamp > cutoff {
			kept = append(kept, s)
		}
	}
	a.series = kept
	a.mu.Unlock()

	a.events.Publish(domain.Event{Type: domain.EventAggregationCompleted, Payload: sample})
	return sample
}

// HistoricalMetrics returns the retained rollups from the last N hours,
// oldest first. A non-positive window defaults to 1 hour.
func (a *MetricsAggregator) HistoricalMetrics(hours int) []*domain.AggregatedSample {
	if hours <= 0 {
		hours = 1
	}
	cutoff := domain.NowMillis() - int64(hours)*time.Hour.Milliseconds()

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*domain.AggregatedSample, 0, len(a.series))
	for _, s := range a.series {
		if s.Timestamp > cutoff {
			out = append(out, s)
		}
	}
	return out
}

// CalculateTrends compares the newest rollup in the window against the
// oldest. Returns nil when fewer than two rollups exist.
func (a *MetricsAggregator) CalculateTrends(hours int) *domain.Trends {
	window := a.HistoricalMetrics(hours)
	if len(window) < 2 {
		return nil
	}

	first, last := window[0], window[len(window)-1]
	return &domain.Trends{
		StreamCount: domain.Trend{
			Current: last.StreamCount,
			Change:  last.StreamCount - first.StreamCount,
		},
		AlertCount: domain.Trend{
			Current: last.AlertCount,
			Change:  last.AlertCount - first.AlertCount,
		},
		HealthScore: domain.Trend{
			Current: last.Summary.AvgHealthScore,
			Change:  last.Summary.AvgHealthScore - first.Summary.AvgHealthScore,
		},
	}
}

// Statistics bundles the live snapshot, an active-alert breakdown and the
// one-hour trends.
func (a *MetricsAggregator) Statistics() *domain.Statistics {
	snapshot := a.FleetSnapshot()

	breakdown := domain.AlertBreakdown{
		BySeverity: make(map[domain.Severity]int),
		ByType:     make(map[domain.AlertType]int),
	}
	for _, s := range snapshot.Streams {
		for _, alert := range s.ActiveAlerts {
			breakdown.Total++
			breakdown.BySeverity[alert.Severity]++
			breakdown.ByType[alert.Type]++
		}
	}

	return &domain.Statistics{
		Current: snapshot,
		Alerts:  breakdown,
		Trends:  a.CalculateTrends(1),
	}
}

// Cleanup trims per-stream alert history and evicts retained rollups older
// than the retention window.
func (a *MetricsAggregator) Cleanup(alertCutoff int64) {
	a.mu.RLock()
	monitors := make([]*StreamMonitor, 0, len(a.monitors))
	for _, m := range a.monitors {
		monitors = append(monitors, m)
	}
	a.mu.RUnlock()

	for _, m := range monitors {
		m.TrimAlertHistory(alertCutoff)
	}

	cutoff := domain.NowMillis() - a.retention.Milliseconds()
	a.mu.Lock()
	kept := a.series[:0]
	for _, s := range a.series {
		if s.Timestamp > cutoff {
			kept = append(kept, s)
		}
	}
	a.series = kept
	a.mu.Unlock()
}

// SetThresholds propagates a new threshold set to the aggregator and every
// registered monitor.
func (a *MetricsAggregator) SetThresholds(t Thresholds) {
	a.mu.Lock()
	a.thresholds = t
	monitors := make([]*StreamMonitor, 0, len(a.monitors))
	for _, m := range a.monitors {
		monitors = append(monitors, m)
	}
	a.mu.Unlock()

	for _, m := range monitors {
		m.SetThresholds(t)
	}
}
