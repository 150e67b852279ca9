package ports

import (
	"context"

	"streampulse/internal/core/domain"
)

// Engine is the surface the route and transport layers consume. All ingress
// operations are fire-and-forget from the caller's perspective; queries are
// read-only views into engine-owned state.
type Engine interface {
	// Ingress
	RegisterStream(id domain.StreamID, url string) error
	UnregisterStream(id domain.StreamID)
	UpdateMetrics(id domain.StreamID, patch *domain.MetricsPatch) error
	SetState(id domain.StreamID, state domain.StreamState) error
	RecordError(id domain.StreamID, message string) error
	UpdateCompositorMetrics(patch *domain.CompositorPatch)
	UpdateWebRTCMetrics(patch *domain.WebRTCPatch)
	UpdateSystemMetrics(patch *domain.SystemPatch)
	ResolveAlert(alertID string) (*domain.Alert, error)

	// Read queries
	FleetSnapshot() *domain.FleetSnapshot
	StreamStatus(id domain.StreamID) (*domain.StreamStatus, error)
	StreamHistory(id domain.StreamID, metric string, limit int) ([]domain.HistoryPoint, error)
	Summary() domain.FleetSummary
	HistoricalMetrics(hours int) []*domain.AggregatedSample
	Statistics() *domain.Statistics
	ActiveAlerts(filter domain.AlertFilter) []*domain.Alert
	AlertHistory(limit int, filter domain.AlertFilter) []*domain.Alert
	AlertStats() domain.AlertStats
}

// EventPublisher is the one-way, non-blocking notification boundary between
// the engine and its collaborators.
type EventPublisher interface {
	Publish(evt domain.Event)
}

// EventSource hands out event subscriptions. The returned cancel function
// must be called when the subscriber is done; the channel closes on cancel
// or engine shutdown.
type EventSource interface {
	Subscribe(buffer int) (<-chan domain.Event, func())
}

// MetricsSink persists monitoring data. Implementations are best-effort:
// errors are surfaced for logging, never retried or escalated by the engine,
// and writes may reference streams that were unregistered mid-flight.
type MetricsSink interface {
	SaveStreamMetrics(ctx context.Context, status *domain.StreamStatus) error
	SaveAlert(ctx context.Context, alert *domain.Alert) error
	SaveAggregatedSample(ctx context.Context, sample *domain.AggregatedSample) error
	TrimBefore(ctx context.Context, cutoff int64) error
	Close() error
}
