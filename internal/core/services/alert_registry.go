package services

import (
	"sort"
	"sync"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"

	"go.uber.org/zap"
)

// AlertRegistry is the fleet-wide alert index. Monitors and the aggregator
// push alerts into it; it keeps the active set keyed by alert id plus an
// append-only history, and emits raise/resolve notifications.
type AlertRegistry struct {
	mu      sync.RWMutex
	active  map[string]*domain.Alert
	history []*domain.Alert

	events ports.EventPublisher
	logger *zap.SugaredLogger
}

func NewAlertRegistry(events ports.EventPublisher, logger *zap.SugaredLogger) *AlertRegistry {
	return &AlertRegistry{
		active: make(map[string]*domain.Alert),
		events: events,
		logger: logger,
	}
}

// Process admits an alert into the registry and publishes alert-raised. The
// registry takes ownership of the alert; callers hand over a private copy and
// must not mutate it afterwards. Processing the same id twice overwrites the
// active entry in place.
func (r *AlertRegistry) Process(alert *domain.Alert) {
	r.mu.Lock()
	r.active[alert.ID] = alert
	r.history = append(r.history, alert)
	published := alert.Clone()
	r.mu.Unlock()

	r.events.Publish(domain.Event{Type: domain.EventAlertRaised, Payload: published})
}

// Resolve marks the alert resolved, removes it from the active set and
// publishes alert-resolved. Returns nil when the id is not active; a
// resolution timestamp already set by the caller is kept. The returned alert
// is a detached copy.
func (r *AlertRegistry) Resolve(alertID string) *domain.Alert {
	r.mu.Lock()
	alert, ok := r.active[alertID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	alert.Resolved = true
	if alert.ResolvedAt == 0 {
		alert.ResolvedAt = domain.NowMillis()
	}
	delete(r.active, alertID)
	resolved := alert.Clone()
	r.mu.Unlock()

	r.logger.Infow("alert resolved", "alert_id", alertID, "type", resolved.Type)
	r.events.Publish(domain.Event{Type: domain.EventAlertResolved, Payload: resolved.Clone()})
	return resolved
}

// IsActive reports whether the alert id is still in the active set.
func (r *AlertRegistry) IsActive(alertID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[alertID]
	return ok
}

// Active returns the active alerts passing the filter, newest first. The
// returned alerts are detached copies: a later resolution does not reach
// into a result a caller may still be serializing.
func (r *AlertRegistry) Active(filter domain.AlertFilter) []*domain.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Alert, 0, len(r.active))
	for _, a := range r.active {
		if filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// History returns up to limit historical alerts passing the filter, newest
// first. A non-positive limit defaults to 100.
func (r *AlertRegistry) History(limit int, filter domain.AlertFilter) []*domain.Alert {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	matched := make([]*domain.Alert, 0, len(r.history))
	for _, a := range r.history {
		if filter.Matches(a) {
			matched = append(matched, a.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp > matched[j].Timestamp })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Stats summarizes the active set. Every severity bucket is present even
// when zero; recentResolutions carries the 10 most recently resolved alerts.
func (r *AlertRegistry) Stats() domain.AlertStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.AlertStats{
		ActiveCount: len(r.active),
		TotalCount:  len(r.history),
		BySeverity: map[domain.Severity]int{
			domain.SeverityInfo:     0,
			domain.SeverityWarning:  0,
			domain.SeverityError:    0,
			domain.SeverityCritical: 0,
		},
		ByType: make(map[domain.AlertType]int),
	}

	for _, a := range r.active {
		stats.BySeverity[a.Severity]++
		stats.ByType[a.Type]++
	}

	resolved := make([]*domain.Alert, 0, len(r.history))
	for _, a := range r.history {
		if a.Resolved {
			resolved = append(resolved, a.Clone())
		}
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ResolvedAt > resolved[j].ResolvedAt })
	if len(resolved) > 10 {
		resolved = resolved[:10]
	}
	stats.RecentResolutions = resolved

	return stats
}

// Cleanup drops history entries raised at or before cutoff. Active alerts
// are never evicted regardless of age.
func (r *AlertRegistry) Cleanup(cutoff int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*domain.Alert, 0, len(r.history))
	for _, a := range r.history {
		if a.Timestamp > cutoff {
			kept = append(kept, a)
		}
	}
	removed := len(r.history) - len(kept)
	r.history = kept

	if removed > 0 {
		r.logger.Debugw("alert history trimmed", "removed", removed)
	}
	return removed
}
