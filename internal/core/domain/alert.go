package domain

import "github.com/google/uuid"

// Severity is used for filtering and display only; it carries no ordering
// semantics inside the engine.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type AlertType string

const (
	AlertStreamDown            AlertType = "stream_down"
	AlertStreamDegraded        AlertType = "stream_degraded"
	AlertLowBitrate            AlertType = "low_bitrate"
	AlertHighBitrate           AlertType = "high_bitrate"
	AlertLowFPS                AlertType = "low_fps"
	AlertHighFrameDrop         AlertType = "high_frame_drop"
	AlertBlackFrames           AlertType = "black_frames"
	AlertFrozenFrames          AlertType = "frozen_frames"
	AlertHighLatency           AlertType = "high_latency"
	AlertConnectionFailed      AlertType = "connection_failed"
	AlertCompositorPerformance AlertType = "compositor_performance"
	AlertPacketLoss            AlertType = "packet_loss"
)

// Alert is a deduplicated health notification. While active there is at most
// one alert per (stream, type) pair; the id assigned at raise time survives
// through resolution.
type Alert struct {
	ID         string                 `json:"id"`
	StreamID   StreamID               `json:"streamId,omitempty"` // empty for fleet-level alerts
	Type       AlertType              `json:"type"`
	Severity   Severity               `json:"severity"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt int64                  `json:"resolvedAt,omitempty"`
}

// NewAlert constructs an unresolved alert with a fresh unique id.
func NewAlert(streamID StreamID, typ AlertType, severity Severity, details map[string]interface{}) *Alert {
	return &Alert{
		ID:        uuid.NewString(),
		StreamID:  streamID,
		Type:      typ,
		Severity:  severity,
		Details:   details,
		Timestamp: NowMillis(),
	}
}

// Clone returns an independent copy of the alert. Details entries are copied
// by key; detail values are never mutated after creation, so a per-key copy
// is enough to detach the two alerts completely.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.Details != nil {
		c.Details = make(map[string]interface{}, len(a.Details))
		for k, v := range a.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// AlertFilter narrows alert queries. Zero values match everything.
type AlertFilter struct {
	Severity  Severity
	Type      AlertType
	StreamID  StreamID
	StartTime int64
	EndTime   int64
}

// Matches reports whether the alert passes every set filter field.
func (f AlertFilter) Matches(a *Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.StreamID != "" && a.StreamID != f.StreamID {
		return false
	}
	if f.StartTime > 0 && a.Timestamp < f.StartTime {
		return false
	}
	if f.EndTime > 0 && a.Timestamp > f.EndTime {
		return false
	}
	return true
}

type AlertStats struct {
	ActiveCount       int               `json:"activeCount"`
	TotalCount        int               `json:"totalCount"`
	BySeverity        map[Severity]int  `json:"bySeverity"`
	ByType            map[AlertType]int `json:"byType"`
	RecentResolutions []*Alert          `json:"recentResolutions"`
}
