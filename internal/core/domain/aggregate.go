package domain

// OverallStatus classifies the whole fleet.
type OverallStatus string

const (
	StatusHealthy  OverallStatus = "healthy"
	StatusDegraded OverallStatus = "degraded"
	StatusWarning  OverallStatus = "warning"
	StatusCritical OverallStatus = "critical"
)

// FleetSummary buckets every registered stream by health score:
// healthy >= 80, degraded >= 50, error < 50. The buckets are exhaustive
// and mutually exclusive.
type FleetSummary struct {
	TotalStreams    int           `json:"totalStreams"`
	HealthyStreams  int           `json:"healthyStreams"`
	DegradedStreams int           `json:"degradedStreams"`
	ErrorStreams    int           `json:"errorStreams"`
	TotalAlerts     int           `json:"totalAlerts"`
	AvgHealthScore  int           `json:"avgHealthScore"`
	OverallStatus   OverallStatus `json:"overallStatus"`
}

// StreamStatus is the externally visible condition of one stream.
type StreamStatus struct {
	StreamID     StreamID       `json:"streamId"`
	StreamURL    string         `json:"streamUrl"`
	State        StreamState    `json:"state"`
	Uptime       int64          `json:"uptime"` // milliseconds since registration
	LastUpdate   int64          `json:"lastUpdate"`
	Metrics      MetricSnapshot `json:"metrics"`
	ActiveAlerts []*Alert       `json:"activeAlerts"`
	Health       int            `json:"health"`
}

// FleetSnapshot is the full point-in-time view served to dashboards.
type FleetSnapshot struct {
	Timestamp  int64             `json:"timestamp"`
	Streams    []*StreamStatus   `json:"streams"`
	Compositor CompositorMetrics `json:"compositor"`
	WebRTC     WebRTCMetrics     `json:"webrtc"`
	System     SystemMetrics     `json:"system"`
	Summary    FleetSummary      `json:"summary"`
}

// AggregatedSample is a periodic rollup retained for historical queries.
type AggregatedSample struct {
	Timestamp   int64             `json:"timestamp"`
	Summary     FleetSummary      `json:"summary"`
	Compositor  CompositorMetrics `json:"compositor"`
	WebRTC      WebRTCMetrics     `json:"webrtc"`
	System      SystemMetrics     `json:"system"`
	StreamCount int               `json:"streamCount"`
	AlertCount  int               `json:"alertCount"`
}

type Trend struct {
	Current int `json:"current"`
	Change  int `json:"change"`
}

// Trends compares the newest rollup in a window against the oldest.
type Trends struct {
	StreamCount Trend `json:"streamCount"`
	AlertCount  Trend `json:"alertCount"`
	HealthScore Trend `json:"healthScore"`
}

// AlertBreakdown groups a set of alerts for statistics payloads.
type AlertBreakdown struct {
	Total      int               `json:"total"`
	BySeverity map[Severity]int  `json:"bySeverity"`
	ByType     map[AlertType]int `json:"byType"`
}

// Statistics is the combined export payload: the live snapshot, alert
// groupings, and trends over the recent rollup window.
type Statistics struct {
	Current *FleetSnapshot `json:"current"`
	Alerts  AlertBreakdown `json:"alerts"`
	Trends  *Trends        `json:"trends"`
}
