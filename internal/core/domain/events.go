package domain

// EventType identifies a one-way engine notification.
type EventType string

const (
	EventMetricsUpdated       EventType = "metrics-updated"
	EventStateChanged         EventType = "state-changed"
	EventStreamError          EventType = "stream-error"
	EventAlertRaised          EventType = "alert-raised"
	EventAlertCleared         EventType = "alert-cleared"
	EventAlertResolved        EventType = "alert-resolved"
	EventCompositorMetrics    EventType = "compositor-metrics"
	EventWebRTCMetrics        EventType = "webrtc-metrics"
	EventSystemMetrics        EventType = "system-metrics"
	EventMetricsCollected     EventType = "metrics-collected"
	EventAggregationCompleted EventType = "metrics-aggregated"
)

// Event is the envelope published to subscribers. Payloads are plain
// structured data, safe to serialize verbatim.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// StateChange is the payload of EventStateChanged.
type StateChange struct {
	StreamID  StreamID    `json:"streamId"`
	OldState  StreamState `json:"oldState"`
	NewState  StreamState `json:"newState"`
	Timestamp int64       `json:"timestamp"`
}

// MetricsUpdate is the payload of EventMetricsUpdated and carries the full
// merged snapshot, not the patch.
type MetricsUpdate struct {
	StreamID  StreamID       `json:"streamId"`
	Metrics   MetricSnapshot `json:"metrics"`
	Timestamp int64          `json:"timestamp"`
}

// StreamErrorEvent is the payload of EventStreamError.
type StreamErrorEvent struct {
	StreamID StreamID    `json:"streamId"`
	Error    StreamError `json:"error"`
}
