package domain

// Tracked metric names for per-stream history tables.
const (
	MetricBitrate    = "bitrate"
	MetricFPS        = "fps"
	MetricFrameDrops = "frameDrops"
)

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type StreamError struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// MetricSnapshot is the current measured state of one stream. It is mutated
// in place by applying patches; fields absent from a patch keep their prior
// values. Field names are part of the external wire contract.
type MetricSnapshot struct {
	Bitrate        float64      `json:"bitrate"`
	FPS            float64      `json:"fps"`
	Resolution     Resolution   `json:"resolution"`
	FrameDrops     int64        `json:"frameDrops"`
	BlackFrames    int64        `json:"blackFrames"`
	FrozenFrames   int64        `json:"frozenFrames"`
	Latency        float64      `json:"latency"`        // milliseconds
	BufferDuration float64      `json:"bufferDuration"` // milliseconds
	ReconnectCount int          `json:"reconnectCount"`
	ErrorCount     int64        `json:"errorCount"`
	LastError      *StreamError `json:"lastError"`
}

// MetricsPatch is a partial metric update. Nil fields leave the target
// snapshot untouched.
type MetricsPatch struct {
	Bitrate        *float64    `json:"bitrate,omitempty"`
	FPS            *float64    `json:"fps,omitempty"`
	Resolution     *Resolution `json:"resolution,omitempty"`
	FrameDrops     *int64      `json:"frameDrops,omitempty"`
	BlackFrames    *int64      `json:"blackFrames,omitempty"`
	FrozenFrames   *int64      `json:"frozenFrames,omitempty"`
	Latency        *float64    `json:"latency,omitempty"`
	BufferDuration *float64    `json:"bufferDuration,omitempty"`
	ReconnectCount *int        `json:"reconnectCount,omitempty"`
	ErrorCount     *int64      `json:"errorCount,omitempty"`
}

// Apply merges the patch into the snapshot, field by field.
func (m *MetricSnapshot) Apply(p *MetricsPatch) {
	if p == nil {
		return
	}
	if p.Bitrate != nil {
		m.Bitrate = *p.Bitrate
	}
	if p.FPS != nil {
		m.FPS = *p.FPS
	}
	if p.Resolution != nil {
		m.Resolution = *p.Resolution
	}
	if p.FrameDrops != nil {
		m.FrameDrops = *p.FrameDrops
	}
	if p.BlackFrames != nil {
		m.BlackFrames = *p.BlackFrames
	}
	if p.FrozenFrames != nil {
		m.FrozenFrames = *p.FrozenFrames
	}
	if p.Latency != nil {
		m.Latency = *p.Latency
	}
	if p.BufferDuration != nil {
		m.BufferDuration = *p.BufferDuration
	}
	if p.ReconnectCount != nil {
		m.ReconnectCount = *p.ReconnectCount
	}
	if p.ErrorCount != nil {
		m.ErrorCount = *p.ErrorCount
	}
}

// HistoryPoint is one sample in a bounded per-metric history sequence.
type HistoryPoint struct {
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// CompositorMetrics describes the output compositor.
type CompositorMetrics struct {
	OutputFPS      float64 `json:"outputFps"`
	ProcessingTime float64 `json:"processingTime"` // milliseconds per frame
	ActiveStreams  int     `json:"activeStreams"`
	GridLayout     string  `json:"gridLayout"`
}

type CompositorPatch struct {
	OutputFPS      *float64 `json:"outputFps,omitempty"`
	ProcessingTime *float64 `json:"processingTime,omitempty"`
	GridLayout     *string  `json:"gridLayout,omitempty"`
}

func (m *CompositorMetrics) Apply(p *CompositorPatch) {
	if p == nil {
		return
	}
	if p.OutputFPS != nil {
		m.OutputFPS = *p.OutputFPS
	}
	if p.ProcessingTime != nil {
		m.ProcessingTime = *p.ProcessingTime
	}
	if p.GridLayout != nil {
		m.GridLayout = *p.GridLayout
	}
}

// WebRTCMetrics describes the real-time transport fabric.
type WebRTCMetrics struct {
	PeersConnected   int     `json:"peersConnected"`
	BytesTransferred int64   `json:"bytesTransferred"`
	PacketLoss       float64 `json:"packetLoss"` // fraction 0..1
	Jitter           float64 `json:"jitter"`     // milliseconds
	RoundTripTime    float64 `json:"roundTripTime"`
}

type WebRTCPatch struct {
	PeersConnected   *int     `json:"peersConnected,omitempty"`
	BytesTransferred *int64   `json:"bytesTransferred,omitempty"`
	PacketLoss       *float64 `json:"packetLoss,omitempty"`
	Jitter           *float64 `json:"jitter,omitempty"`
	RoundTripTime    *float64 `json:"roundTripTime,omitempty"`
}

func (m *WebRTCMetrics) Apply(p *WebRTCPatch) {
	if p == nil {
		return
	}
	if p.PeersConnected != nil {
		m.PeersConnected = *p.PeersConnected
	}
	if p.BytesTransferred != nil {
		m.BytesTransferred = *p.BytesTransferred
	}
	if p.PacketLoss != nil {
		m.PacketLoss = *p.PacketLoss
	}
	if p.Jitter != nil {
		m.Jitter = *p.Jitter
	}
	if p.RoundTripTime != nil {
		m.RoundTripTime = *p.RoundTripTime
	}
}

// SystemMetrics describes the host process serving the fleet.
type SystemMetrics struct {
	CPUUsage     float64 `json:"cpuUsage"`
	MemoryUsage  float64 `json:"memoryUsage"` // fraction 0..1
	ActiveRooms  int     `json:"activeRooms"`
	TotalViewers int     `json:"totalViewers"`
}

type SystemPatch struct {
	CPUUsage     *float64 `json:"cpuUsage,omitempty"`
	MemoryUsage  *float64 `json:"memoryUsage,omitempty"`
	ActiveRooms  *int     `json:"activeRooms,omitempty"`
	TotalViewers *int     `json:"totalViewers,omitempty"`
}

func (m *SystemMetrics) Apply(p *SystemPatch) {
	if p == nil {
		return
	}
	if p.CPUUsage != nil {
		m.CPUUsage = *p.CPUUsage
	}
	if p.MemoryUsage != nil {
		m.MemoryUsage = *p.MemoryUsage
	}
	if p.ActiveRooms != nil {
		m.ActiveRooms = *p.ActiveRooms
	}
	if p.TotalViewers != nil {
		m.TotalViewers = *p.TotalViewers
	}
}
