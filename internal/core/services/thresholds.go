package services

import "time"

// Thresholds holds the numeric limits the health checks evaluate against.
// Values are trusted inputs; the engine performs no range validation.
type Thresholds struct {
	MinBitrate       float64 // bps
	MaxBitrate       float64 // bps
	MinFPS           float64
	MaxFrameDropRate float64 // fraction 0..1
	MaxLatency       time.Duration
	MinCompositorFPS float64
	MaxPacketLoss    float64 // fraction 0..1
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinBitrate:       500_000,    // 500 Kbps
		MaxBitrate:       10_000_000, // 10 Mbps
		MinFPS:           20,
		MaxFrameDropRate: 0.05,
		MaxLatency:       5 * time.Second,
		MinCompositorFPS: 20,
		MaxPacketLoss:    0.05,
	}
}

func (t Thresholds) maxLatencyMillis() float64 {
	return float64(t.MaxLatency.Milliseconds())
}
