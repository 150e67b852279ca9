package ingest

import (
	"time"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"

	"github.com/pion/rtcp"
	"go.uber.org/zap"
)

// RTCPAdapter translates RTCP feedback from transport probes into engine
// metric updates: receiver reports feed per-stream latency and the
// fleet-level packet loss and jitter figures.
type RTCPAdapter struct {
	engine ports.Engine
	logger *zap.SugaredLogger
}

func NewRTCPAdapter(engine ports.Engine, logger *zap.SugaredLogger) *RTCPAdapter {
	return &RTCPAdapter{
		engine: engine,
		logger: logger,
	}
}

// ProcessRaw unmarshals a compound RTCP datagram and processes it.
func (a *RTCPAdapter) ProcessRaw(streamID domain.StreamID, data []byte) error {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return err
	}
	a.Process(streamID, packets)
	return nil
}

// Process extracts quality metrics from RTCP packets.
func (a *RTCPAdapter) Process(streamID domain.StreamID, packets []rtcp.Packet) {
	var totalLoss float64
	var totalJitter float64
	var totalRTT time.Duration
	reportCount := 0

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				// FractionLost is a fixed-point 8-bit fraction
				totalLoss += float64(report.FractionLost) / 256.0
				totalJitter += float64(report.Jitter)
				reportCount++

				if report.Delay > 0 {
					// RTT estimation (simplified)
					rtt := time.Duration(report.Delay) * time.Second / 65536
					totalRTT += rtt
				}
			}

		case *rtcp.SenderReport:
			a.logger.Debugw("received sender report",
				"stream_id", streamID,
				"packet_count", p.PacketCount,
				"octet_count", p.OctetCount,
			)

		case *rtcp.TransportLayerNack:
			a.logger.Debugw("received NACK",
				"stream_id", streamID,
				"nacks", len(p.Nacks),
			)

		case *rtcp.PictureLossIndication:
			a.logger.Debugw("received PLI", "stream_id", streamID)
		}
	}

	if reportCount == 0 {
		return
	}

	packetLoss := totalLoss / float64(reportCount)
	jitter := totalJitter / float64(reportCount)
	rttMillis := float64(totalRTT.Milliseconds()) / float64(reportCount)

	a.engine.UpdateWebRTCMetrics(&domain.WebRTCPatch{
		PacketLoss:    &packetLoss,
		Jitter:        &jitter,
		RoundTripTime: &rttMillis,
	})

	if streamID != "" && rttMillis > 0 {
		if err := a.engine.UpdateMetrics(streamID, &domain.MetricsPatch{
			Latency: &rttMillis,
		}); err != nil {
			a.logger.Debugw("dropping RTCP latency for unknown stream",
				"stream_id", streamID,
				"error", err,
			)
		}
	}
}
