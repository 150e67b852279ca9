package ingest

import (
	"testing"
	"time"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/services"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *services.MonitoringService {
	t.Helper()
	return services.NewMonitoringService(services.Options{}, nil, zap.NewNop().Sugar())
}

func TestRTCPAdapter_ReceiverReportFeedsMetrics(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterStream("stream-1", ""))

	adapter := NewRTCPAdapter(engine, zap.NewNop().Sugar())
	adapter.Process("stream-1", []rtcp.Packet{
		&rtcp.ReceiverReport{
			Reports: []rtcp.ReceptionReport{
				{
					FractionLost: 64,    // 64/256 = 0.25
					Jitter:       30,
					Delay:        65536, // one second in 1/65536 units
				},
			},
		},
	})

	snapshot := engine.FleetSnapshot()
	assert.InDelta(t, 0.25, snapshot.WebRTC.PacketLoss, 1e-9)
	assert.InDelta(t, 30.0, snapshot.WebRTC.Jitter, 1e-9)
	assert.InDelta(t, 1000.0, snapshot.WebRTC.RoundTripTime, 1e-9)

	// RTT lands on the stream as latency.
	status, err := engine.StreamStatus("stream-1")
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, status.Metrics.Latency, 1e-9)

	// 25% loss is over the fleet threshold.
	alerts := engine.ActiveAlerts(domain.AlertFilter{Type: domain.AlertPacketLoss})
	require.Len(t, alerts, 1)
}

func TestRTCPAdapter_NoReportsNoUpdate(t *testing.T) {
	engine := newTestEngine(t)
	adapter := NewRTCPAdapter(engine, zap.NewNop().Sugar())

	adapter.Process("", []rtcp.Packet{
		&rtcp.SenderReport{PacketCount: 10},
		&rtcp.PictureLossIndication{},
	})

	assert.Zero(t, engine.FleetSnapshot().WebRTC.PacketLoss)
}

func TestRTCPAdapter_ProcessRawRejectsGarbage(t *testing.T) {
	engine := newTestEngine(t)
	adapter := NewRTCPAdapter(engine, zap.NewNop().Sugar())

	assert.Error(t, adapter.ProcessRaw("stream-1", []byte{0x01, 0x02}))
}

func TestRTPSampler_FlushDerivesBitrateAndFPS(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterStream("stream-1", ""))

	sampler := NewRTPSampler(engine, zap.NewNop().Sugar())

	for i := 0; i < 10; i++ {
		pkt := &rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Marker: i%5 == 4},
			Payload: make([]byte, 1188),
		}
		sampler.Observe("stream-1", pkt)
	}

	// Age the window so the flush has a meaningful denominator.
	sampler.mu.Lock()
	sampler.windows["stream-1"].start = time.Now().Add(-time.Second)
	sampler.mu.Unlock()

	sampler.Flush()

	status, err := engine.StreamStatus("stream-1")
	require.NoError(t, err)
	// 10 packets at 1200 bytes each over ~1s.
	assert.InDelta(t, 96_000, status.Metrics.Bitrate, 5_000)
	// Two marker bits over ~1s.
	assert.InDelta(t, 2.0, status.Metrics.FPS, 0.2)

	// Windows reset after a flush.
	sampler.mu.Lock()
	assert.Empty(t, sampler.windows)
	sampler.mu.Unlock()
}

func TestRTPSampler_SkipsYoungWindows(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterStream("stream-1", ""))

	sampler := NewRTPSampler(engine, zap.NewNop().Sugar())
	sampler.Observe("stream-1", &rtp.Packet{Payload: make([]byte, 100)})
	sampler.Flush()

	status, err := engine.StreamStatus("stream-1")
	require.NoError(t, err)
	assert.Zero(t, status.Metrics.Bitrate)
}

func TestRTPSampler_UnknownStreamIsDropped(t *testing.T) {
	engine := newTestEngine(t)
	sampler := NewRTPSampler(engine, zap.NewNop().Sugar())

	sampler.Observe("ghost", &rtp.Packet{Payload: make([]byte, 100)})
	sampler.mu.Lock()
	sampler.windows["ghost"].start = time.Now().Add(-time.Second)
	sampler.mu.Unlock()

	// Must not panic or register anything.
	sampler.Flush()
	assert.Empty(t, engine.FleetSnapshot().Streams)
}
