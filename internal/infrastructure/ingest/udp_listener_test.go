package ingest

import (
	"context"
	"net"
	"testing"
	"time"

	"streampulse/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestUDPServer(t *testing.T) (*UDPServer, *RTPSampler, *RTCPAdapter, context.Context) {
	t.Helper()
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterStream("stream-1", ""))

	logger := zap.NewNop().Sugar()
	sampler := NewRTPSampler(engine, logger)
	adapter := NewRTCPAdapter(engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewUDPServer(sampler, adapter, logger), sampler, adapter, ctx
}

func TestUDPServer_RTPDatagramFeedsSampler(t *testing.T) {
	srv, sampler, _, ctx := newTestUDPServer(t)

	addr, err := srv.ListenRTP(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, Marker: true},
		Payload: make([]byte, 100),
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = conn.Write(append([]byte("stream-1\n"), raw...))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sampler.mu.Lock()
		defer sampler.mu.Unlock()
		w, ok := sampler.windows["stream-1"]
		return ok && w.packets == 1 && w.frames == 1
	}, 2*time.Second, 10*time.Millisecond, "expected the datagram to reach the sampler")
}

func TestUDPServer_RTCPDatagramFeedsAdapter(t *testing.T) {
	srv, _, adapter, ctx := newTestUDPServer(t)

	addr, err := srv.ListenRTCP(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	rr := &rtcp.ReceiverReport{
		Reports: []rtcp.ReceptionReport{{FractionLost: 64, Jitter: 30}},
	}
	raw, err := rr.Marshal()
	require.NoError(t, err)

	_, err = conn.Write(append([]byte("stream-1\n"), raw...))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return adapter.engine.FleetSnapshot().WebRTC.Jitter == 30
	}, 2*time.Second, 10*time.Millisecond, "expected the report to reach the engine")
}

// A datagram without the stream envelope is dropped without killing the
// read loop.
func TestUDPServer_DropsUnenvelopedDatagrams(t *testing.T) {
	srv, sampler, _, ctx := newTestUDPServer(t)

	addr, err := srv.ListenRTP(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2}, Payload: make([]byte, 50)}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = conn.Write(append([]byte("stream-1\n"), raw...))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sampler.mu.Lock()
		defer sampler.mu.Unlock()
		w, ok := sampler.windows["stream-1"]
		return ok && w.packets == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSplitEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantID  domain.StreamID
		wantOK  bool
		payload string
	}{
		{"valid", []byte("stream-1\nDATA"), "stream-1", true, "DATA"},
		{"no newline", []byte("just-bytes"), "", false, ""},
		{"empty id", []byte("\npayload"), "", false, ""},
		{"empty payload", []byte("stream-1\n"), "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, payload, ok := splitEnvelope(tt.data)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, id)
				assert.Equal(t, tt.payload, string(payload))
			}
		})
	}
}
