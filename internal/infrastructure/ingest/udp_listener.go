package ingest

import (
	"bytes"
	"context"
	"net"

	"streampulse/internal/core/domain"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// UDPServer receives RTP and RTCP datagrams forwarded by edge probes. Probes
// prefix every datagram with the stream id and a newline; the server strips
// the envelope and feeds the packet bytes to the sampler or adapter. Datagrams
// without a valid envelope are dropped.
type UDPServer struct {
	sampler *RTPSampler
	adapter *RTCPAdapter
	logger  *zap.SugaredLogger
}

func NewUDPServer(sampler *RTPSampler, adapter *RTCPAdapter, logger *zap.SugaredLogger) *UDPServer {
	return &UDPServer{
		sampler: sampler,
		adapter: adapter,
		logger:  logger,
	}
}

// ListenRTP binds the RTP ingest socket and serves it until ctx is cancelled.
// Returns the bound address, useful when the configured port is 0.
func (s *UDPServer) ListenRTP(ctx context.Context, address string) (net.Addr, error) {
	conn, err := listen(address)
	if err != nil {
		return nil, err
	}
	go s.serve(ctx, conn, s.handleRTP)
	return conn.LocalAddr(), nil
}

// ListenRTCP binds the RTCP ingest socket and serves it until ctx is cancelled.
func (s *UDPServer) ListenRTCP(ctx context.Context, address string) (net.Addr, error) {
	conn, err := listen(address)
	if err != nil {
		return nil, err
	}
	go s.serve(ctx, conn, s.handleRTCP)
	return conn.LocalAddr(), nil
}

func listen(address string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", addr)
}

func (s *UDPServer) serve(ctx context.Context, conn *net.UDPConn, handle func(domain.StreamID, []byte)) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnw("udp ingest read failed", "error", err)
			return
		}

		streamID, payload, ok := splitEnvelope(buf[:n])
		if !ok {
			s.logger.Debugw("dropping datagram without stream envelope", "bytes", n)
			continue
		}
		handle(streamID, payload)
	}
}

func (s *UDPServer) handleRTP(streamID domain.StreamID, payload []byte) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(payload); err != nil {
		s.logger.Debugw("dropping malformed RTP datagram", "stream_id", streamID, "error", err)
		return
	}
	s.sampler.Observe(streamID, &pkt)
}

func (s *UDPServer) handleRTCP(streamID domain.StreamID, payload []byte) {
	if err := s.adapter.ProcessRaw(streamID, payload); err != nil {
		s.logger.Debugw("dropping malformed RTCP datagram", "stream_id", streamID, "error", err)
	}
}

// splitEnvelope separates the stream id line from the packet bytes.
func splitEnvelope(data []byte) (domain.StreamID, []byte, bool) {
	i := bytes.IndexByte(data, '\n')
	if i <= 0 || i == len(data)-1 {
		return "", nil, false
	}
	return domain.StreamID(data[:i]), data[i+1:], true
}
