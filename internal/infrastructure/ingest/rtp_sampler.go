package ingest

import (
	"sync"
	"time"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

type rtpWindow struct {
	bytes   int64
	frames  int64
	packets int64
	start   time.Time
}

// RTPSampler derives bitrate and frame rate from raw RTP packet flow. Each
// stream accumulates a window; Flush converts the windows into metric
// patches. Frame boundaries are counted from marker bits, which holds for
// the video payloads the probes forward.
type RTPSampler struct {
	mu      sync.Mutex
	windows map[domain.StreamID]*rtpWindow

	engine ports.Engine
	logger *zap.SugaredLogger
}

func NewRTPSampler(engine ports.Engine, logger *zap.SugaredLogger) *RTPSampler {
	return &RTPSampler{
		windows: make(map[domain.StreamID]*rtpWindow),
		engine:  engine,
		logger:  logger,
	}
}

// Observe accounts one RTP packet against the stream's current window.
func (s *RTPSampler) Observe(streamID domain.StreamID, pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[streamID]
	if !ok {
		w = &rtpWindow{start: time.Now()}
		s.windows[streamID] = w
	}
	w.bytes += int64(pkt.MarshalSize())
	w.packets++
	if pkt.Marker {
		w.frames++
	}
}

// Flush converts every accumulated window into a metrics patch and resets
// the windows. Call it on a fixed tick; windows younger than 100ms are
// skipped to avoid wild extrapolation.
func (s *RTPSampler) Flush() {
	s.mu.Lock()
	windows := s.windows
	s.windows = make(map[domain.StreamID]*rtpWindow)
	s.mu.Unlock()

	now := time.Now()
	for streamID, w := range windows {
		elapsed := now.Sub(w.start).Seconds()
		if elapsed < 0.1 || w.packets == 0 {
			continue
		}

		bitrate := float64(w.bytes*8) / elapsed
		fps := float64(w.frames) / elapsed

		patch := &domain.MetricsPatch{Bitrate: &bitrate}
		if w.frames > 0 {
			patch.FPS = &fps
		}

		if err := s.engine.UpdateMetrics(streamID, patch); err != nil {
			s.logger.Debugw("dropping RTP sample for unknown stream",
				"stream_id", streamID,
				"error", err,
			)
		}
	}
}

// Run flushes on a fixed interval until stop closes.
func (s *RTPSampler) Run(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}
