package services

import (
	"context"
	"sync"
	"time"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"

	"go.uber.org/zap"
)

// Options bundles the tunables the engine is constructed with. Zero values
// fall back to the same defaults the config layer ships with.
type Options struct {
	Thresholds          Thresholds
	HistoryCapacity     int
	AggregatedRetention time.Duration
	AlertRetention      time.Duration
	CollectionInterval  time.Duration
	AggregationInterval time.Duration
	CleanupInterval     time.Duration
}

func DefaultOptions() Options {
	return Options{
		Thresholds:          DefaultThresholds(),
		HistoryCapacity:     60,
		AggregatedRetention: 24 * time.Hour,
		AlertRetention:      7 * 24 * time.Hour,
		CollectionInterval:  10 * time.Second,
		AggregationInterval: time.Minute,
		CleanupInterval:     5 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = d.Thresholds
	}
	if o.HistoryCapacity <= 0 {
		o.HistoryCapacity = d.HistoryCapacity
	}
	if o.AggregatedRetention <= 0 {
		o.AggregatedRetention = d.AggregatedRetention
	}
	if o.AlertRetention <= 0 {
		o.AlertRetention = d.AlertRetention
	}
	if o.CollectionInterval <= 0 {
		o.CollectionInterval = d.CollectionInterval
	}
	if o.AggregationInterval <= 0 {
		o.AggregationInterval = d.AggregationInterval
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = d.CleanupInterval
	}
	return o
}

// MonitoringService is the engine facade: it wires the alert registry, the
// metrics aggregator and the event broker together, runs the periodic
// collection, aggregation and cleanup loops, and forwards persistable events
// to the sink when one is configured.
type MonitoringService struct {
	opts       Options
	broker     *Broker
	registry   *AlertRegistry
	aggregator *MetricsAggregator
	sink       ports.MetricsSink
	logger     *zap.SugaredLogger

	startOnce sync.Once
	stop      context.CancelFunc
	done      chan struct{}
}

// NewMonitoringService builds an engine. sink may be nil, in which case no
// persistence is attempted.
func NewMonitoringService(opts Options, sink ports.MetricsSink, logger *zap.SugaredLogger) *MonitoringService {
	opts = opts.withDefaults()

	broker := NewBroker(logger)
	registry := NewAlertRegistry(broker, logger)
	aggregator := NewMetricsAggregator(
		opts.Thresholds,
		opts.HistoryCapacity,
		opts.AggregatedRetention,
		registry,
		broker,
		logger,
	)

	return &MonitoringService{
		opts:       opts,
		broker:     broker,
		registry:   registry,
		aggregator: aggregator,
		sink:       sink,
		logger:     logger,
	}
}

// Subscribe exposes the engine's event feed to collaborators.
func (s *MonitoringService) Subscribe(buffer int) (<-chan domain.Event, func()) {
	return s.broker.Subscribe(buffer)
}

// Start launches the persistence forwarder and the periodic loops. Calling
// Start more than once is a no-op.
func (s *MonitoringService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.stop = context.WithCancel(ctx)
		s.done = make(chan struct{})

		if s.sink != nil {
			events, cancel := s.broker.Subscribe(256)
			go s.persistLoop(ctx, events, cancel)
		}

		go s.run(ctx)
		s.logger.Infow("monitoring engine started",
			"collection_interval", s.opts.CollectionInterval,
			"aggregation_interval", s.opts.AggregationInterval,
		)
	})
}

// Shutdown stops the loops, closes the broker (closing every subscriber
// channel) and closes the sink.
func (s *MonitoringService) Shutdown() {
	if s.stop != nil {
		s.stop()
		<-s.done
	}
	s.broker.Close()
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Warnw("sink close failed", "error", err)
		}
	}
	s.logger.Infow("monitoring engine stopped")
}

func (s *MonitoringService) run(ctx context.Context) {
	defer close(s.done)

	collect := time.NewTicker(s.opts.CollectionInterval)
	aggregate := time.NewTicker(s.opts.AggregationInterval)
	cleanup := time.NewTicker(s.opts.CleanupInterval)
	defer collect.Stop()
	defer aggregate.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-collect.C:
			snapshot := s.aggregator.FleetSnapshot()
			s.broker.Publish(domain.Event{Type: domain.EventMetricsCollected, Payload: snapshot})
		case <-aggregate.C:
			s.aggregator.AggregateMetrics()
		case <-cleanup.C:
			cutoff := domain.NowMillis() - s.opts.AlertRetention.Milliseconds()
			removed := s.registry.Cleanup(cutoff)
			s.aggregator.Cleanup(cutoff)
			if s.sink != nil {
				if err := s.sink.TrimBefore(ctx, cutoff); err != nil {
					s.logger.Warnw("sink trim failed", "error", err)
				}
			}
			s.logger.Debugw("cleanup pass complete", "alerts_removed", removed)
		}
	}
}

// persistLoop forwards persistable events to the sink. Failures are logged
// and dropped; persistence never feeds back into the engine.
func (s *MonitoringService) persistLoop(ctx context.Context, events <-chan domain.Event, cancel func()) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.persistEvent(ctx, evt)
		}
	}
}

func (s *MonitoringService) persistEvent(ctx context.Context, evt domain.Event) {
	var err error
	switch evt.Type {
	case domain.EventAlertRaised, domain.EventAlertResolved:
		if alert, ok := evt.Payload.(*domain.Alert); ok {
			err = s.sink.SaveAlert(ctx, alert)
		}
	case domain.EventMetricsUpdated:
		if update, ok := evt.Payload.(domain.MetricsUpdate); ok {
			if status, statusErr := s.StreamStatus(update.StreamID); statusErr == nil {
				err = s.sink.SaveStreamMetrics(ctx, status)
			}
		}
	case domain.EventAggregationCompleted:
		if sample, ok := evt.Payload.(*domain.AggregatedSample); ok {
			err = s.sink.SaveAggregatedSample(ctx, sample)
		}
	default:
		return
	}

	if err != nil {
		s.logger.Warnw("persistence write failed", "event_type", evt.Type, "error", err)
	}
}

// --- ingress ---

func (s *MonitoringService) RegisterStream(id domain.StreamID, url string) error {
	_, err := s.aggregator.Register(id, url)
	return err
}

func (s *MonitoringService) UnregisterStream(id domain.StreamID) {
	s.aggregator.Unregister(id)
}

func (s *MonitoringService) UpdateMetrics(id domain.StreamID, patch *domain.MetricsPatch) error {
	monitor, ok := s.aggregator.Monitor(id)
	if !ok {
		return domain.ErrStreamNotFound
	}
	monitor.UpdateMetrics(patch)
	return nil
}

func (s *MonitoringService) SetState(id domain.StreamID, state domain.StreamState) error {
	monitor, ok := s.aggregator.Monitor(id)
	if !ok {
		return domain.ErrStreamNotFound
	}
	monitor.SetState(state)
	return nil
}

func (s *MonitoringService) RecordError(id domain.StreamID, message string) error {
	monitor, ok := s.aggregator.Monitor(id)
	if !ok {
		return domain.ErrStreamNotFound
	}
	monitor.RecordError(message)
	return nil
}

func (s *MonitoringService) UpdateCompositorMetrics(patch *domain.CompositorPatch) {
	s.aggregator.UpdateCompositorMetrics(patch)
}

func (s *MonitoringService) UpdateWebRTCMetrics(patch *domain.WebRTCPatch) {
	s.aggregator.UpdateWebRTCMetrics(patch)
}

func (s *MonitoringService) UpdateSystemMetrics(patch *domain.SystemPatch) {
	s.aggregator.UpdateSystemMetrics(patch)
}

func (s *MonitoringService) ResolveAlert(alertID string) (*domain.Alert, error) {
	alert := s.registry.Resolve(alertID)
	if alert == nil {
		return nil, domain.ErrAlertNotFound
	}
	return alert, nil
}

// SetThresholds applies a new threshold set engine-wide. Used by config hot
// reload.
func (s *MonitoringService) SetThresholds(t Thresholds) {
	s.aggregator.SetThresholds(t)
}

// --- queries ---

func (s *MonitoringService) FleetSnapshot() *domain.FleetSnapshot {
	return s.aggregator.FleetSnapshot()
}

func (s *MonitoringService) StreamStatus(id domain.StreamID) (*domain.StreamStatus, error) {
	monitor, ok := s.aggregator.Monitor(id)
	if !ok {
		return nil, domain.ErrStreamNotFound
	}
	return monitor.Status(), nil
}

func (s *MonitoringService) StreamHistory(id domain.StreamID, metric string, limit int) ([]domain.HistoryPoint, error) {
	monitor, ok := s.aggregator.Monitor(id)
	if !ok {
		return nil, domain.ErrStreamNotFound
	}
	return monitor.History(metric, limit), nil
}

func (s *MonitoringService) Summary() domain.FleetSummary {
	return s.aggregator.Summary()
}

func (s *MonitoringService) HistoricalMetrics(hours int) []*domain.AggregatedSample {
	return s.aggregator.HistoricalMetrics(hours)
}

func (s *MonitoringService) Statistics() *domain.Statistics {
	return s.aggregator.Statistics()
}

func (s *MonitoringService) ActiveAlerts(filter domain.AlertFilter) []*domain.Alert {
	return s.registry.Active(filter)
}

func (s *MonitoringService) AlertHistory(limit int, filter domain.AlertFilter) []*domain.Alert {
	return s.registry.History(limit, filter)
}

func (s *MonitoringService) AlertStats() domain.AlertStats {
	return s.registry.Stats()
}
