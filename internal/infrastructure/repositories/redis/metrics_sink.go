package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"
	"streampulse/pkg/retry"
	"streampulse/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

// RedisMetricsSink persists monitoring data into a time-indexed keyspace:
//
//	<prefix>:metrics:streams           set of stream ids with stored samples
//	<prefix>:metrics:stream:<id>       zset of status JSON scored by timestamp
//	<prefix>:status:<id>               latest status JSON
//	<prefix>:alerts:data               hash alert id -> alert JSON
//	<prefix>:alerts:index              zset of alert ids scored by raise time
//	<prefix>:aggregated                zset of rollup JSON scored by timestamp
type RedisMetricsSink struct {
	client   *redis.Client
	prefix   string
	retryCfg retry.Config
}

func NewRedisMetricsSink(client *redis.Client, prefix string) ports.MetricsSink {
	if prefix == "" {
		prefix = "streampulse"
	}
	return &RedisMetricsSink{
		client:   client,
		prefix:   prefix,
		retryCfg: retry.DefaultConfig(),
	}
}

func (s *RedisMetricsSink) streamIndexKey() string {
	return s.prefix + ":metrics:streams"
}

func (s *RedisMetricsSink) streamMetricsKey(id domain.StreamID) string {
	return s.prefix + ":metrics:stream:" + string(id)
}

func (s *RedisMetricsSink) statusKey(id domain.StreamID) string {
	return s.prefix + ":status:" + string(id)
}

func (s *RedisMetricsSink) alertDataKey() string {
	return s.prefix + ":alerts:data"
}

func (s *RedisMetricsSink) alertIndexKey() string {
	return s.prefix + ":alerts:index"
}

func (s *RedisMetricsSink) aggregatedKey() string {
	return s.prefix + ":aggregated"
}

func (s *RedisMetricsSink) SaveStreamMetrics(ctx context.Context, status *domain.StreamStatus) error {
	ctx, span := tracing.TraceSinkOperation(ctx, "save", "metrics")
	defer span.End()

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal stream status: %w", err)
	}

	err = retry.Do(ctx, s.retryCfg, func() error {
		pipe := s.client.Pipeline()
		pipe.SAdd(ctx, s.streamIndexKey(), string(status.StreamID))
		pipe.ZAdd(ctx, s.streamMetricsKey(status.StreamID), redis.Z{
			Score:  float64(status.LastUpdate),
			Member: data,
		})
		pipe.Set(ctx, s.statusKey(status.StreamID), data, 0)
		_, execErr := pipe.Exec(ctx)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to save stream metrics in Redis: %w", err)
	}
	return nil
}

// SaveAlert writes the alert's current state. Called on both raise and
// resolve, so resolved alerts overwrite their raised record in place.
func (s *RedisMetricsSink) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	ctx, span := tracing.TraceSinkOperation(ctx, "save", "alerts")
	defer span.End()

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	err = retry.Do(ctx, s.retryCfg, func() error {
		pipe := s.client.Pipeline()
		pipe.HSet(ctx, s.alertDataKey(), alert.ID, data)
		pipe.ZAdd(ctx, s.alertIndexKey(), redis.Z{
			Score:  float64(alert.Timestamp),
			Member: alert.ID,
		})
		_, execErr := pipe.Exec(ctx)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to save alert in Redis: %w", err)
	}
	return nil
}

func (s *RedisMetricsSink) SaveAggregatedSample(ctx context.Context, sample *domain.AggregatedSample) error {
	ctx, span := tracing.TraceSinkOperation(ctx, "save", "aggregated")
	defer span.End()

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregated sample: %w", err)
	}

	err = retry.Do(ctx, s.retryCfg, func() error {
		return s.client.ZAdd(ctx, s.aggregatedKey(), redis.Z{
			Score:  float64(sample.Timestamp),
			Member: data,
		}).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to save aggregated sample in Redis: %w", err)
	}
	return nil
}

// TrimBefore drops every record scored at or before cutoff across all
// time-indexed keys.
func (s *RedisMetricsSink) TrimBefore(ctx context.Context, cutoff int64) error {
	ctx, span := tracing.TraceSinkOperation(ctx, "trim", "all")
	defer span.End()

	maxScore := strconv.FormatInt(cutoff, 10)

	streamIDs, err := s.client.SMembers(ctx, s.streamIndexKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list stream metric keys: %w", err)
	}
	for _, id := range streamIDs {
		if err := s.client.ZRemRangeByScore(ctx, s.streamMetricsKey(domain.StreamID(id)), "-inf", maxScore).Err(); err != nil {
			return fmt.Errorf("failed to trim metrics for stream %s: %w", id, err)
		}
	}

	// Expired alert ids come out of the index first so their hash entries
	// can be deleted with them.
	expired, err := s.client.ZRangeByScore(ctx, s.alertIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list expired alerts: %w", err)
	}
	if len(expired) > 0 {
		pipe := s.client.Pipeline()
		pipe.HDel(ctx, s.alertDataKey(), expired...)
		pipe.ZRemRangeByScore(ctx, s.alertIndexKey(), "-inf", maxScore)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to trim alerts in Redis: %w", err)
		}
	}

	if err := s.client.ZRemRangeByScore(ctx, s.aggregatedKey(), "-inf", maxScore).Err(); err != nil {
		return fmt.Errorf("failed to trim aggregated samples in Redis: %w", err)
	}
	return nil
}

func (s *RedisMetricsSink) Close() error {
	return CloseRedisClient(s.client)
}
