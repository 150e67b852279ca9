package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Monitoring struct {
		HistorySize         int           `yaml:"history_size"`
		CollectionInterval  time.Duration `yaml:"collection_interval"`
		AggregationInterval time.Duration `yaml:"aggregation_interval"`
		CleanupInterval     time.Duration `yaml:"cleanup_interval"`
		AggregatedRetention time.Duration `yaml:"aggregated_retention"`
		AlertRetention      time.Duration `yaml:"alert_retention"`

		Thresholds struct {
			MinBitrate       float64       `yaml:"min_bitrate"` // bps
			MaxBitrate       float64       `yaml:"max_bitrate"` // bps
			MinFPS           float64       `yaml:"min_fps"`
			MaxFrameDropRate float64       `yaml:"max_frame_drop_rate"`
			MaxLatency       time.Duration `yaml:"max_latency"`
			MinCompositorFPS float64       `yaml:"min_compositor_fps"`
			MaxPacketLoss    float64       `yaml:"max_packet_loss"`
		} `yaml:"thresholds"`
	} `yaml:"monitoring"`

	WebSocket struct {
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		SendBufferSize      int           `yaml:"send_buffer_size"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		AllowedOrigins      []string      `yaml:"allowed_origins"`
	} `yaml:"websocket"`

	Ingest struct {
		Enabled       bool          `yaml:"enabled"`
		RTPAddress    string        `yaml:"rtp_address"`
		RTCPAddress   string        `yaml:"rtcp_address"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"ingest"`

	Telemetry struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		PrometheusPath    string `yaml:"prometheus_path"`

		Tracing struct {
			Enabled        bool    `yaml:"enabled"`
			JaegerEndpoint string  `yaml:"jaeger_endpoint"`
			SampleRatio    float64 `yaml:"sample_ratio"`
		} `yaml:"tracing"`
	} `yaml:"telemetry"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Monitoring
	if c.Monitoring.HistorySize <= 0 {
		return fmt.Errorf("monitoring.history_size must be > 0")
	}
	if c.Monitoring.CollectionInterval <= 0 {
		return fmt.Errorf("monitoring.collection_interval must be > 0")
	}
	if c.Monitoring.AggregationInterval <= 0 {
		return fmt.Errorf("monitoring.aggregation_interval must be > 0")
	}
	if c.Monitoring.CleanupInterval <= 0 {
		return fmt.Errorf("monitoring.cleanup_interval must be > 0")
	}
	if c.Monitoring.AggregatedRetention <= 0 {
		return fmt.Errorf("monitoring.aggregated_retention must be > 0")
	}
	if c.Monitoring.AlertRetention <= 0 {
		return fmt.Errorf("monitoring.alert_retention must be > 0")
	}

	t := c.Monitoring.Thresholds
	if t.MinBitrate <= 0 {
		return fmt.Errorf("monitoring.thresholds.min_bitrate must be > 0")
	}
	if t.MaxBitrate <= t.MinBitrate {
		return fmt.Errorf("monitoring.thresholds.max_bitrate must be > min_bitrate")
	}
	if t.MinFPS <= 0 {
		return fmt.Errorf("monitoring.thresholds.min_fps must be > 0")
	}
	if t.MaxFrameDropRate <= 0 || t.MaxFrameDropRate >= 1 {
		return fmt.Errorf("monitoring.thresholds.max_frame_drop_rate must be in (0, 1)")
	}
	if t.MaxLatency <= 0 {
		return fmt.Errorf("monitoring.thresholds.max_latency must be > 0")
	}
	if t.MinCompositorFPS <= 0 {
		return fmt.Errorf("monitoring.thresholds.min_compositor_fps must be > 0")
	}
	if t.MaxPacketLoss <= 0 || t.MaxPacketLoss >= 1 {
		return fmt.Errorf("monitoring.thresholds.max_packet_loss must be in (0, 1)")
	}

	// WebSocket
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket.ping_interval must be > 0")
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_timeout must be > ping_interval")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket.send_buffer_size must be > 0")
	}
	if c.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("websocket.max_message_size_bytes must be >= 0")
	}

	// Ingest
	if c.Ingest.Enabled {
		if c.Ingest.RTPAddress == "" {
			return fmt.Errorf("ingest.rtp_address must not be empty when ingest is enabled")
		}
		if c.Ingest.RTCPAddress == "" {
			return fmt.Errorf("ingest.rtcp_address must not be empty when ingest is enabled")
		}
		if c.Ingest.FlushInterval <= 0 {
			return fmt.Errorf("ingest.flush_interval must be > 0 when ingest is enabled")
		}
	}

	// Telemetry
	if c.Telemetry.Tracing.Enabled {
		if c.Telemetry.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("telemetry.tracing.jaeger_endpoint must not be empty when tracing is enabled")
		}
		if c.Telemetry.Tracing.SampleRatio < 0 || c.Telemetry.Tracing.SampleRatio > 1 {
			return fmt.Errorf("telemetry.tracing.sample_ratio must be in [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Default values
	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Monitoring.HistorySize = 60
	cfg.Monitoring.CollectionInterval = 10 * time.Second
	cfg.Monitoring.AggregationInterval = time.Minute
	cfg.Monitoring.CleanupInterval = 5 * time.Minute
	cfg.Monitoring.AggregatedRetention = 24 * time.Hour
	cfg.Monitoring.AlertRetention = 7 * 24 * time.Hour // 7 days

	cfg.Monitoring.Thresholds.MinBitrate = 500_000    // 500 Kbps
	cfg.Monitoring.Thresholds.MaxBitrate = 10_000_000 // 10 Mbps
	cfg.Monitoring.Thresholds.MinFPS = 20
	cfg.Monitoring.Thresholds.MaxFrameDropRate = 0.05
	cfg.Monitoring.Thresholds.MaxLatency = 5 * time.Second
	cfg.Monitoring.Thresholds.MinCompositorFPS = 20
	cfg.Monitoring.Thresholds.MaxPacketLoss = 0.05

	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.PongTimeout = 60 * time.Second
	cfg.WebSocket.WriteTimeout = 10 * time.Second
	cfg.WebSocket.SendBufferSize = 64
	cfg.WebSocket.MaxMessageSizeBytes = 64 * 1024
	cfg.WebSocket.AllowedOrigins = []string{"*"}

	cfg.Ingest.Enabled = false
	cfg.Ingest.RTPAddress = ":5004"
	cfg.Ingest.RTCPAddress = ":5005"
	cfg.Ingest.FlushInterval = time.Second

	cfg.Telemetry.PrometheusEnabled = true
	cfg.Telemetry.PrometheusPath = "/metrics"
	cfg.Telemetry.Tracing.Enabled = false
	cfg.Telemetry.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Telemetry.Tracing.SampleRatio = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "streampulse"

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if addr := os.Getenv("STREAMPULSE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("STREAMPULSE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("STREAMPULSE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if pass := os.Getenv("STREAMPULSE_REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}
	if endpoint := os.Getenv("STREAMPULSE_JAEGER_ENDPOINT"); endpoint != "" {
		c.Telemetry.Tracing.JaegerEndpoint = endpoint
		c.Telemetry.Tracing.Enabled = true
	}
	if size := os.Getenv("STREAMPULSE_HISTORY_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil && n > 0 {
			c.Monitoring.HistorySize = n
		}
	}
}

// Watch reloads the config file on change and invokes onReload with each
// successfully parsed and validated result. Invalid intermediate states are
// skipped, keeping the last good config in effect. Watch returns after
// installing the watcher; it stops when ctx is cancelled.
func Watch(ctx context.Context, configPath string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save and
	// the inode-level watch would be lost.
	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config dir %s: %w", dir, err)
	}

	target := filepath.Clean(configPath)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(configPath)
				if err != nil {
					continue
				}
				onReload(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}
