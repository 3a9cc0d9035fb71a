package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type AudioProfile struct {
	Bitrate      int `yaml:"bitrate"`
	SampleRate   int `yaml:"sample_rate"`
	ChannelCount int `yaml:"channel_count"`
}

type VideoProfile struct {
	Bitrate          int     `yaml:"bitrate"`
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	FPS              float64 `yaml:"fps"`
	KeyframeInterval float64 `yaml:"keyframe_interval"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Bridge struct {
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		SendBuffer     int           `yaml:"send_buffer"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"bridge"`

	Session struct {
		InitRetryDelay  time.Duration `yaml:"init_retry_delay"`
		InitMaxAttempts int           `yaml:"init_max_attempts"`
	} `yaml:"session"`

	Registry struct {
		LookupAttempts  int           `yaml:"lookup_attempts"`
		LookupBaseDelay time.Duration `yaml:"lookup_base_delay"`
		TombstoneTTL    time.Duration `yaml:"tombstone_ttl"`
	} `yaml:"registry"`

	Device struct {
		Platform         string  `yaml:"platform"` // android, ios
		APILevel         int     `yaml:"api_level"`
		OSVersion        string  `yaml:"os_version"`
		LowPower         bool    `yaml:"low_power"`
		CameraAvailable  bool    `yaml:"camera_available"`
		MicrophoneFaulty bool    `yaml:"microphone_faulty"`
		MinZoom          float64 `yaml:"min_zoom"`
		MaxZoom          float64 `yaml:"max_zoom"`
	} `yaml:"device"`

	Permissions struct {
		Granted   []string `yaml:"granted"`
		OnRequest []string `yaml:"on_request"` // granted once asked
		Rationale []string `yaml:"rationale"`  // refused, may ask again
		Denied    []string `yaml:"denied"`     // refused permanently
	} `yaml:"permissions"`

	Ingest struct {
		DefaultURL       string        `yaml:"default_url"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		DialAttempts     int           `yaml:"dial_attempts"`
		DialBaseDelay    time.Duration `yaml:"dial_base_delay"`
		ChunkSize        uint32        `yaml:"chunk_size"`
		BreakerFailures  int           `yaml:"breaker_failures"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
		LivenessInterval time.Duration `yaml:"liveness_interval"`
		KeyLockTTL       time.Duration `yaml:"key_lock_ttl"` // 0 disables; needs redis
	} `yaml:"ingest"`

	Profiles struct {
		Audio AudioProfile `yaml:"audio"`
		Video VideoProfile `yaml:"video"`
	} `yaml:"profiles"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		Issuer    string        `yaml:"issuer"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`
		HTTP    struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`
		Bridge struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"bridge"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
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

	// Bridge
	if c.Bridge.Path == "" {
		return fmt.Errorf("bridge.path must not be empty")
	}
	if c.Bridge.PingInterval <= 0 {
		return fmt.Errorf("bridge.ping_interval must be > 0")
	}
	if c.Bridge.PongTimeout <= c.Bridge.PingInterval {
		return fmt.Errorf("bridge.pong_timeout must be > bridge.ping_interval")
	}
	if c.Bridge.SendBuffer <= 0 {
		return fmt.Errorf("bridge.send_buffer must be > 0")
	}

	// Session
	if c.Session.InitRetryDelay <= 0 {
		return fmt.Errorf("session.init_retry_delay must be > 0")
	}
	if c.Session.InitMaxAttempts < 1 {
		return fmt.Errorf("session.init_max_attempts must be >= 1")
	}

	// Registry
	if c.Registry.LookupAttempts < 1 {
		return fmt.Errorf("registry.lookup_attempts must be >= 1")
	}
	if c.Registry.LookupBaseDelay <= 0 {
		return fmt.Errorf("registry.lookup_base_delay must be > 0")
	}

	// Device
	switch c.Device.Platform {
	case "android", "ios":
	default:
		return fmt.Errorf("device.platform must be android or ios, got %q", c.Device.Platform)
	}
	if c.Device.MinZoom <= 0 || c.Device.MaxZoom < c.Device.MinZoom {
		return fmt.Errorf("device zoom range must satisfy 0 < min_zoom <= max_zoom")
	}

	// Ingest
	if c.Ingest.DialTimeout <= 0 {
		return fmt.Errorf("ingest.dial_timeout must be > 0")
	}
	if c.Ingest.DialAttempts < 1 {
		return fmt.Errorf("ingest.dial_attempts must be >= 1")
	}
	if c.Ingest.ChunkSize == 0 {
		return fmt.Errorf("ingest.chunk_size must be > 0")
	}
	if c.Ingest.BreakerFailures < 1 {
		return fmt.Errorf("ingest.breaker_failures must be >= 1")
	}
	if c.Ingest.LivenessInterval <= 0 {
		return fmt.Errorf("ingest.liveness_interval must be > 0")
	}
	if c.Ingest.KeyLockTTL < 0 {
		return fmt.Errorf("ingest.key_lock_ttl must be >= 0")
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
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Bridge.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.bridge.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Bridge.Burst <= 0 {
			return fmt.Errorf("rate_limiting.bridge.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
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

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Bridge.Path = "/bridge"
	cfg.Bridge.PingInterval = 30 * time.Second
	cfg.Bridge.PongTimeout = 60 * time.Second
	cfg.Bridge.WriteTimeout = 10 * time.Second
	cfg.Bridge.SendBuffer = 64
	cfg.Bridge.AllowedOrigins = []string{"*"}

	cfg.Session.InitRetryDelay = 100 * time.Millisecond
	cfg.Session.InitMaxAttempts = 50

	cfg.Registry.LookupAttempts = 5
	cfg.Registry.LookupBaseDelay = 100 * time.Millisecond
	cfg.Registry.TombstoneTTL = 30 * time.Second

	cfg.Device.Platform = "android"
	cfg.Device.APILevel = 34
	cfg.Device.CameraAvailable = true
	cfg.Device.MinZoom = 1.0
	cfg.Device.MaxZoom = 8.0

	cfg.Permissions.OnRequest = []string{"camera", "microphone"}

	cfg.Ingest.DefaultURL = "rtmp://broadcast.api.video/s"
	cfg.Ingest.DialTimeout = 5 * time.Second
	cfg.Ingest.DialAttempts = 3
	cfg.Ingest.DialBaseDelay = 500 * time.Millisecond
	cfg.Ingest.ChunkSize = 128
	cfg.Ingest.BreakerFailures = 5
	cfg.Ingest.BreakerTimeout = 30 * time.Second
	cfg.Ingest.LivenessInterval = time.Second
	cfg.Ingest.KeyLockTTL = 30 * time.Second

	cfg.Profiles.Audio = AudioProfile{Bitrate: 128_000, SampleRate: 44100, ChannelCount: 2}
	cfg.Profiles.Video = VideoProfile{Bitrate: 1_500_000, Width: 1280, Height: 720, FPS: 30, KeyframeInterval: 1}

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "camstream:events"

	cfg.Auth.Issuer = "camstream"
	cfg.Auth.TokenTTL = 24 * time.Hour

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.Bridge.MessagesPerSecond = 60
	cfg.RateLimiting.Bridge.Burst = 120

	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CAMSTREAM_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("CAMSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if ingest := os.Getenv("CAMSTREAM_INGEST_URL"); ingest != "" {
		c.Ingest.DefaultURL = ingest
	}
	if secret := os.Getenv("CAMSTREAM_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if platform := os.Getenv("CAMSTREAM_DEVICE_PLATFORM"); platform != "" {
		c.Device.Platform = platform
	}
	if level := os.Getenv("CAMSTREAM_DEVICE_API_LEVEL"); level != "" {
		if n, err := strconv.Atoi(level); err == nil {
			c.Device.APILevel = n
		}
	}
}
