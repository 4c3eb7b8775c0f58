// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/gochat-relay/internal/bus"
	"github.com/Tyrowin/gochat-relay/internal/chat"
)

// RateLimitConfig defines the parameters for per-connection inbound event
// rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// RedisConfig enables the presence mirror when Addr is set.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// NATSConfig enables cross-node fan-out when URL is set.
type NATSConfig struct {
	URL     string
	Subject string
}

// Config holds the server configuration settings.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	PingInterval    time.Duration
	PongWait        time.Duration
	SendBuffer      int
	OutboundEvent   string
	NodeID          string
	LogLevel        string
	ShutdownTimeout time.Duration
	Redis           RedisConfig
	NATS            NATSConfig
}

const (
	defaultPort            = ":3001"
	defaultMaxMessageSize  = 64 * 1024
	defaultBurst           = 20
	defaultRefillInterval  = time.Second
	defaultPingInterval    = 25 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultSendBuffer      = 256
	defaultShutdownTimeout = 10 * time.Second
	defaultPresenceTTL     = 24 * time.Hour
	writeWait              = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port:           defaultPort,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPongWait,
		SendBuffer:      defaultSendBuffer,
		OutboundEvent:   chat.DefaultOutboundEvent,
		LogLevel:        "info",
		ShutdownTimeout: defaultShutdownTimeout,
		Redis: RedisConfig{
			PresenceTTL: defaultPresenceTTL,
		},
		NATS: NATSConfig{
			Subject: bus.DefaultSubject,
		},
	}
}

// NewConfig creates a Config instance populated with default values for all
// settings. The node id is freshly generated.
func NewConfig() *Config {
	cfg := defaultConfig()
	cfg.NodeID = uuid.NewString()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are unset or invalid.
func NewConfigFromEnv() *Config {
	cfg := NewConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if ping := os.Getenv("PING_INTERVAL"); ping != "" {
		cfg.PingInterval = parseSeconds(ping, cfg.PingInterval)
	}
	if pong := os.Getenv("PONG_WAIT"); pong != "" {
		cfg.PongWait = parseSeconds(pong, cfg.PongWait)
	}
	if buf := os.Getenv("SEND_BUFFER"); buf != "" {
		cfg.SendBuffer = parseIntValue(buf, cfg.SendBuffer)
	}
	if event := os.Getenv("OUTBOUND_EVENT"); event != "" {
		cfg.OutboundEvent = strings.TrimSpace(event)
	}
	if node := os.Getenv("NODE_ID"); node != "" {
		cfg.NodeID = node
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil && n >= 0 {
			cfg.Redis.DB = n
		}
	}
	if ttl := os.Getenv("PRESENCE_TTL"); ttl != "" {
		cfg.Redis.PresenceTTL = parseSeconds(ttl, cfg.Redis.PresenceTTL)
	}

	cfg.NATS.URL = os.Getenv("NATS_URL")
	if subject := os.Getenv("NATS_SUBJECT"); subject != "" {
		cfg.NATS.Subject = subject
	}

	return cfg
}

// Sanitize returns a copy of cfg with every invalid value replaced by its
// default.
func (c Config) Sanitize() Config {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRefillInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.OutboundEvent == "" {
		c.OutboundEvent = chat.DefaultOutboundEvent
	}
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Redis.PresenceTTL <= 0 {
		c.Redis.PresenceTTL = defaultPresenceTTL
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = bus.DefaultSubject
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
