// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, gateway behavior, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "websocket-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig defines connection settings for the presence directory, relay
// bus, and undelivered-message store, which all share one Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig defines connection settings for the notification publisher.
type KafkaConfig struct {
	Brokers        []string
	SampleTopic    string // legacy in-app/OTP topic
	OfflineTopic   string // offline-notification fan-out topic
	RelayChannel   string // Redis pub/sub channel name shared by all pods
	DefaultChannel string // notification channel discriminator (SMS|EMAIL|INAPP)
}

// GatewayConfig defines the gateway-specific behavior enumerated in spec §6.
type GatewayConfig struct {
	PodName                    string
	OfflineMessagingEnabled    bool
	OfflineMessageStorageEnabled bool
	OfflineKafkaNotifyEnabled  bool
	OfflineMessageTTLDays      int
	NotificationChannel        string
	TokenSecret                string
	ProfileServiceURL          string
	ProfileServiceTimeout      time.Duration
	MaxFrameBytes              int64
	PingInterval               time.Duration
	WriteWait                  time.Duration
	SendQueueSize              int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for REST routes

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig

	// Gateway domain
	Gateway GatewayConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/v1")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "websocket-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		Gateway: GatewayConfig{
			PodName:                      getenv("POD_NAME", "dev"),
			OfflineMessagingEnabled:      getbool("OFFLINE_MESSAGING_ENABLED", true),
			OfflineMessageStorageEnabled: getbool("OFFLINE_MESSAGE_STORAGE_ENABLED", true),
			OfflineKafkaNotifyEnabled:    getbool("OFFLINE_KAFKA_NOTIFICATIONS_ENABLED", true),
			OfflineMessageTTLDays:        getint("OFFLINE_MESSAGE_TTL_DAYS", 30),
			NotificationChannel:          strings.ToUpper(getenv("OFFLINE_NOTIFICATION_CHANNEL", "SMS")),
			TokenSecret:                  getenv("TOKEN_SIGNING_SECRET", ""),
			ProfileServiceURL:            getenv("PROFILE_SERVICE_URL", ""),
			ProfileServiceTimeout:        getdur("PROFILE_SERVICE_TIMEOUT", 3*time.Second),
			MaxFrameBytes:                int64(getint("MAX_FRAME_BYTES", 64*1024)),
			PingInterval:                 getdur("WS_PING_INTERVAL", 30*time.Second),
			WriteWait:                    getdur("WS_WRITE_WAIT", 10*time.Second),
			SendQueueSize:                getint("WS_SEND_QUEUE_SIZE", 32),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:        splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			SampleTopic:    getenv("KAFKA_SAMPLE_TOPIC", "sample-message-topic"),
			OfflineTopic:   getenv("KAFKA_OFFLINE_TOPIC", "undelivered.notification.message"),
			RelayChannel:   getenv("RELAY_CHANNEL", "websocket:messages"),
			DefaultChannel: strings.ToUpper(getenv("OFFLINE_NOTIFICATION_CHANNEL", "SMS")),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if strings.TrimSpace(cfg.Gateway.PodName) == "" {
		return cfg, errors.New("POD_NAME must not be empty")
	}
	if cfg.Gateway.OfflineMessageTTLDays <= 0 {
		return cfg, errors.New("OFFLINE_MESSAGE_TTL_DAYS must be > 0")
	}
	switch cfg.Gateway.NotificationChannel {
	case "SMS", "EMAIL", "INAPP":
	default:
		return cfg, errors.New("OFFLINE_NOTIFICATION_CHANNEL must be one of: SMS, EMAIL, INAPP")
	}
	if cfg.Gateway.MaxFrameBytes <= 0 {
		return cfg, errors.New("MAX_FRAME_BYTES must be > 0")
	}
	if cfg.Gateway.SendQueueSize < 1 {
		return cfg, errors.New("WS_SEND_QUEUE_SIZE must be >= 1")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return cfg, errors.New("KAFKA_BROKERS must not be empty")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
