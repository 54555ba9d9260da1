// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	SegmentLimits SegmentLimitsConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
	WebSocket     WebSocketConfig
	Grammar       GrammarConfig
	Translation   TranslationConfig
}

// ServiceConfig holds process identity and listen address settings.
type ServiceConfig struct {
	Principal string
	GRPCPort  string // health-check-only gRPC listener, see internal/api/grpc
}

// STTConfig holds STT provider configuration.
type STTConfig struct {
	Provider       string // "google" or "mock"
	LanguageCode   string // BCP-47, e.g. "en-US"
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string // LINEAR16, MULAW, FLAC, ...
}

// SegmentLimitsConfig holds safety limits for segment processing.
// These are guardrails to prevent unbounded resource usage.
type SegmentLimitsConfig struct {
	// MaxAudioBytes is the maximum buffered audio bytes per segment.
	// If exceeded, the segment is dropped. Default: 5MB (~328s at 8kHz 16-bit mono)
	MaxAudioBytes int64

	// MaxDuration is the maximum duration of a single segment.
	// If exceeded, the segment is dropped. Default: 5 minutes
	MaxDuration time.Duration

	// MaxPartials is the maximum number of partial transcripts per segment.
	// If exceeded, the segment is dropped. Default: 500
	MaxPartials int
}

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string // Topic for partial transcripts
	TopicFinal   string // Topic for final transcripts
	Principal    string
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	// MetricsPort is the port for the Prometheus metrics HTTP server.
	MetricsPort string

	// MetricsEnabled enables/disables the metrics server.
	MetricsEnabled bool

	// LogLevel is the zerolog log level (debug, info, warn, error).
	LogLevel string

	// LogFormat is the log output format (json, console).
	LogFormat string
}

// WebSocketConfig holds the host/listener transport server settings.
type WebSocketConfig struct {
	Addr             string
	ReadLimitBytes   int64
	WriteWaitTimeout time.Duration
	PingInterval     time.Duration
}

// GrammarConfig holds grammar-correction worker settings.
type GrammarConfig struct {
	Provider string // "openai" or "mock"
	APIKey   string
	Model    string
}

// TranslationConfig holds translation worker settings, with a
// low-latency premium tier and a standard tier.
type TranslationConfig struct {
	Provider  string // "openai" or "mock"
	APIKey    string
	Tier      string // "premium" or "standard"
	RateLimit int    // max concurrent in-flight translation calls
}

// Default segment limits - safety guardrails.
const (
	DefaultMaxAudioBytes = 5 * 1024 * 1024 // 5MB (~328 seconds at 8kHz 16-bit mono)
	DefaultMaxDuration   = 5 * time.Minute // 5 minutes max segment
	DefaultMaxPartials   = 500             // 500 partials max per segment
)

// Load reads configuration from environment variables.
func Load() *Configuration {
	servicePrincipal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-ingress")

	return &Configuration{
		Service: ServiceConfig{
			Principal: servicePrincipal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"), // default to mock for local dev
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 8000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
		},
		SegmentLimits: SegmentLimitsConfig{
			MaxAudioBytes: envOrDefaultInt64("SEGMENT_MAX_AUDIO_BYTES", DefaultMaxAudioBytes),
			MaxDuration:   envOrDefaultDuration("SEGMENT_MAX_DURATION", DefaultMaxDuration),
			MaxPartials:   envOrDefaultInt("SEGMENT_MAX_PARTIALS", DefaultMaxPartials),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      strings.Split(envOrDefault("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "interaction.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "interaction.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", servicePrincipal),
		},
		Observability: ObservabilityConfig{
			MetricsPort:    envOrDefault("METRICS_PORT", "9090"),
			MetricsEnabled: envOrDefaultBool("METRICS_ENABLED", true),
			LogLevel:       envOrDefault("LOG_LEVEL", "info"),
			LogFormat:      envOrDefault("LOG_FORMAT", "json"),
		},
		WebSocket: WebSocketConfig{
			Addr:             envOrDefault("WS_ADDR", ":8080"),
			ReadLimitBytes:   envOrDefaultInt64("WS_READ_LIMIT_BYTES", 1<<20),
			WriteWaitTimeout: envOrDefaultDuration("WS_WRITE_WAIT", 10*time.Second),
			PingInterval:     envOrDefaultDuration("WS_PING_INTERVAL", 30*time.Second),
		},
		Grammar: GrammarConfig{
			Provider: envOrDefault("GRAMMAR_PROVIDER", "mock"),
			APIKey:   envOrDefault("OPENAI_API_KEY", ""),
			Model:    envOrDefault("GRAMMAR_MODEL", "gpt-4o-mini"),
		},
		Translation: TranslationConfig{
			Provider:  envOrDefault("TRANSLATION_PROVIDER", "mock"),
			APIKey:    envOrDefault("OPENAI_API_KEY", ""),
			Tier:      envOrDefault("TRANSLATION_TIER", "standard"),
			RateLimit: envOrDefaultInt("TRANSLATION_RATE_LIMIT", 8),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}
