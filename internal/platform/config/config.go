// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TokenBackend selects which TokenStore implementation the process wires up.
type TokenBackend string

const (
	TokenBackendMemory TokenBackend = "memory"
	TokenBackendRemote TokenBackend = "remote"
)

// SIEMType selects which audit sink, if any, receives shipped records.
type SIEMType string

const (
	SIEMTypeNone          SIEMType = "none"
	SIEMTypeSplunk        SIEMType = "splunk"
	SIEMTypeElasticsearch SIEMType = "elasticsearch"
	SIEMTypeDatadog       SIEMType = "datadog"
	SIEMTypeSyslog        SIEMType = "syslog"
)

const defaultMaxPayloadBytes = 262144

// RedisConfig carries go-redis client tuning knobs, used by the remote token
// store backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// UpstreamConfig carries the provider endpoint overrides for the transparent
// proxy. An empty field means "use the provider's default base URL".
type UpstreamConfig struct {
	OpenAIURL    string
	AnthropicURL string
	GoogleURL    string
}

// SIEMConfig carries the shipper selection and its per-sink credentials.
// Only the fields relevant to Type are meaningful.
type SIEMConfig struct {
	Type SIEMType

	SplunkHECURL   string
	SplunkHECToken string

	ElasticsearchURL    string
	ElasticsearchIndex  string
	ElasticsearchAPIKey string

	DatadogAPIKey string
	DatadogSite   string

	SyslogAddr    string
	SyslogNetwork string
}

// Server is the full set of process-level settings, assembled once at
// startup and threaded into constructors via option functions.
type Server struct {
	Addr string

	Salt          []byte
	TokenBackend  TokenBackend
	Redis         RedisConfig
	EncryptionKey []byte

	PolicyPath         string
	PolicyOverridePath string
	AuditPath          string
	SafetyMode         string

	MaxPayloadBytes int64

	ProxyEnabled bool
	Upstream     UpstreamConfig

	SIEM SIEMConfig
}

// FromEnv builds a Server config from environment variables, mirroring the
// external interface table in the design doc: a missing SALT_ENV, or a
// remote token backend without an encryption key, is a fatal startup error.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            envOr("ADDR", ":8080"),
		TokenBackend:    TokenBackend(envOr("TOKEN_BACKEND", string(TokenBackendMemory))),
		PolicyPath:         os.Getenv("POLICY_PATH"),
		PolicyOverridePath: os.Getenv("POLICY_OVERRIDE_PATH"),
		AuditPath:          envOr("AUDIT_PATH", "audit.log"),
		SafetyMode:         envOr("SAFETY_MODE", "warning"),
		MaxPayloadBytes: defaultMaxPayloadBytes,
		ProxyEnabled:    os.Getenv("PROXY_ENABLED") == "true",
		Upstream: UpstreamConfig{
			OpenAIURL:    os.Getenv("UPSTREAM_OPENAI_URL"),
			AnthropicURL: os.Getenv("UPSTREAM_ANTHROPIC_URL"),
			GoogleURL:    os.Getenv("UPSTREAM_GOOGLE_URL"),
		},
		SIEM: SIEMConfig{
			Type:                SIEMType(envOr("SIEM_TYPE", string(SIEMTypeNone))),
			SplunkHECURL:        os.Getenv("SIEM_SPLUNK_HEC_URL"),
			SplunkHECToken:      os.Getenv("SIEM_SPLUNK_HEC_TOKEN"),
			ElasticsearchURL:    os.Getenv("SIEM_ELASTICSEARCH_URL"),
			ElasticsearchIndex:  envOr("SIEM_ELASTICSEARCH_INDEX", "mcp-audit"),
			ElasticsearchAPIKey: os.Getenv("SIEM_ELASTICSEARCH_API_KEY"),
			DatadogAPIKey:       os.Getenv("SIEM_DATADOG_API_KEY"),
			DatadogSite:         envOr("SIEM_DATADOG_SITE", "datadoghq.com"),
			SyslogAddr:          os.Getenv("SIEM_SYSLOG_ADDR"),
			SyslogNetwork:       envOr("SIEM_SYSLOG_NETWORK", "udp"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REMOTE_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}

	if v := os.Getenv("MAX_PAYLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Server{}, fmt.Errorf("parse MAX_PAYLOAD_BYTES: %w", err)
		}
		cfg.MaxPayloadBytes = n
	}

	salt := os.Getenv("SALT_ENV")
	if salt == "" {
		return Server{}, fmt.Errorf("SALT_ENV is required")
	}
	if len(salt) < 16 {
		return Server{}, fmt.Errorf("SALT_ENV must be at least 16 bytes, got %d", len(salt))
	}
	cfg.Salt = []byte(salt)

	if cfg.TokenBackend != TokenBackendMemory && cfg.TokenBackend != TokenBackendRemote {
		return Server{}, fmt.Errorf("TOKEN_BACKEND must be %q or %q, got %q", TokenBackendMemory, TokenBackendRemote, cfg.TokenBackend)
	}

	if cfg.TokenBackend == TokenBackendRemote {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			return Server{}, fmt.Errorf("ENCRYPTION_KEY is required when TOKEN_BACKEND=remote")
		}
		cfg.EncryptionKey = []byte(key)
		if cfg.Redis.URL == "" {
			return Server{}, fmt.Errorf("REMOTE_URL is required when TOKEN_BACKEND=remote")
		}
	}

	switch cfg.SIEM.Type {
	case SIEMTypeNone, SIEMTypeSplunk, SIEMTypeElasticsearch, SIEMTypeDatadog, SIEMTypeSyslog:
	default:
		return Server{}, fmt.Errorf("unsupported SIEM_TYPE %q", cfg.SIEM.Type)
	}

	switch cfg.SafetyMode {
	case "warning", "block", "silent":
	default:
		return Server{}, fmt.Errorf("unsupported SAFETY_MODE %q", cfg.SafetyMode)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
