package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vnmchuo/labflow/internal/provider"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string // optional, enables the usage ledger

	// Cache
	RedisAddr string // optional, enables the shared response cache and rate limiting

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string // default: "info"
	LogFormat            string // "json" or "text"

	// Rate Limiting
	RateLimitRPM int64 // requests per minute per client, default: 60

	// ConfigFile is an optional YAML overlay merged over the environment.
	ConfigFile string

	// LLM orchestration
	Service Service
}

// Load reads the process environment (and a .env file if present) and, when
// LABFLOW_CONFIG names a file, merges that file over the result.
func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		ConfigFile:           os.Getenv("LABFLOW_CONFIG"),
	}

	rpm, err := strconv.ParseInt(getEnv("RATE_LIMIT_RPM", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPM: %w", err)
	}
	cfg.RateLimitRPM = rpm

	svc, err := ServiceFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Service = svc

	if cfg.ConfigFile != "" {
		update, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		merged, err := cfg.Service.Merge(update)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration file %q: %w", cfg.ConfigFile, err)
		}
		cfg.Service = merged
	}

	return cfg, nil
}

// ServiceFromEnv resolves the orchestration settings from environment
// variables. Backends are ranked OpenAI, Claude, Gemini; the first one with a
// key becomes primary, the other keyed ones follow as fallbacks and the
// offline client closes the chain.
func ServiceFromEnv() (Service, error) {
	tuning, err := tuningFromEnv()
	if err != nil {
		return Service{}, err
	}

	keyed := make([]provider.Config, 0, 3)
	for _, b := range backends {
		key := strings.TrimSpace(os.Getenv(b.prefix + "_API_KEY"))
		if key == "" {
			continue
		}
		cfg := tuning
		cfg.Kind = b.kind
		cfg.APIKey = key
		cfg.Model = getEnv(b.prefix+"_MODEL", b.model)
		cfg.BaseURL = os.Getenv(b.prefix + "_BASE_URL")
		keyed = append(keyed, cfg)
	}

	offline := tuning
	offline.Kind = provider.KindOffline

	svc := Service{
		EnableFallback: getBool("LLM_ENABLE_FALLBACK", true),
		CacheResponses: getBool("LLM_CACHE_RESPONSES", true),
		LogResponses:   getBool("LLM_LOG_RESPONSES", false),
	}
	if svc.BreakerThreshold, err = strconv.Atoi(getEnv("LLM_BREAKER_THRESHOLD", "0")); err != nil {
		return Service{}, fmt.Errorf("invalid LLM_BREAKER_THRESHOLD: %w", err)
	}

	if len(keyed) == 0 {
		svc.Primary = offline
		return svc, svc.Validate()
	}
	svc.Primary = keyed[0]
	svc.Fallbacks = append(keyed[1:len(keyed):len(keyed)], offline)
	return svc, svc.Validate()
}

var backends = []struct {
	kind   provider.Kind
	prefix string
	model  string
}{
	{provider.KindOpenAI, "OPENAI", "gpt-4o-mini"},
	{provider.KindClaude, "ANTHROPIC", "claude-3-5-sonnet-20241022"},
	{provider.KindGemini, "GEMINI", "gemini-1.5-flash"},
}

func tuningFromEnv() (provider.Config, error) {
	var cfg provider.Config
	var err error

	if cfg.Temperature, err = strconv.ParseFloat(getEnv("LLM_TEMPERATURE", "0.7"), 64); err != nil {
		return cfg, fmt.Errorf("invalid LLM_TEMPERATURE: %w", err)
	}
	if cfg.MaxTokens, err = strconv.Atoi(getEnv("LLM_MAX_TOKENS", "2000")); err != nil {
		return cfg, fmt.Errorf("invalid LLM_MAX_TOKENS: %w", err)
	}
	if cfg.Timeout, err = parseDuration(getEnv("LLM_TIMEOUT", "30s")); err != nil {
		return cfg, fmt.Errorf("invalid LLM_TIMEOUT: %w", err)
	}
	if cfg.RetryAttempts, err = strconv.Atoi(getEnv("LLM_RETRY_ATTEMPTS", "3")); err != nil {
		return cfg, fmt.Errorf("invalid LLM_RETRY_ATTEMPTS: %w", err)
	}
	if cfg.RetryDelay, err = parseDuration(getEnv("LLM_RETRY_DELAY", "1s")); err != nil {
		return cfg, fmt.Errorf("invalid LLM_RETRY_DELAY: %w", err)
	}
	return cfg, nil
}

// parseDuration accepts Go duration strings and bare integers, which are
// read as milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
