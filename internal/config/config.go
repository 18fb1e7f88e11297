// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, token lifetimes, rate
// limiting tiers, the generation backend, and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-rag-chat-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig defines JWT issuance and password hashing settings.
type AuthConfig struct {
	Secret     string        // JWT_SECRET (required, HMAC key)
	Issuer     string        // JWT_ISSUER
	AccessTTL  time.Duration // JWT_ACCESS_TTL, lifetime of access tokens
	RefreshTTL time.Duration // JWT_REFRESH_TTL, lifetime of refresh tokens
	BcryptCost int           // BCRYPT_COST (0 uses the library default)
}

// RateConfig defines the fixed-window rate limit tiers. Each tier is counted
// independently over the same window length; a request must pass every tier
// that applies to it.
type RateConfig struct {
	Window       time.Duration // RATE_LIMIT_WINDOW
	MaxGlobal    int           // RATE_LIMIT_MAX (all requests combined)
	MaxPerUser   int           // RATE_LIMIT_MAX_PER_USER
	MaxPerAPIKey int           // RATE_LIMIT_MAX_PER_API_KEY
}

// RAGConfig defines retrieval and generation-backend settings.
type RAGConfig struct {
	OllamaURL     string        // OLLAMA_URL, base URL of the generation backend
	Model         string        // OLLAMA_MODEL
	Temperature   float64       // RAG_TEMPERATURE
	TopP          float64       // RAG_TOP_P
	MaxTokens     int           // RAG_MAX_TOKENS (num_predict)
	Timeout       time.Duration // RAG_TIMEOUT per generation call
	MaxResults    int           // RAG_MAX_RESULTS chunks per retrieval
	Threshold     float64       // RAG_SIMILARITY_THRESHOLD in [0,1]
	UpstreamRPS   float64       // RAG_UPSTREAM_RPS outbound bucket refill
	UpstreamBurst int           // RAG_UPSTREAM_BURST outbound bucket size
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
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath   string // SQLite path
	DataPath string // markdown corpus backing the default retriever

	// Components
	Auth AuthConfig
	Rate RateConfig
	RAG  RAGConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
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
		Port:              getenv("PORT", "8000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:   getenv("DB_PATH", "app.db"),
		DataPath: getenv("DATA_PATH", "data/data.md"),

		// Auth
		Auth: AuthConfig{
			Secret:     getenv("JWT_SECRET", ""),
			Issuer:     getenv("JWT_ISSUER", "go-rag-chat-backend"),
			AccessTTL:  getdur("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL: getdur("JWT_REFRESH_TTL", 7*24*time.Hour),
			BcryptCost: getint("BCRYPT_COST", 0),
		},

		// Rate limiting tiers (fixed windows)
		Rate: RateConfig{
			Window:       getdur("RATE_LIMIT_WINDOW", 60*time.Second),
			MaxGlobal:    getint("RATE_LIMIT_MAX", 100),
			MaxPerUser:   getint("RATE_LIMIT_MAX_PER_USER", 50),
			MaxPerAPIKey: getint("RATE_LIMIT_MAX_PER_API_KEY", 200),
		},

		// RAG / generation backend
		RAG: RAGConfig{
			OllamaURL:     getenv("OLLAMA_URL", "http://localhost:11434"),
			Model:         getenv("OLLAMA_MODEL", "phi3:mini"),
			Temperature:   getfloat("RAG_TEMPERATURE", 0.7),
			TopP:          getfloat("RAG_TOP_P", 0.9),
			MaxTokens:     getint("RAG_MAX_TOKENS", 1000),
			Timeout:       getdur("RAG_TIMEOUT", 5*time.Minute),
			MaxResults:    getint("RAG_MAX_RESULTS", 10),
			Threshold:     getfloat("RAG_SIMILARITY_THRESHOLD", 0.1),
			UpstreamRPS:   getfloat("RAG_UPSTREAM_RPS", 5.0),
			UpstreamBurst: getint("RAG_UPSTREAM_BURST", 10),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-rag-chat-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.DataPath) == "" {
		return cfg, errors.New("DATA_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Auth.AccessTTL <= 0 || cfg.Auth.RefreshTTL <= 0 {
		return cfg, errors.New("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be > 0")
	}
	if cfg.Auth.RefreshTTL <= cfg.Auth.AccessTTL {
		return cfg, errors.New("JWT_REFRESH_TTL must exceed JWT_ACCESS_TTL")
	}
	if cfg.Rate.Window <= 0 {
		return cfg, errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if cfg.Rate.MaxGlobal < 1 || cfg.Rate.MaxPerUser < 1 || cfg.Rate.MaxPerAPIKey < 1 {
		return cfg, errors.New("rate limit tier maxima must be >= 1")
	}
	if cfg.RAG.Threshold < 0 || cfg.RAG.Threshold > 1 {
		return cfg, errors.New("RAG_SIMILARITY_THRESHOLD must be between 0 and 1")
	}
	if cfg.RAG.MaxResults < 1 {
		return cfg, errors.New("RAG_MAX_RESULTS must be >= 1")
	}
	if cfg.RAG.Timeout <= 0 {
		return cfg, errors.New("RAG_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.RAG.OllamaURL) == "" {
		return cfg, errors.New("OLLAMA_URL must not be empty")
	}
	if cfg.RAG.UpstreamRPS < 0 {
		return cfg, errors.New("RAG_UPSTREAM_RPS must be >= 0")
	}
	if cfg.RAG.UpstreamBurst < 1 {
		return cfg, errors.New("RAG_UPSTREAM_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
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
