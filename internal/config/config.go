// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database and counter-store endpoints,
// per-plan quota tables, abuse-limiter thresholds, and delivery policy.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Resource classes gated by the quota engine. Weights are declarative
// properties of operations, not derived from payload size.
const (
	ClassMessages  = "messages"
	ClassInstances = "instances"
	ClassBots      = "bots"
	ClassAPICalls  = "api_calls"
)

// Quota periods, ordered shortest first. The ordering doubles as the
// most-restrictive precedence (hour before day before month).
const (
	PeriodHourly  = "hourly"
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

// Plans returns the known plan tiers.
func Plans() []string { return []string{"free", "pro", "enterprise"} }

// Classes returns the known resource classes.
func Classes() []string {
	return []string{ClassMessages, ClassInstances, ClassBots, ClassAPICalls}
}

// PeriodLimits is the per-period limit triple for one (plan, class) cell.
// A zero limit means the class is unlimited for that period.
type PeriodLimits struct {
	Hourly  int64
	Daily   int64
	Monthly int64
}

// ByPeriod returns the limit for the named period.
func (p PeriodLimits) ByPeriod(period string) int64 {
	switch period {
	case PeriodHourly:
		return p.Hourly
	case PeriodDaily:
		return p.Daily
	case PeriodMonthly:
		return p.Monthly
	}
	return 0
}

// PlanLimits maps plan -> resource class -> period limits.
type PlanLimits map[string]map[string]PeriodLimits

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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-event-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AbuseConfig defines the sliding-window limiter thresholds guarding the
// ingestion edge. These are deliberately coarse and independent of tenant
// plan data.
type AbuseConfig struct {
	Window      time.Duration // rolling window size
	PerIP       int64         // max accepted requests per source IP per window
	PerInstance int64         // max per upstream instance per window
	Global      int64         // max across all sources per window
}

// DeliveryConfig defines outbound webhook delivery policy that is not
// per-subscription: the user-agent string, the backoff shape, and the
// global outbound pacer.
type DeliveryConfig struct {
	UserAgent          string        // fixed User-Agent header
	ExponentialBackoff bool          // doubling backoff when true, fixed otherwise
	PaceRPS            float64       // global outbound requests per second (0 = unpaced)
	PaceBurst          int           // pacer burst size
	DrainTimeout       time.Duration // shutdown grace for in-flight deliveries
}

// RetentionConfig bounds the operational logs (delivery attempts and
// event audit records).
type RetentionConfig struct {
	Window        time.Duration // rows older than this are swept
	SweepInterval time.Duration // how often the sweeper runs
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

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Routing
	APIBasePath string // base path for the management API, e.g. "/api/v1"

	// Stores
	DBPath    string // SQLite path
	RedisAddr string // counter store address; empty selects the in-memory store

	// Ingestion
	MaxBodyBytes   int64         // global webhook payload size ceiling
	ProviderSecret string        // optional shared secret for inbound HMAC verification
	IdempotencyTTL time.Duration // lifetime of the duplicate-detection marker

	// Admission control
	Abuse  AbuseConfig
	Quotas PlanLimits

	// IP allowlist (optional; applies to the webhook ingress)
	IPAllowlistEnabled bool
	IPAllowlist        []string

	// Outbound delivery
	Delivery  DeliveryConfig
	Retention RetentionConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

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
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Routing
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Stores
		DBPath:    getenv("DB_PATH", "gateway.db"),
		RedisAddr: getenv("REDIS_ADDR", ""),

		// Ingestion
		MaxBodyBytes:   int64(getint("MAX_BODY_BYTES", 1<<20)),
		ProviderSecret: getenv("PROVIDER_WEBHOOK_SECRET", ""),
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", time.Hour),

		// Admission control
		Abuse: AbuseConfig{
			Window:      getdur("ABUSE_WINDOW", 60*time.Second),
			PerIP:       int64(getint("ABUSE_MAX_PER_IP", 120)),
			PerInstance: int64(getint("ABUSE_MAX_PER_INSTANCE", 300)),
			Global:      int64(getint("ABUSE_MAX_GLOBAL", 5000)),
		},
		Quotas: loadPlanLimits(),

		// IP allowlist
		IPAllowlistEnabled: getbool("IP_ALLOWLIST_ENABLED", false),
		IPAllowlist:        splitCSV(getenv("IP_ALLOWLIST", "")),

		// Outbound delivery
		Delivery: DeliveryConfig{
			UserAgent:          getenv("DELIVERY_USER_AGENT", "go-event-gateway/1.0"),
			ExponentialBackoff: getbool("DELIVERY_EXPONENTIAL_BACKOFF", true),
			PaceRPS:            getfloat("DELIVERY_PACE_RPS", 50.0),
			PaceBurst:          getint("DELIVERY_PACE_BURST", 100),
			DrainTimeout:       getdur("DELIVERY_DRAIN_TIMEOUT", 30*time.Second),
		},
		Retention: RetentionConfig{
			Window:        getdur("RETENTION_WINDOW", 72*time.Hour),
			SweepInterval: getdur("RETENTION_SWEEP_INTERVAL", time.Hour),
		},

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
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-event-gateway"),
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
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Abuse.Window <= 0 {
		return cfg, errors.New("ABUSE_WINDOW must be > 0")
	}
	if cfg.Abuse.PerIP < 1 || cfg.Abuse.PerInstance < 1 || cfg.Abuse.Global < 1 {
		return cfg, errors.New("abuse limiter thresholds must be >= 1")
	}
	if cfg.Delivery.PaceRPS < 0 {
		return cfg, errors.New("DELIVERY_PACE_RPS must be >= 0")
	}
	if cfg.Delivery.PaceBurst < 1 {
		return cfg, errors.New("DELIVERY_PACE_BURST must be >= 1")
	}
	if cfg.Retention.Window <= 0 || cfg.Retention.SweepInterval <= 0 {
		return cfg, errors.New("retention window and sweep interval must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// defaultPlanLimits is the built-in quota table. Every cell can be
// overridden via QUOTA_<PLAN>_<CLASS>_<PERIOD>, e.g.
// QUOTA_FREE_MESSAGES_HOURLY=500. Zero means unlimited.
func defaultPlanLimits() PlanLimits {
	return PlanLimits{
		"free": {
			ClassMessages:  {Hourly: 100, Daily: 1000, Monthly: 10000},
			ClassInstances: {Hourly: 5, Daily: 10, Monthly: 20},
			ClassBots:      {Hourly: 5, Daily: 20, Monthly: 100},
			ClassAPICalls:  {Hourly: 1000, Daily: 10000, Monthly: 100000},
		},
		"pro": {
			ClassMessages:  {Hourly: 2000, Daily: 20000, Monthly: 200000},
			ClassInstances: {Hourly: 20, Daily: 50, Monthly: 200},
			ClassBots:      {Hourly: 50, Daily: 200, Monthly: 1000},
			ClassAPICalls:  {Hourly: 10000, Daily: 100000, Monthly: 1000000},
		},
		"enterprise": {
			ClassMessages:  {Hourly: 20000, Daily: 200000, Monthly: 2000000},
			ClassInstances: {Hourly: 100, Daily: 500, Monthly: 2000},
			ClassBots:      {Hourly: 500, Daily: 2000, Monthly: 10000},
			ClassAPICalls:  {Hourly: 100000, Daily: 1000000, Monthly: 10000000},
		},
	}
}

// loadPlanLimits applies env overrides on top of the built-in table.
func loadPlanLimits() PlanLimits {
	limits := defaultPlanLimits()
	for _, plan := range Plans() {
		for _, class := range Classes() {
			cell := limits[plan][class]
			cell.Hourly = getint64(quotaEnvKey(plan, class, PeriodHourly), cell.Hourly)
			cell.Daily = getint64(quotaEnvKey(plan, class, PeriodDaily), cell.Daily)
			cell.Monthly = getint64(quotaEnvKey(plan, class, PeriodMonthly), cell.Monthly)
			limits[plan][class] = cell
		}
	}
	return limits
}

// quotaEnvKey builds the override variable name for one quota cell.
func quotaEnvKey(plan, class, period string) string {
	return fmt.Sprintf("QUOTA_%s_%s_%s",
		strings.ToUpper(plan), strings.ToUpper(class), strings.ToUpper(period))
}

// Limit returns the configured limit for (plan, class, period). Unknown
// plans fall back to the free tier, which is the safe direction.
func (pl PlanLimits) Limit(plan, class, period string) int64 {
	classes, ok := pl[plan]
	if !ok {
		classes = pl["free"]
	}
	return classes[class].ByPeriod(period)
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

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
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
