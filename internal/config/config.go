package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string // API bind address, e.g. ":8080"
	LogDir      string
	LogLevel    string
	DatabaseURL string // empty means use the in-memory store
	TargetsFile string // YAML catalog of monitored services

	CheckInterval    time.Duration // how often a full cycle fires
	HTTPTimeout      time.Duration // per probe attempt
	MaxRedirects     int
	MaxBodyBytes     int64
	TripleCheckDelay time.Duration // first re-check delay; the second waits twice as long
	MaxConcurrent    int
	ContextWindow    int // characters inspected around a component name
	HistoryRetention time.Duration
	MaxWritesPerHour int
	MinBatchSpacing  time.Duration
	StaleAfter       time.Duration
	LatencyChangePct float64
	PublicAPIKeys    []string
	AdminAPIKeys     []string
	PublicRPM        int
	PublicBurst      int
	AdminRPM         int
	AdminBurst       int
	AllowedOrigins   []string
	SlackWebhookURL  string
	AlertOnRecovery  bool
	AlertCooldown    time.Duration
}

func FromEnv() Config {
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	targets := os.Getenv("TARGETS_FILE")
	if targets == "" {
		targets = "targets.yaml"
	}

	return Config{
		Addr:        addr,
		LogDir:      logDir,
		LogLevel:    logLevel,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		TargetsFile: targets,

		CheckInterval:    envMillis("CHECK_INTERVAL_MS", 60*time.Second, false),
		HTTPTimeout:      envMillis("HTTP_TIMEOUT_MS", 10*time.Second, false),
		MaxRedirects:     envInt("MAX_REDIRECTS", 5, true),
		MaxBodyBytes:     int64(envInt("MAX_BODY_BYTES", 2<<20, false)),
		TripleCheckDelay: envMillis("TRIPLE_CHECK_DELAY_MS", time.Second, true),
		MaxConcurrent:    envInt("MAX_CONCURRENT_CHECKS", 16, false),
		ContextWindow:    envInt("CONTEXT_WINDOW", 300, false),
		HistoryRetention: time.Duration(envInt("HISTORY_RETENTION_DAYS", 90, true)) * 24 * time.Hour,
		MaxWritesPerHour: envInt("MAX_WRITES_PER_HOUR", 120, false),
		MinBatchSpacing:  envMillis("MIN_BATCH_SPACING_MS", 30*time.Second, true),
		StaleAfter:       envMillis("STALE_AFTER_MS", 30*time.Second, true),
		LatencyChangePct: float64(envInt("LATENCY_CHANGE_PCT", 10, true)),
		PublicAPIKeys:    splitList(os.Getenv("PUBLIC_API_KEYS")),
		AdminAPIKeys:     splitList(os.Getenv("ADMIN_API_KEYS")),
		PublicRPM:        envInt("PUBLIC_RPM", 60, true),
		PublicBurst:      envInt("PUBLIC_BURST", 10, false),
		AdminRPM:         envInt("ADMIN_RPM", 30, true),
		AdminBurst:       envInt("ADMIN_BURST", 5, false),
		AllowedOrigins:   splitList(os.Getenv("ALLOWED_ORIGINS")),
		SlackWebhookURL:  os.Getenv("SLACK_WEBHOOK_URL"),
		AlertOnRecovery:  envBool("ALERT_ON_RECOVERY", true),
		AlertCooldown:    envMillis("ALERT_COOLDOWN_MS", 15*time.Minute, true),
	}
}

// envInt returns def when the variable is unset or unparsable. Zero is only
// accepted when allowZero is set; negatives never are.
func envInt(key string, def int, allowZero bool) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 || (n == 0 && !allowZero) {
		return def
	}
	return n
}

func envMillis(key string, def time.Duration, allowZero bool) time.Duration {
	ms := envInt(key, -1, allowZero)
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
