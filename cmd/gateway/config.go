package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

type logConfig struct {
	level      string
	format     string
	file       string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

type config struct {
	listenAddr  string
	upstreamURL string

	redisURL     string
	redisTimeout time.Duration
	keyPrefix    string
	databaseDSN  string

	trustProxy     bool
	v6Prefix       int
	whitelistPaths []string
	adminPrefix    string
	addHeaders     bool

	policy     domain.Policy
	policyFile string

	reconcileInterval time.Duration
	leaderElection    bool
	metricsAddr       string

	statsEnabled  bool
	statsPrefix   string
	statsTTL      time.Duration
	statsBucket   string
	statsTrackIPs bool

	logThrottle       time.Duration
	breakerFailures   int
	breakerCooldown   time.Duration
	escalationSlots   int
	escalationTimeout time.Duration

	log logConfig
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.redisURL = getenvDefault("REDIS_URL", "redis://localhost:6379/0")
	cfg.redisTimeout = getenvDurationDefault("REDIS_TIMEOUT", 50*time.Millisecond)
	cfg.keyPrefix = os.Getenv("KEY_PREFIX")
	cfg.databaseDSN = os.Getenv("DATABASE_DSN")
	if cfg.databaseDSN == "" && getenvIsSet("DB_HOST") {
		cfg.databaseDSN = infra.PostgresDSN(
			os.Getenv("DB_HOST"),
			getenvDefault("DB_PORT", "5432"),
			os.Getenv("DB_USERNAME"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_NAME"),
		)
	}

	cfg.trustProxy = getenvBoolDefault("TRUST_PROXY_HEADERS", true)
	cfg.v6Prefix = getenvIntDefault("IPV6_PREFIX", 64)
	cfg.adminPrefix = getenvDefault("ADMIN_PREFIX", "/admin")
	cfg.whitelistPaths = getenvListDefault("WHITELIST_PATHS", []string{"/health", "/docs", "/openapi.json", "/redoc"})
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	policy, err := policyFromEnv(domain.DefaultPolicy())
	if err != nil {
		return config{}, err
	}
	cfg.policy = policy
	cfg.policyFile = os.Getenv("POLICY_FILE")

	cfg.reconcileInterval = getenvDurationDefault("RECONCILE_INTERVAL", 60*time.Second)
	cfg.leaderElection = getenvBoolDefault("LEADER_ELECTION", true)
	cfg.metricsAddr = getenvDefault("METRICS_ADDR", ":9090")

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "admission:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackIPs = getenvBoolDefault("STATS_TRACK_IPS", false)

	cfg.logThrottle = getenvDurationDefault("LOG_THROTTLE", 60*time.Second)
	cfg.breakerFailures = getenvIntDefault("BREAKER_FAILURES", 5)
	cfg.breakerCooldown = getenvDurationDefault("BREAKER_COOLDOWN", 10*time.Second)
	cfg.escalationSlots = getenvIntDefault("ESCALATION_SLOTS", 8)
	cfg.escalationTimeout = getenvDurationDefault("ESCALATION_TIMEOUT", 100*time.Millisecond)

	cfg.log = logConfig{
		level:      getenvDefault("LOG_LEVEL", "info"),
		format:     getenvDefault("LOG_FORMAT", "text"),
		file:       os.Getenv("LOG_FILE"),
		maxSizeMB:  getenvIntDefault("LOG_MAX_SIZE_MB", 100),
		maxBackups: getenvIntDefault("LOG_MAX_BACKUPS", 3),
		maxAgeDays: getenvIntDefault("LOG_MAX_AGE_DAYS", 28),
	}

	if cfg.v6Prefix < 0 || cfg.v6Prefix > 128 {
		return config{}, errors.New("IPV6_PREFIX must be between 0 and 128")
	}
	if cfg.breakerFailures <= 0 {
		return config{}, errors.New("BREAKER_FAILURES must be > 0")
	}
	if cfg.escalationSlots <= 0 {
		return config{}, errors.New("ESCALATION_SLOTS must be > 0")
	}
	if cfg.reconcileInterval <= 0 {
		return config{}, errors.New("RECONCILE_INTERVAL must be > 0")
	}
	return cfg, nil
}

// validateServe checa o que só o comando serve precisa.
func (c config) validateServe() error {
	if c.upstreamURL == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	return c.validateBackends()
}

func (c config) validateBackends() error {
	if c.databaseDSN == "" {
		return errors.New("DATABASE_DSN (or DB_HOST/DB_NAME/DB_USERNAME/DB_PASSWORD) is required")
	}
	if c.redisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	return nil
}

// policyFromEnv sobrepõe a política base com RATE_LIMIT_<CAT>, MIN_INTERVAL_<CAT>
// e AUTOBAN_*.
func policyFromEnv(base domain.Policy) (domain.Policy, error) {
	p := base.Clone()
	for _, c := range domain.Categories() {
		name := strings.ToUpper(c.String())
		if v := os.Getenv("RATE_LIMIT_" + name); v != "" {
			rp, err := domain.ParseRatePolicy(v)
			if err != nil {
				return domain.Policy{}, fmt.Errorf("RATE_LIMIT_%s: %w", name, err)
			}
			p.Rates[c] = rp
		}
		if v := os.Getenv("MIN_INTERVAL_" + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return domain.Policy{}, fmt.Errorf("MIN_INTERVAL_%s: %w", name, err)
			}
			p.Intervals[c] = d
		}
	}

	p.AutoBan.Threshold = getenvIntDefault("AUTOBAN_THRESHOLD", p.AutoBan.Threshold)
	p.AutoBan.Window = getenvDurationDefault("AUTOBAN_WINDOW", p.AutoBan.Window)
	p.AutoBan.BanDuration = getenvDurationDefault("AUTOBAN_DURATION", p.AutoBan.BanDuration)
	p.AutoBan.MaxRecords = getenvIntDefault("AUTOBAN_MAX_RECORDS", p.AutoBan.MaxRecords)

	if err := p.Validate(); err != nil {
		return domain.Policy{}, err
	}
	return p, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIsSet(k string) bool {
	v, ok := os.LookupEnv(k)
	return ok && v != ""
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getenvListDefault lê uma lista separada por vírgula.
func getenvListDefault(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
