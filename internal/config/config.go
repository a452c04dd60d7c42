package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"benchguard.io/internal/advisory"
	"benchguard.io/internal/anomaly"
)

type Config struct {
	Env      string          `koanf:"env"`
	LogLevel string          `koanf:"log_level"`
	HTTP     HTTPConfig      `koanf:"http"`
	Auth     AuthConfig      `koanf:"auth"`
	Postgres PostgresConfig  `koanf:"postgres"`
	Audit    AuditConfig     `koanf:"audit"`
	Anomaly  AnomalyConfig   `koanf:"anomaly"`
	Advisory advisory.Config `koanf:"advisory"`
	Tracing  TracingConfig   `koanf:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	RateLimitRPS    float64       `koanf:"rate_limit_rps"`
	RateLimitBurst  int           `koanf:"rate_limit_burst"`
}

type AuthConfig struct {
	Secret            string        `koanf:"secret"`
	Issuer            string        `koanf:"issuer"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	BootstrapName     string        `koanf:"bootstrap_name"`
	BootstrapEmail    string        `koanf:"bootstrap_email"`
	BootstrapPassword string        `koanf:"bootstrap_password"`
}

type PostgresConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
}

type AuditConfig struct {
	// Chain links every new ledger entry to its predecessor by hash.
	Chain bool `koanf:"chain"`
}

type AnomalyConfig struct {
	Thresholds      anomaly.Thresholds `koanf:"thresholds"`
	MonitorInterval time.Duration      `koanf:"monitor_interval"`
	Lookback        time.Duration      `koanf:"lookback"`
}

type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// Load reads path (when set), fills defaults and applies BENCHGUARD_*
// environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	if err := applyEnvOverrides(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RateLimitRPS <= 0 || c.HTTP.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("http rate limit must be positive"))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	if (c.Auth.BootstrapEmail == "") != (c.Auth.BootstrapPassword == "") {
		errs = append(errs, errors.New("auth.bootstrap_email and auth.bootstrap_password must be set together"))
	}
	return errors.Join(errs...)
}

func applyDefaults(k *koanf.Koanf) {
	setDefault(k, "env", "development")
	setDefault(k, "log_level", "info")

	// HTTP defaults
	setDefault(k, "http.addr", ":8080")
	setDefault(k, "http.read_timeout", 15*time.Second)
	setDefault(k, "http.write_timeout", 15*time.Second)
	setDefault(k, "http.idle_timeout", 60*time.Second)
	setDefault(k, "http.shutdown_timeout", 10*time.Second)
	setDefault(k, "http.allowed_origins", []string{"*"})
	setDefault(k, "http.rate_limit_rps", 20.0)
	setDefault(k, "http.rate_limit_burst", 40)

	// Auth defaults
	setDefault(k, "auth.issuer", "benchguard")
	setDefault(k, "auth.token_ttl", 12*time.Hour)
	setDefault(k, "auth.bootstrap_name", "Platform Admin")

	setDefault(k, "postgres.max_open_conns", 20)
	setDefault(k, "postgres.max_idle_conns", 10)

	setDefault(k, "audit.chain", false)

	// Anomaly defaults
	th := anomaly.DefaultThresholds()
	setDefault(k, "anomaly.thresholds.login_burst", th.LoginBurst)
	setDefault(k, "anomaly.thresholds.high_value_amount", th.HighValueAmount)
	setDefault(k, "anomaly.thresholds.inventory_surge", th.InventorySurge)
	setDefault(k, "anomaly.thresholds.window", th.Window)
	setDefault(k, "anomaly.monitor_interval", time.Duration(0))
	setDefault(k, "anomaly.lookback", 7*24*time.Hour)

	setDefault(k, "advisory.model", "gpt-4o-mini")
	setDefault(k, "advisory.timeout", 20*time.Second)

	setDefault(k, "tracing.service_name", "benchguard")
	setDefault(k, "tracing.sample_ratio", 1.0)
}

func applyEnvOverrides(k *koanf.Koanf) error {
	var errs []error
	str := func(name, key string) {
		if v := getString(name); v != "" {
			k.Set(key, v)
		}
	}
	dur := func(name, key string) {
		v, ok, err := getDuration(name)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			k.Set(key, v)
		}
	}
	num := func(name, key string) {
		v, ok, err := getInt(name)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			k.Set(key, v)
		}
	}
	float := func(name, key string) {
		v, ok, err := getFloat(name)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			k.Set(key, v)
		}
	}
	boolean := func(name, key string) {
		v, ok, err := getBool(name)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			k.Set(key, v)
		}
	}

	str("ENV", "env")
	str("LOG_LEVEL", "log_level")

	str("HTTP_ADDR", "http.addr")
	dur("HTTP_READ_TIMEOUT", "http.read_timeout")
	dur("HTTP_WRITE_TIMEOUT", "http.write_timeout")
	if origins := getString("HTTP_ALLOWED_ORIGINS"); origins != "" {
		k.Set("http.allowed_origins", splitList(origins))
	}
	float("HTTP_RATE_LIMIT_RPS", "http.rate_limit_rps")
	num("HTTP_RATE_LIMIT_BURST", "http.rate_limit_burst")

	str("AUTH_SECRET", "auth.secret")
	str("AUTH_ISSUER", "auth.issuer")
	dur("AUTH_TOKEN_TTL", "auth.token_ttl")
	str("AUTH_BOOTSTRAP_EMAIL", "auth.bootstrap_email")
	str("AUTH_BOOTSTRAP_PASSWORD", "auth.bootstrap_password")

	str("PG_DSN", "postgres.dsn")
	boolean("AUDIT_CHAIN", "audit.chain")

	num("ANOMALY_LOGIN_BURST", "anomaly.thresholds.login_burst")
	float("ANOMALY_HIGH_VALUE_AMOUNT", "anomaly.thresholds.high_value_amount")
	num("ANOMALY_INVENTORY_SURGE", "anomaly.thresholds.inventory_surge")
	dur("ANOMALY_WINDOW", "anomaly.thresholds.window")
	dur("ANOMALY_MONITOR_INTERVAL", "anomaly.monitor_interval")

	str("ADVISORY_ENDPOINT", "advisory.endpoint")
	str("ADVISORY_MODEL", "advisory.model")
	str("ADVISORY_API_KEY", "advisory.api_key")
	dur("ADVISORY_TIMEOUT", "advisory.timeout")

	boolean("TRACING_ENABLED", "tracing.enabled")
	str("TRACING_ENDPOINT", "tracing.endpoint")

	return errors.Join(errs...)
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value interface{}) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
