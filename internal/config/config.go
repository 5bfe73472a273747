// Package config loads the YAML configuration shared by the trustcore
// binaries and converts it into a trustcore.Config.
//
// Values are applied in order: built-in defaults, the YAML file, then
// TRUSTCORE_* environment variables. Secrets (signing key, DSN, Redis
// password) are expected to come from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/jwt"
	"gopkg.in/yaml.v3"
)

// Config is the file layout.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Audit   AuditConfig   `yaml:"audit"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	Auth    AuthConfig    `yaml:"auth"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects the identity and audit store.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// RedisConfig moves sessions to Redis when Addr is set.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// KafkaConfig streams audit events to Topic when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AuditConfig mirrors the audit trail as JSON lines in addition to the
// store. Output is "stdout", "stderr" or a file path opened for append;
// empty disables it.
type AuditConfig struct {
	Output string `yaml:"output"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// LoginRate is the sustained per-client login rate (requests per second).
	LoginRate  float64 `yaml:"login_rate"`
	LoginBurst int     `yaml:"login_burst"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig holds the engine settings operators usually tune. Anything
// left zero keeps the trustcore default.
type AuthConfig struct {
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	SigningKey    string        `yaml:"signing_key"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	MFAPendingTTL time.Duration `yaml:"mfa_pending_ttl"`

	LockoutThreshold int           `yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`

	PasswordAlgorithm string `yaml:"password_algorithm"`
	BcryptCost        int    `yaml:"bcrypt_cost"`

	TOTPIssuer string `yaml:"totp_issuer"`

	ElevationDefault time.Duration `yaml:"elevation_default"`
	ElevationMax     time.Duration `yaml:"elevation_max"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
	AuditAsync    bool          `yaml:"audit_async"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Format: "json"},
		Store:   StoreConfig{Driver: "memory"},
		Redis:   RedisConfig{KeyPrefix: "trustcore"},
		Kafka:   KafkaConfig{Topic: "trustcore.audit"},
		HTTP:    HTTPConfig{Addr: ":8080", LoginRate: 1, LoginBurst: 5},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TRUSTCORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRUSTCORE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TRUSTCORE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("TRUSTCORE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TRUSTCORE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRUSTCORE_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRUSTCORE_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}
	if v := os.Getenv("TRUSTCORE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("TRUSTCORE_AUDIT_OUTPUT"); v != "" {
		cfg.Audit.Output = v
	}
	if v := os.Getenv("TRUSTCORE_SIGNING_KEY"); v != "" {
		cfg.Auth.SigningKey = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the binary-level settings. Engine settings are checked
// when the Engine is built.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	if c.HTTP.LoginRate < 0 || c.HTTP.LoginBurst < 0 {
		return errors.New("http login rate and burst must be >= 0")
	}
	if c.Auth.SigningKey == "" {
		return errors.New("auth.signing_key is required (set TRUSTCORE_SIGNING_KEY)")
	}
	return nil
}

// Engine converts the auth section into a trustcore.Config.
func (c *Config) Engine() trustcore.Config {
	out := trustcore.DefaultConfig()
	a := c.Auth

	out.JWT.SigningMethod = jwt.MethodHS256
	out.JWT.PrivateKey = []byte(a.SigningKey)
	setString(&out.JWT.Issuer, a.Issuer)
	setString(&out.JWT.Audience, a.Audience)
	setDuration(&out.JWT.AccessTTL, a.AccessTTL)
	setDuration(&out.JWT.RefreshTTL, a.RefreshTTL)
	setDuration(&out.JWT.MFAPendingTTL, a.MFAPendingTTL)

	if a.LockoutThreshold > 0 {
		out.Lockout.Threshold = a.LockoutThreshold
	}
	setDuration(&out.Lockout.Duration, a.LockoutDuration)

	if a.PasswordAlgorithm != "" {
		out.Password.Algorithm = trustcore.PasswordAlgorithm(strings.ToLower(a.PasswordAlgorithm))
	}
	if a.BcryptCost > 0 {
		out.Password.BcryptCost = a.BcryptCost
	}
	setString(&out.TOTP.Issuer, a.TOTPIssuer)

	setDuration(&out.Elevation.DefaultDuration, a.ElevationDefault)
	setDuration(&out.Elevation.MaxDuration, a.ElevationMax)
	setDuration(&out.Session.SweepInterval, a.SweepInterval)
	out.Audit.Async = a.AuditAsync
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
