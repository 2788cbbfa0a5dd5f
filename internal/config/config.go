package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file name used when no path is provided.
const DefaultConfigFile = "config.yaml"

// ConfigPathEnv overrides the config path when the flag is empty.
const ConfigPathEnv = "GIFTLINE_CONFIG"

// Abuse failure modes used when the shared counter store is unreachable.
const (
	FailOpen   = "fail_open"
	FailClosed = "fail_closed"
)

// AppConfig holds process-level options passed in from the command line.
type AppConfig struct {
	ConfigPath string
}

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	JWT      JWTConfig      `yaml:"jwt"`
	Redis    RedisConfig    `yaml:"redis"`
	Abuse    AbuseConfig    `yaml:"abuse"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	PublicBaseURL string        `yaml:"public-base-url"`
	InternalKey   string        `yaml:"internal-key"` // Optional key for /activate-by-phone.
	ShutdownGrace time.Duration `yaml:"shutdown-grace"`
	// ActivationDeadline bounds one activation or deactivation. Zero derives it from gateway.timeout.
	ActivationDeadline time.Duration `yaml:"activation-deadline"`
}

// DatabaseConfig configures the gift store connection.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// GatewayConfig configures the card-processing gateway client.
type GatewayConfig struct {
	Endpoint             string        `yaml:"endpoint"`
	Key                  string        `yaml:"key"`
	Version              string        `yaml:"version"`
	SoftwareName         string        `yaml:"software-name"`
	SoftwareVersion      string        `yaml:"software-version"`
	Timeout              time.Duration `yaml:"timeout"`
	AlreadyActiveCodes   []string      `yaml:"already-active-codes"`
	AlreadyInactiveCodes []string      `yaml:"already-inactive-codes"`
}

// JWTConfig configures admin session tokens.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// RedisConfig configures the shared abuse counter store. An empty Addr keeps counters in process.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key-prefix"`
}

// AbuseConfig holds the IVR and admin abuse thresholds.
type AbuseConfig struct {
	MaxCalls              int           `yaml:"max-calls"`
	RateWindow            time.Duration `yaml:"rate-window"`
	MaxPhoneRetries       int           `yaml:"max-phone-retries"`
	MaxSecurityRetries    int           `yaml:"max-security-retries"`
	SessionTTL            time.Duration `yaml:"session-ttl"`
	AdminMaxLoginFailures int           `yaml:"admin-max-login-failures"`
	AdminLockDuration     time.Duration `yaml:"admin-lock-duration"`
	FailureMode           string        `yaml:"failure-mode"`
}

// AdminConfig configures the bootstrap administrator and the card unmask PIN.
type AdminConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	UnmaskPIN string `yaml:"unmask-pin"`
}

// LoggingConfig configures logrus output and file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// Default returns a config populated with built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":8080",
			ShutdownGrace: 60 * time.Second,
		},
		Database: DatabaseConfig{DSN: "file:data/giftline.db"},
		Gateway: GatewayConfig{
			Endpoint:        "https://x1.cardknox.com/gatewayjson",
			Version:         "5.0.0",
			SoftwareName:    "SolaIVRGift",
			SoftwareVersion: "1.0.0",
			Timeout:         12 * time.Second,
		},
		JWT:   JWTConfig{Expiry: 12 * time.Hour},
		Redis: RedisConfig{KeyPrefix: "giftline:"},
		Abuse: AbuseConfig{
			MaxCalls:              5,
			RateWindow:            30 * time.Minute,
			MaxPhoneRetries:       3,
			MaxSecurityRetries:    2,
			SessionTTL:            15 * time.Minute,
			AdminMaxLoginFailures: 3,
			AdminLockDuration:     30 * time.Minute,
			FailureMode:           FailOpen,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// ResolveConfigPath returns the config path from the flag, the environment, or the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return env
	}
	return DefaultConfigFile
}

// ConfigExists reports whether the config file exists.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the YAML config at path, applies environment overrides, and validates it.
// A missing file is not an error; defaults plus environment are used.
func Load(path string) (Config, error) {
	cfg := Default()
	data, errRead := os.ReadFile(filepath.Clean(path))
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	applyEnv(&cfg)
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// LoadDatabaseDSN loads only the database DSN from the config at path.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString(&cfg.Gateway.Key, "CARDKNOX_KEY")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.JWT.Secret, "JWT_SECRET")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Admin.Username, "ADMIN_USERNAME")
	setString(&cfg.Admin.Password, "ADMIN_PASSWORD")
	setString(&cfg.Admin.UnmaskPIN, "ADMIN_UNMASK_PIN")
	setString(&cfg.Server.InternalKey, "INTERNAL_API_KEY")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	if port, ok := os.LookupEnv("PORT"); ok {
		if n, errAtoi := strconv.Atoi(strings.TrimSpace(port)); errAtoi == nil && n > 0 {
			cfg.Server.Addr = ":" + strconv.Itoa(n)
		}
	}
}

// activationDeadlineMargin covers store writes around the gateway round trips.
const activationDeadlineMargin = 10 * time.Second

// ActivationDeadline returns the configured deadline, or room for three sequential gateway
// calls (the longest chain) plus a margin.
func (c Config) ActivationDeadline() time.Duration {
	if c.Server.ActivationDeadline > 0 {
		return c.Server.ActivationDeadline
	}
	return 3*c.Gateway.Timeout + activationDeadlineMargin
}

// Validate checks thresholds and required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	if strings.TrimSpace(c.Gateway.Endpoint) == "" {
		return errors.New("config: gateway.endpoint is required")
	}
	if c.Gateway.Timeout <= 0 {
		return errors.New("config: gateway.timeout must be positive")
	}
	if c.Abuse.MaxCalls <= 0 || c.Abuse.RateWindow <= 0 {
		return errors.New("config: abuse.max-calls and abuse.rate-window must be positive")
	}
	if c.Abuse.MaxPhoneRetries <= 0 || c.Abuse.MaxSecurityRetries <= 0 {
		return errors.New("config: abuse retry limits must be positive")
	}
	if c.Server.ActivationDeadline > 0 && c.Server.ActivationDeadline < 3*c.Gateway.Timeout {
		return fmt.Errorf("config: server.activation-deadline %s is shorter than three gateway timeouts (%s)", c.Server.ActivationDeadline, 3*c.Gateway.Timeout)
	}
	if c.Server.ShutdownGrace < c.ActivationDeadline() {
		return fmt.Errorf("config: server.shutdown-grace %s must be at least the activation deadline %s", c.Server.ShutdownGrace, c.ActivationDeadline())
	}
	switch c.Abuse.FailureMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("config: abuse.failure-mode must be %s or %s", FailOpen, FailClosed)
	}
	return nil
}
