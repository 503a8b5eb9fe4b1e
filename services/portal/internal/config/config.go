package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with PORTAL_CONFIG.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML and the environment.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	SecretKey   string `yaml:"secretKey"`
	DatabaseURL string `yaml:"databaseURL"`
	UploadDir   string `yaml:"uploadDir"`
	SessionTTL  string `yaml:"sessionTTL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MailServer        string `yaml:"mailServer"`
	MailPort          int    `yaml:"mailPort"`
	MailUseTLS        bool   `yaml:"mailUseTLS"`
	MailUsername      string `yaml:"mailUsername"`
	MailPassword      string `yaml:"mailPassword"`
	MailDefaultSender string `yaml:"mailDefaultSender"`
	MailTimeout       string `yaml:"mailTimeout"`

	StorageEndpoint  string `yaml:"storageEndpoint"`
	StorageAccessKey string `yaml:"storageAccessKey"`
	StorageSecretKey string `yaml:"storageSecretKey"`
	StorageBucket    string `yaml:"storageBucket"`
	StorageFolder    string `yaml:"storageFolder"`
	StorageUseSSL    bool   `yaml:"storageUseSSL"`
	StoragePublicURL string `yaml:"storagePublicURL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`
	EventStream  string `yaml:"eventStream"`

	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	LoginRateLimitPerMinute  int      `yaml:"loginRateLimitPerMinute"`
	SignupRateLimitPerMinute int      `yaml:"signupRateLimitPerMinute"`
	VerifyRateLimitPerMinute int      `yaml:"verifyRateLimitPerMinute"`
}

// Path returns the config file location.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("PORTAL_CONFIG")); p != "" {
		return p
	}
	return ConfigPath
}

// Load reads .env (if present), the YAML file at path and environment
// overrides, then validates. A missing file at the default path is allowed so
// the service can be configured from the environment alone.
func Load(path string) (FileConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return FileConfig{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := defaults()
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == ConfigPath:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() FileConfig {
	return FileConfig{
		Port:                     "5000",
		LogLevel:                 "info",
		UploadDir:                "uploads",
		SessionTTL:               "24h",
		MailPort:                 587,
		MailTimeout:              "10s",
		StorageBucket:            "portal",
		StorageFolder:            "postulantes",
		AMQPExchange:             "portal.events",
		EventStream:              "portal:events",
		LoginRateLimitPerMinute:  10,
		SignupRateLimitPerMinute: 5,
		VerifyRateLimitPerMinute: 10,
	}
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.SecretKey, "SECRET_KEY")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.UploadDir, "UPLOAD_DIR")
	setString(&cfg.SessionTTL, "SESSION_TTL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.MailServer, "MAIL_SERVER")
	setInt(&cfg.MailPort, "MAIL_PORT")
	setBool(&cfg.MailUseTLS, "MAIL_USE_TLS")
	setString(&cfg.MailUsername, "MAIL_USERNAME")
	setString(&cfg.MailPassword, "MAIL_PASSWORD")
	setString(&cfg.MailDefaultSender, "MAIL_DEFAULT_SENDER")
	setString(&cfg.MailTimeout, "MAIL_TIMEOUT")
	setString(&cfg.StorageEndpoint, "STORAGE_ENDPOINT")
	setString(&cfg.StorageAccessKey, "STORAGE_ACCESS_KEY")
	setString(&cfg.StorageSecretKey, "STORAGE_SECRET_KEY")
	setString(&cfg.StorageBucket, "STORAGE_BUCKET")
	setString(&cfg.StorageFolder, "STORAGE_FOLDER")
	setBool(&cfg.StorageUseSSL, "STORAGE_USE_SSL")
	setString(&cfg.StoragePublicURL, "STORAGE_PUBLIC_URL")
	setString(&cfg.AMQPURL, "AMQP_URL")
	setString(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	setString(&cfg.EventStream, "PORTAL_EVENT_STREAM")
	if v := os.Getenv("PORTAL_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	setInt(&cfg.LoginRateLimitPerMinute, "PORTAL_LOGIN_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.SignupRateLimitPerMinute, "PORTAL_SIGNUP_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.VerifyRateLimitPerMinute, "PORTAL_VERIFY_RATE_LIMIT_PER_MINUTE")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return errors.New("config: secretKey is required (set in config.yaml or SECRET_KEY)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for sessions and rate limiting")
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		return errors.New("config: uploadDir is required")
	}
	if cfg.MailPort <= 0 || cfg.MailPort > 65535 {
		return errors.New("config: mailPort must be a valid TCP port")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.SignupRateLimitPerMinute < 0 || cfg.VerifyRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseDuration(cfg.SessionTTL, "sessionTTL"); err != nil {
		return err
	}
	if _, err := ParseDuration(cfg.MailTimeout, "mailTimeout"); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration setting.
func ParseDuration(value, name string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return d, nil
}

// MailConfigured reports whether outgoing mail is set up.
func (c FileConfig) MailConfigured() bool {
	return strings.TrimSpace(c.MailServer) != ""
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
