package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"onebookreader/pkg/credstore"
)

// ConfigPath is read when Load is given no path. It may be absent.
const ConfigPath = "config.yaml"

// EnvFile is loaded before environment overrides are applied. Variables
// already set in the environment win over the file.
var EnvFile = ".env"

const (
	defaultAPIBaseURL          = "http://localhost:8080/api"
	defaultLogLevel            = "info"
	defaultRequestTimeout      = 10 * time.Second
	defaultValidationTimeout   = 10 * time.Second
	defaultRecsStaleTime       = 10 * time.Minute
	defaultRecsCacheTime       = 30 * time.Minute
	defaultMaxRetries          = 2
	defaultRetryBaseDelay      = time.Second
	defaultRetryMaxDelay       = 30 * time.Second
	defaultBreakerFailures     = 5
	defaultBreakerCooldown     = time.Minute
)

// FileConfig represents configuration loaded from YAML. Durations are Go
// duration strings.
type FileConfig struct {
	APIBaseURL      string                `yaml:"apiBaseURL"`
	LogLevel        string                `yaml:"logLevel"`
	RequestTimeout  string                `yaml:"requestTimeout"`
	CredentialStore CredentialStoreConfig `yaml:"credentialStore"`
	Session         SessionFileConfig     `yaml:"session"`
	Recommendations RecommendationsConfig `yaml:"recommendations"`
}

type CredentialStoreConfig struct {
	Driver        string `yaml:"driver"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisPrefix   string `yaml:"redisPrefix"`
	RedisTTL      string `yaml:"redisTTL"`
	SQLitePath    string `yaml:"sqlitePath"`
}

type SessionFileConfig struct {
	ValidationTimeout string `yaml:"validationTimeout"`
}

type RecommendationsConfig struct {
	StaleTime           string `yaml:"staleTime"`
	CacheTime           string `yaml:"cacheTime"`
	MaxRetries          *int   `yaml:"maxRetries"`
	RetryBaseDelay      string `yaml:"retryBaseDelay"`
	RetryMaxDelay       string `yaml:"retryMaxDelay"`
	// CacheClearPerMinute caps server cache clears; 0 leaves them unthrottled.
	CacheClearPerMinute int    `yaml:"cacheClearPerMinute"`
	BreakerFailures     int    `yaml:"breakerFailures"`
	BreakerCooldown     string `yaml:"breakerCooldown"`
}

// Config is the resolved configuration with defaults applied.
type Config struct {
	APIBaseURL      string
	LogLevel        string
	RequestTimeout  time.Duration
	CredentialStore credstore.Config
	Session         SessionConfig
	Recommendations RecommendationSettings
}

type SessionConfig struct {
	ValidationTimeout time.Duration
}

type RecommendationSettings struct {
	StaleTime           time.Duration
	CacheTime           time.Duration
	MaxRetries          int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	CacheClearPerMinute int
	BreakerFailures     int
	BreakerCooldown     time.Duration
}

// Load reads config from path (defaults to config.yaml, which may be
// missing), then .env, then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	fc := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := loadDotEnv(EnvFile); err != nil {
		return Config{}, err
	}
	applyEnv(&fc)

	cfg, err := resolve(fc)
	if err != nil {
		return Config{}, err
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(fc *FileConfig) {
	if v := os.Getenv("ONEBOOK_API_BASE_URL"); v != "" {
		fc.APIBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("ONEBOOK_LOG_LEVEL"); v != "" {
		fc.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("ONEBOOK_REQUEST_TIMEOUT"); v != "" {
		fc.RequestTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("ONEBOOK_CREDENTIAL_STORE"); v != "" {
		fc.CredentialStore.Driver = strings.TrimSpace(v)
	}
	if v := os.Getenv("ONEBOOK_SQLITE_PATH"); v != "" {
		fc.CredentialStore.SQLitePath = strings.TrimSpace(v)
	}
	if v := os.Getenv("ONEBOOK_REDIS_PREFIX"); v != "" {
		fc.CredentialStore.RedisPrefix = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		fc.CredentialStore.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		fc.CredentialStore.RedisPassword = v
	}
	if v := os.Getenv("ONEBOOK_VALIDATION_TIMEOUT"); v != "" {
		fc.Session.ValidationTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("ONEBOOK_RECS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			fc.Recommendations.MaxRetries = &n
		}
	}
	if v := os.Getenv("ONEBOOK_RECS_CACHE_CLEAR_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			fc.Recommendations.CacheClearPerMinute = n
		}
	}
}

func resolve(fc FileConfig) (Config, error) {
	cfg := Config{
		APIBaseURL: strings.TrimSpace(fc.APIBaseURL),
		LogLevel:   strings.TrimSpace(fc.LogLevel),
		CredentialStore: credstore.Config{
			Driver:        strings.ToLower(strings.TrimSpace(fc.CredentialStore.Driver)),
			RedisAddr:     strings.TrimSpace(fc.CredentialStore.RedisAddr),
			RedisPassword: fc.CredentialStore.RedisPassword,
			RedisPrefix:   strings.TrimSpace(fc.CredentialStore.RedisPrefix),
			SQLitePath:    strings.TrimSpace(fc.CredentialStore.SQLitePath),
		},
		Recommendations: RecommendationSettings{
			MaxRetries:          defaultMaxRetries,
			CacheClearPerMinute: fc.Recommendations.CacheClearPerMinute,
			BreakerFailures:     fc.Recommendations.BreakerFailures,
		},
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.CredentialStore.Driver == "" {
		cfg.CredentialStore.Driver = credstore.DriverSQLite
	}
	if cfg.CredentialStore.SQLitePath == "" {
		cfg.CredentialStore.SQLitePath = defaultSQLitePath()
	}
	if fc.Recommendations.MaxRetries != nil {
		cfg.Recommendations.MaxRetries = *fc.Recommendations.MaxRetries
	}
	if cfg.Recommendations.BreakerFailures == 0 {
		cfg.Recommendations.BreakerFailures = defaultBreakerFailures
	}

	durations := []struct {
		field    string
		value    string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"requestTimeout", fc.RequestTimeout, defaultRequestTimeout, &cfg.RequestTimeout},
		{"credentialStore.redisTTL", fc.CredentialStore.RedisTTL, 0, &cfg.CredentialStore.RedisTTL},
		{"session.validationTimeout", fc.Session.ValidationTimeout, defaultValidationTimeout, &cfg.Session.ValidationTimeout},
		{"recommendations.staleTime", fc.Recommendations.StaleTime, defaultRecsStaleTime, &cfg.Recommendations.StaleTime},
		{"recommendations.cacheTime", fc.Recommendations.CacheTime, defaultRecsCacheTime, &cfg.Recommendations.CacheTime},
		{"recommendations.retryBaseDelay", fc.Recommendations.RetryBaseDelay, defaultRetryBaseDelay, &cfg.Recommendations.RetryBaseDelay},
		{"recommendations.retryMaxDelay", fc.Recommendations.RetryMaxDelay, defaultRetryMaxDelay, &cfg.Recommendations.RetryMaxDelay},
		{"recommendations.breakerCooldown", fc.Recommendations.BreakerCooldown, defaultBreakerCooldown, &cfg.Recommendations.BreakerCooldown},
	}
	for _, d := range durations {
		v, err := ParseDuration(d.field, d.value, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}
	return cfg, nil
}

// ParseDuration parses an optional duration string; blank means fallback.
func ParseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", field, err)
	}
	return d, nil
}

func validateConfig(cfg Config) error {
	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("config: apiBaseURL must be an absolute http(s) URL (set in config.yaml or ONEBOOK_API_BASE_URL)")
	}
	switch cfg.CredentialStore.Driver {
	case credstore.DriverMemory, credstore.DriverSQLite:
	case credstore.DriverRedis:
		if cfg.CredentialStore.RedisAddr == "" {
			return errors.New("config: credentialStore.redisAddr is required for the redis driver (or REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("config: unknown credentialStore.driver %q", cfg.CredentialStore.Driver)
	}
	if cfg.RequestTimeout <= 0 || cfg.Session.ValidationTimeout <= 0 {
		return errors.New("config: requestTimeout and session.validationTimeout must be > 0")
	}
	r := cfg.Recommendations
	if r.MaxRetries < 0 {
		return errors.New("config: recommendations.maxRetries must be >= 0")
	}
	if r.StaleTime <= 0 || r.CacheTime < r.StaleTime {
		return errors.New("config: recommendations.cacheTime must be >= staleTime > 0")
	}
	if r.RetryBaseDelay <= 0 || r.RetryMaxDelay < r.RetryBaseDelay {
		return errors.New("config: recommendations.retryMaxDelay must be >= retryBaseDelay > 0")
	}
	if r.CacheClearPerMinute < 0 || r.BreakerFailures < 0 {
		return errors.New("config: recommendations limits must be >= 0")
	}
	return nil
}

func defaultSQLitePath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "onebook", "credentials.db")
	}
	return filepath.Join(".onebook", "credentials.db")
}
