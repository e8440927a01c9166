package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when no path is given on the command line.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseURL"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	SessionSecret     string   `yaml:"sessionSecret"`
	SessionTTL        string   `yaml:"sessionTTL"`
	CookieSecure      bool     `yaml:"cookieSecure"`
	CORSOrigins       []string `yaml:"corsOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	LLMProvider       string `yaml:"llmProvider"`
	LLMBaseURL        string `yaml:"llmBaseURL"`
	LLMAPIKey         string `yaml:"llmApiKey"`
	LLMModel          string `yaml:"llmModel"`
	GenerationTimeout string `yaml:"generationTimeout"`

	StripeSecretKey       string `yaml:"stripeSecretKey"`
	StripeWebhookSecret   string `yaml:"stripeWebhookSecret"`
	StripePublishableKey  string `yaml:"stripePublishableKey"`
	StripePriceBasic      string `yaml:"stripePriceBasic"`
	StripePriceResearch   string `yaml:"stripePriceResearch"`
	StripePriceTeams      string `yaml:"stripePriceTeams"`
	OptimisticTierUpgrade *bool  `yaml:"optimisticTierUpgrade"`

	StorageBackend string `yaml:"storageBackend"`
	UploadDir      string `yaml:"uploadDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AdminEmail    string `yaml:"adminEmail"`
	AdminUsername string `yaml:"adminUsername"`
	AdminPassword string `yaml:"adminPassword"`

	SignupRateLimitPerMinute int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int `yaml:"loginRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	strs := map[string]*string{
		"PORT":                   &cfg.Port,
		"LOG_LEVEL":              &cfg.LogLevel,
		"DATABASE_URL":           &cfg.DatabaseURL,
		"REDIS_ADDR":             &cfg.RedisAddr,
		"REDIS_PASSWORD":         &cfg.RedisPassword,
		"SESSION_SECRET":         &cfg.SessionSecret,
		"SESSION_TTL":            &cfg.SessionTTL,
		"LLM_PROVIDER":           &cfg.LLMProvider,
		"LLM_BASE_URL":           &cfg.LLMBaseURL,
		"OPENAI_API_KEY":         &cfg.LLMAPIKey,
		"LLM_MODEL":              &cfg.LLMModel,
		"GENERATION_TIMEOUT":     &cfg.GenerationTimeout,
		"STRIPE_SECRET_KEY":      &cfg.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET":  &cfg.StripeWebhookSecret,
		"STRIPE_PUBLISHABLE_KEY": &cfg.StripePublishableKey,
		"STRIPE_PRICE_BASIC":     &cfg.StripePriceBasic,
		"STRIPE_PRICE_RESEARCH":  &cfg.StripePriceResearch,
		"STRIPE_PRICE_TEAMS":     &cfg.StripePriceTeams,
		"STORAGE_BACKEND":        &cfg.StorageBackend,
		"UPLOAD_DIR":             &cfg.UploadDir,
		"MINIO_ENDPOINT":         &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":       &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":       &cfg.MinioSecretKey,
		"MINIO_BUCKET":           &cfg.MinioBucket,
		"ADMIN_EMAIL":            &cfg.AdminEmail,
		"ADMIN_USERNAME":         &cfg.AdminUsername,
		"ADMIN_PASSWORD":         &cfg.AdminPassword,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("OPTIMISTIC_TIER_UPGRADE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.OptimisticTierUpgrade = &b
		}
	}
	if v := os.Getenv("SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "720h"
	}
	if cfg.GenerationTimeout == "" {
		cfg.GenerationTimeout = "60s"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "local"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.StripePriceBasic == "" {
		cfg.StripePriceBasic = "price_basic"
	}
	if cfg.StripePriceResearch == "" {
		cfg.StripePriceResearch = "price_research"
	}
	if cfg.StripePriceTeams == "" {
		cfg.StripePriceTeams = "price_teams"
	}
	if cfg.OptimisticTierUpgrade == nil {
		on := true
		cfg.OptimisticTierUpgrade = &on
	}
	if cfg.SignupRateLimitPerMinute == 0 {
		cfg.SignupRateLimitPerMinute = 5
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for sessions and rate limiting")
	}
	if len(cfg.SessionSecret) < 16 {
		return errors.New("config: sessionSecret must be at least 16 characters (set SESSION_SECRET)")
	}
	if _, err := ParseDuration("sessionTTL", cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("generationTimeout", cfg.GenerationTimeout); err != nil {
		return err
	}
	switch strings.ToLower(cfg.StorageBackend) {
	case "local":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for storageBackend minio")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q", cfg.StorageBackend)
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		return errors.New("config: adminEmail and adminPassword must be set together")
	}
	return nil
}

// ParseDuration parses a duration option, naming the field on failure.
func ParseDuration(field, value string) (time.Duration, error) {
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("invalid %s duration: must be positive", field)
	}
	return dur, nil
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
