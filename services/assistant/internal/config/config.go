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

// ConfigPath is the config file location, overridable with CONFIG_PATH.
var ConfigPath = envOr("CONFIG_PATH", "config.yaml")

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	ChatProvider     string `yaml:"chatProvider"`
	AnthropicAPIKey  string `yaml:"anthropicAPIKey"`
	AnthropicBaseURL string `yaml:"anthropicBaseURL"`
	AnthropicModel   string `yaml:"anthropicModel"`
	OpenAIAPIKey     string `yaml:"openaiAPIKey"`
	OpenAIBaseURL    string `yaml:"openaiBaseURL"`
	OpenAIModel      string `yaml:"openaiModel"`
	ImageProvider    string `yaml:"imageProvider"`
	ImageModel       string `yaml:"imageModel"`
	ImageSize        string `yaml:"imageSize"`

	DefaultTemperature     *float64 `yaml:"defaultTemperature"`
	MaxOutputTokens        int      `yaml:"maxOutputTokens"`
	WebSearch              *bool    `yaml:"webSearch"`
	ProviderTimeoutSeconds int      `yaml:"providerTimeoutSeconds"`

	HistoryWindow  int    `yaml:"historyWindow"`
	HistoryTTL     string `yaml:"historyTTL"`
	CacheKeyPrefix string `yaml:"cacheKeyPrefix"`

	SendRateLimitPerMinute  int      `yaml:"sendRateLimitPerMinute"`
	LoginRateLimitPerMinute int      `yaml:"loginRateLimitPerMinute"`
	TrustedProxyCIDRs       []string `yaml:"trustedProxyCidrs"`
	CORSOrigins             []string `yaml:"corsOrigins"`

	TelemetryAsync  bool   `yaml:"telemetryAsync"`
	TelemetryStream string `yaml:"telemetryStream"`

	Pricing     PricingConfig     `yaml:"pricing"`
	Minio       MinioConfig       `yaml:"minio"`
	Auth        AuthConfig        `yaml:"auth"`
	ImageIntent ImageIntentConfig `yaml:"imageIntent"`
}

type PricingConfig struct {
	USDToBRL       float64 `yaml:"usdToBrl"`
	InputUSDPer1M  float64 `yaml:"inputUsdPer1M"`
	OutputUSDPer1M float64 `yaml:"outputUsdPer1M"`
	USDPerImage    float64 `yaml:"usdPerImage"`
}

// MinioConfig enables the generated image archive when Endpoint is set.
type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"useSSL"`
	PresignTTL string `yaml:"presignTTL"`
}

type AuthConfig struct {
	Required      bool   `yaml:"required"`
	Email         string `yaml:"email"`
	PasswordHash  string `yaml:"passwordHash"`
	SessionSecret string `yaml:"sessionSecret"`
	SessionTTL    string `yaml:"sessionTTL"`
}

type ImageIntentConfig struct {
	Verbs    []string `yaml:"verbs"`
	Nouns    []string `yaml:"nouns"`
	Lookback int      `yaml:"lookback"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and defaults, then validates the result.
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
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.ChatProvider, "CHAT_PROVIDER")
	setString(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.AnthropicModel, "ANTHROPIC_MODEL")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.ImageModel, "OPENAI_IMAGE_MODEL")
	setString(&cfg.ImageSize, "OPENAI_IMAGE_SIZE")
	setString(&cfg.ImageProvider, "IMAGE_PROVIDER")
	setString(&cfg.HistoryTTL, "HISTORY_TTL")
	setString(&cfg.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Minio.Bucket, "MINIO_BUCKET")
	setString(&cfg.Auth.Email, "AUTH_EMAIL")
	setString(&cfg.Auth.PasswordHash, "AUTH_PASSWORD_HASH")
	setString(&cfg.Auth.SessionSecret, "SESSION_SECRET")

	if v, ok := lookup("DEFAULT_TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: DEFAULT_TEMPERATURE: %w", err)
		}
		cfg.DefaultTemperature = &f
	}
	for _, o := range []struct {
		env string
		dst *int
	}{
		{"MAX_OUTPUT_TOKENS", &cfg.MaxOutputTokens},
		{"HISTORY_WINDOW", &cfg.HistoryWindow},
	} {
		if err := setInt(o.dst, o.env); err != nil {
			return err
		}
	}
	for _, o := range []struct {
		env string
		dst *float64
	}{
		{"USD_TO_BRL", &cfg.Pricing.USDToBRL},
		{"PRICE_INPUT_USD_PER_1M", &cfg.Pricing.InputUSDPer1M},
		{"PRICE_OUTPUT_USD_PER_1M", &cfg.Pricing.OutputUSDPer1M},
		{"PRICE_USD_PER_IMAGE", &cfg.Pricing.USDPerImage},
	} {
		if err := setFloat(o.dst, o.env); err != nil {
			return err
		}
	}
	for _, o := range []struct {
		env string
		dst *bool
	}{
		{"AUTH_REQUIRED", &cfg.Auth.Required},
		{"TELEMETRY_ASYNC", &cfg.TelemetryAsync},
	} {
		if err := setBool(o.dst, o.env); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.ChatProvider = strings.ToLower(strings.TrimSpace(cfg.ChatProvider))
	if cfg.ChatProvider == "" {
		cfg.ChatProvider = "anthropic"
	}
	cfg.ImageProvider = strings.ToLower(strings.TrimSpace(cfg.ImageProvider))
	if cfg.DefaultTemperature == nil {
		t := 0.7
		cfg.DefaultTemperature = &t
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 4096
	}
	if cfg.WebSearch == nil {
		on := true
		cfg.WebSearch = &on
	}
	if cfg.ProviderTimeoutSeconds <= 0 {
		cfg.ProviderTimeoutSeconds = 120
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.HistoryTTL == "" {
		cfg.HistoryTTL = "24h"
	}
	if cfg.CacheKeyPrefix == "" {
		cfg.CacheKeyPrefix = "chat:"
	}
	if cfg.SendRateLimitPerMinute == 0 {
		cfg.SendRateLimitPerMinute = 30
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
	if cfg.TelemetryStream == "" {
		cfg.TelemetryStream = "lumos:telemetry"
	}
	if cfg.Auth.SessionTTL == "" {
		cfg.Auth.SessionTTL = "12h"
	}
	if cfg.Minio.PresignTTL == "" {
		cfg.Minio.PresignTTL = "24h"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	switch cfg.ChatProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return errors.New("config: anthropicAPIKey is required (set in config.yaml or ANTHROPIC_API_KEY)")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return errors.New("config: openaiAPIKey is required (set in config.yaml or OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown chatProvider %q (anthropic or openai)", cfg.ChatProvider)
	}
	switch cfg.ImageProvider {
	case "":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return errors.New("config: openaiAPIKey is required for imageProvider openai (set in config.yaml or OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown imageProvider %q (openai or empty)", cfg.ImageProvider)
	}
	if t := *cfg.DefaultTemperature; t < 0 || t > 1 {
		return errors.New("config: defaultTemperature must be within [0,1]")
	}
	for name, value := range map[string]string{
		"historyTTL":       cfg.HistoryTTL,
		"auth.sessionTTL":  cfg.Auth.SessionTTL,
		"minio.presignTTL": cfg.Minio.PresignTTL,
	} {
		if _, err := ParseDuration(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if cfg.Minio.Endpoint != "" && cfg.Minio.Bucket == "" {
		return errors.New("config: minio.bucket is required when minio.endpoint is set (set in config.yaml or MINIO_BUCKET)")
	}
	if cfg.Auth.Required {
		if cfg.Auth.Email == "" {
			return errors.New("config: auth.email is required (set in config.yaml or AUTH_EMAIL)")
		}
		if cfg.Auth.PasswordHash == "" {
			return errors.New("config: auth.passwordHash is required (set in config.yaml or AUTH_PASSWORD_HASH)")
		}
		if len(cfg.Auth.SessionSecret) < 32 {
			return errors.New("config: auth.sessionSecret must be at least 32 characters (set in config.yaml or SESSION_SECRET)")
		}
	}
	return nil
}

// ParseDuration accepts Go durations plus a day suffix such as "7d".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", raw)
	}
	return d, nil
}

// MustDuration parses a value already checked by validateConfig.
func MustDuration(raw string) time.Duration {
	d, _ := ParseDuration(raw)
	return d
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func envOr(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}
