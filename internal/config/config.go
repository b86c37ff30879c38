// Package config loads service configuration from YAML with environment
// variable overrides.
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

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	Provider      string `yaml:"provider"`
	OllamaBaseURL string `yaml:"ollamaBaseURL"`
	OpenAIBaseURL string `yaml:"openaiBaseURL"`
	OpenAIAPIKey  string `yaml:"openaiAPIKey"`
	Model         string `yaml:"model"`
	HistoryLimit  int    `yaml:"historyLimit"`
	WaitTimeout   string `yaml:"waitTimeout"`

	DedupWindow    string `yaml:"dedupWindow"`
	DedupRetention string `yaml:"dedupRetention"`
	JanitorPeriod  string `yaml:"janitorPeriod"`
	LockMaxHold    string `yaml:"lockMaxHold"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	MaxUploadBytes    int64  `yaml:"maxUploadBytes"`
	AllowedExtensions string `yaml:"allowedExtensions"`
	MaxAttachments    int    `yaml:"maxAttachments"`

	SubmitRateLimitPerMinute int `yaml:"submitRateLimitPerMinute"`

	Notifier     string `yaml:"notifier"`
	ReplyStream  string `yaml:"replyStream"`
	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`
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
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("ASSISTANT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("ASSISTANT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("ASSISTANT_SUBMIT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubmitRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for dedup and lease coordination")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "ollama":
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return errors.New("config: openaiAPIKey is required for the openai provider")
		}
	default:
		return fmt.Errorf("config: unknown provider %q", cfg.Provider)
	}
	if cfg.HistoryLimit < 0 {
		return errors.New("config: historyLimit must be >= 0")
	}
	if cfg.SubmitRateLimitPerMinute < 0 {
		return errors.New("config: submitRateLimitPerMinute must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Notifier)) {
	case "", "none", "redis":
	case "amqp":
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for the amqp notifier")
		}
	default:
		return fmt.Errorf("config: unknown notifier %q", cfg.Notifier)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"jwtLeeway", cfg.JWTLeeway},
		{"waitTimeout", cfg.WaitTimeout},
		{"dedupWindow", cfg.DedupWindow},
		{"dedupRetention", cfg.DedupRetention},
		{"janitorPeriod", cfg.JanitorPeriod},
		{"lockMaxHold", cfg.LockMaxHold},
	} {
		if _, err := ParseOptionalDuration(field.value); err != nil {
			return fmt.Errorf("config: invalid %s duration: %w", field.name, err)
		}
	}
	return nil
}

// ParseOptionalDuration parses a duration string, returning zero for empty
// input so callers can fall back to their defaults.
func ParseOptionalDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

// ParseExtensions splits a comma-separated extension list.
func ParseExtensions(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}
