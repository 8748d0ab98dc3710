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

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	AuthJWKSURL string `yaml:"authJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	ProcessorAPIURL        string `yaml:"processorApiURL"`
	ProcessorAPIKey        string `yaml:"processorApiKey"`
	ProcessorWebhookSecret string `yaml:"processorWebhookSecret"`

	ESignAPIURL string `yaml:"esignApiURL"`
	ESignAPIKey string `yaml:"esignApiKey"`

	ArchiveEndpoint  string `yaml:"archiveEndpoint"`
	ArchiveAccessKey string `yaml:"archiveAccessKey"`
	ArchiveSecretKey string `yaml:"archiveSecretKey"`
	ArchiveBucket    string `yaml:"archiveBucket"`
	ArchiveUseSSL    bool   `yaml:"archiveUseSSL"`

	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	PaymentRateLimitPerMinute int `yaml:"paymentRateLimitPerMinute"`
	VerifyRateLimitPerMinute  int `yaml:"verifyRateLimitPerMinute"`

	OfflineQueueKey           string `yaml:"offlineQueueKey"`
	OfflineQueueMaxRetries    int    `yaml:"offlineQueueMaxRetries"`
	OfflineQueueRetryInterval string `yaml:"offlineQueueRetryInterval"`
	ContractPollInterval      string `yaml:"contractPollInterval"`
}

// Load reads config from path (defaults to config.yaml), applying env
// overrides for deploy-time secrets.
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
	if v := os.Getenv("HAVEN_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("HAVEN_AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
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
	if v := os.Getenv("HAVEN_PROCESSOR_API_URL"); v != "" {
		cfg.ProcessorAPIURL = v
	}
	if v := os.Getenv("HAVEN_PROCESSOR_API_KEY"); v != "" {
		cfg.ProcessorAPIKey = v
	}
	if v := os.Getenv("HAVEN_PROCESSOR_WEBHOOK_SECRET"); v != "" {
		cfg.ProcessorWebhookSecret = v
	}
	if v := os.Getenv("HAVEN_ESIGN_API_URL"); v != "" {
		cfg.ESignAPIURL = v
	}
	if v := os.Getenv("HAVEN_ESIGN_API_KEY"); v != "" {
		cfg.ESignAPIKey = v
	}
	if v := os.Getenv("HAVEN_ARCHIVE_ENDPOINT"); v != "" {
		cfg.ArchiveEndpoint = v
	}
	if v := os.Getenv("HAVEN_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.ArchiveAccessKey = v
	}
	if v := os.Getenv("HAVEN_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.ArchiveSecretKey = v
	}
	if v := os.Getenv("HAVEN_ARCHIVE_BUCKET"); v != "" {
		cfg.ArchiveBucket = v
	}
	if v := os.Getenv("HAVEN_ARCHIVE_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.ArchiveUseSSL = b
		}
	}
	if v := os.Getenv("HAVEN_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("HAVEN_PAYMENT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PaymentRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("HAVEN_VERIFY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VerifyRateLimitPerMinute = n
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
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or HAVEN_DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the offline queue and verify codes")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or HAVEN_AUTH_JWKS_URL)")
	}
	if cfg.ProcessorAPIURL == "" {
		return errors.New("config: processorApiURL is required (set in config.yaml)")
	}
	if cfg.ESignAPIURL == "" {
		return errors.New("config: esignApiURL is required (set in config.yaml)")
	}
	if cfg.PaymentRateLimitPerMinute < 0 || cfg.VerifyRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.OfflineQueueMaxRetries < 0 {
		return errors.New("config: offlineQueueMaxRetries must be >= 0")
	}
	if _, err := ParseInterval(cfg.OfflineQueueRetryInterval); err != nil {
		return fmt.Errorf("config: offlineQueueRetryInterval: %w", err)
	}
	if _, err := ParseInterval(cfg.ContractPollInterval); err != nil {
		return fmt.Errorf("config: contractPollInterval: %w", err)
	}
	return nil
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

// ParseInterval parses an optional duration string; empty means "use the
// package default".
func ParseInterval(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must be >= 0", s)
	}
	return d, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
