package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	QueueStore QueueStoreConfig `mapstructure:"queue_store"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Lease      LeaseConfig      `mapstructure:"lease"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// QueueStoreConfig holds connection settings for the message queue store.
type QueueStoreConfig struct {
	// Backend selects the store implementation: "rest" (default) or "postgres".
	Backend string `mapstructure:"backend"`

	// REST backend settings.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the static key sent in the "apikey" header next to the
	// bearer credential. Optional.
	APIKey string `mapstructure:"api_key"`
	// Token is the static bearer credential. When empty, AuthURL plus
	// Email/Password select the refreshing token source instead.
	Token    string        `mapstructure:"token"`
	AuthURL  string        `mapstructure:"auth_url"`
	Email    string        `mapstructure:"email"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// Postgres backend settings.
	DatabaseURL    string        `mapstructure:"database_url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ProviderConfig holds delivery provider configuration.
type ProviderConfig struct {
	// Type identifies the provider: "resend", "sendgrid", "ses", "smtp", "stdout".
	Type string `mapstructure:"type"`
	// APIKey is the provider credential.
	APIKey string `mapstructure:"api_key"`
	// Endpoint overrides the default API URL (useful for testing).
	Endpoint string `mapstructure:"endpoint"`
	// FromAddress and FromName identify the sender.
	FromAddress string        `mapstructure:"from_address"`
	FromName    string        `mapstructure:"from_name"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// SES-specific settings.
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// SMTP relay settings.
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
}

// ProcessorConfig holds batch drain settings.
type ProcessorConfig struct {
	// MaxBatchSize bounds how many pending messages one drain pass fetches.
	MaxBatchSize int `mapstructure:"max_batch_size"`
	// SendDelay is the pause between delivery attempts within a batch.
	// Zero disables pacing.
	SendDelay time.Duration `mapstructure:"send_delay"`
	// Interval is how often the drain worker triggers a pass.
	Interval time.Duration `mapstructure:"interval"`
	// UseIdempotencyKeys makes each send carry the message ID as an
	// idempotency key so a redelivery after a failed reconciliation is
	// deduplicated provider-side.
	UseIdempotencyKeys bool `mapstructure:"use_idempotency_keys"`
}

// LeaseConfig holds Redis message-lease settings. Leaving Addr empty
// disables leasing.
type LeaseConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// APIConfig holds HTTP trigger/stats server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// APIKeyHash is the bcrypt hash of the key required to trigger a
	// drain pass. Empty disables trigger auth.
	APIKeyHash string `mapstructure:"api_key_hash"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix MAILDRAIN_ override file values.
// For example, MAILDRAIN_QUEUE_STORE_TOKEN overrides queue_store.token.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAILDRAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue_store.backend", "rest")
	v.SetDefault("queue_store.timeout", 30*time.Second)
	v.SetDefault("queue_store.pool_min", 2)
	v.SetDefault("queue_store.pool_max", 10)
	v.SetDefault("queue_store.connect_timeout", 5*time.Second)

	v.SetDefault("provider.type", "resend")
	v.SetDefault("provider.timeout", 30*time.Second)

	v.SetDefault("processor.max_batch_size", 10)
	v.SetDefault("processor.send_delay", 0)
	v.SetDefault("processor.interval", time.Minute)
	v.SetDefault("processor.use_idempotency_keys", true)

	v.SetDefault("lease.ttl", time.Minute)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks cross-field consistency the unmarshal step cannot.
func (c *Config) Validate() error {
	switch c.QueueStore.Backend {
	case "rest":
		if c.QueueStore.BaseURL == "" {
			return errors.New("queue_store: base_url is required for rest backend")
		}
		if c.QueueStore.Token == "" &&
			(c.QueueStore.AuthURL == "" || c.QueueStore.Email == "" || c.QueueStore.Password == "") {
			return errors.New("queue_store: rest backend needs token, or auth_url with email and password")
		}
	case "postgres":
		if c.QueueStore.DatabaseURL == "" {
			return errors.New("queue_store: database_url is required for postgres backend")
		}
	default:
		return fmt.Errorf("queue_store: unknown backend %q", c.QueueStore.Backend)
	}

	if c.Processor.MaxBatchSize <= 0 {
		return errors.New("processor: max_batch_size must be positive")
	}
	if c.Processor.SendDelay < 0 {
		return errors.New("processor: send_delay must not be negative")
	}

	return nil
}
