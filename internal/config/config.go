package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PUSHRELAY_DEDUP_BACKEND=redis.
const EnvPrefix = "PUSHRELAY"

// Config is the full pushrelay configuration.
type Config struct {
	SessionDir string          `mapstructure:"session_dir"`
	Validator  ValidatorConfig `mapstructure:"validator"`
	Dedup      DedupConfig     `mapstructure:"dedup"`
	Dispatch   DispatchConfig  `mapstructure:"dispatch"`
	Registry   RegistryConfig  `mapstructure:"registry"`
	FCM        FCMConfig       `mapstructure:"fcm"`
	NATS       NATSConfig      `mapstructure:"nats"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	Logging    LoggingConfig   `mapstructure:"logging"`
}

// ValidatorConfig controls which push messages belong to this app.
type ValidatorConfig struct {
	MarkerKey       string `mapstructure:"marker_key"`
	DefaultActivity string `mapstructure:"default_activity"`
}

// DedupConfig selects the identity store used to drop redeliveries.
type DedupConfig struct {
	Backend     string        `mapstructure:"backend"` // "memory" (default) or "redis"
	TTL         time.Duration `mapstructure:"ttl"`
	MaxEntries  int           `mapstructure:"max_entries"`
	RedisURL    string        `mapstructure:"redis_url"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
}

// DispatchConfig bounds sink and listener calls and picks notification ids.
type DispatchConfig struct {
	RenderTimeout   time.Duration `mapstructure:"render_timeout"`
	ListenerTimeout time.Duration `mapstructure:"listener_timeout"`
	IDStrategy      string        `mapstructure:"id_strategy"` // "sequence" (default) or "random"
}

// RegistryConfig caps the in-memory notification records.
type RegistryConfig struct {
	MaxRecords int `mapstructure:"max_records"`
}

// FCMConfig holds the app identity used to register with FCM.
type FCMConfig struct {
	SenderID   string `mapstructure:"sender_id"`
	AppPackage string `mapstructure:"app_package"`
	CertSHA1   string `mapstructure:"cert_sha1"`
	MCSAddr    string `mapstructure:"mcs_addr"`
}

// NATSConfig configures the inbound subject and the event stream for serve.
type NATSConfig struct {
	URL         string `mapstructure:"url"`
	Subject     string `mapstructure:"subject"`
	Queue       string `mapstructure:"queue"`
	EventPrefix string `mapstructure:"event_prefix"`
}

// HTTPConfig configures the metrics, health and live hub listener.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	LivePath string `mapstructure:"live_path"`
}

// LoggingConfig sets log level and format ("text" or "json").
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from configPath, or from ./pushrelay.yaml when
// configPath is empty, falling back to defaults. Environment variables
// override both.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("session_dir", "")
	v.SetDefault("validator.marker_key", "_pr")
	v.SetDefault("validator.default_activity", "")
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.ttl", "0s")
	v.SetDefault("dedup.max_entries", 0)
	v.SetDefault("dedup.redis_url", "redis://localhost:6379/0")
	v.SetDefault("dedup.redis_prefix", "pushrelay:dedup:")
	v.SetDefault("dispatch.render_timeout", "5s")
	v.SetDefault("dispatch.listener_timeout", "5s")
	v.SetDefault("dispatch.id_strategy", "sequence")
	v.SetDefault("registry.max_records", 1000)
	v.SetDefault("fcm.sender_id", "")
	v.SetDefault("fcm.app_package", "")
	v.SetDefault("fcm.cert_sha1", "")
	v.SetDefault("fcm.mcs_addr", "mtalk.google.com:5228")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "pushrelay.inbound")
	v.SetDefault("nats.queue", "pushrelay")
	v.SetDefault("nats.event_prefix", "pushrelay.events")
	v.SetDefault("http.addr", ":8089")
	v.SetDefault("http.live_path", "/live")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pushrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot be built from.
func (c *Config) Validate() error {
	switch c.Dedup.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("dedup.backend: unknown backend %q", c.Dedup.Backend)
	}
	switch c.Dispatch.IDStrategy {
	case "sequence", "random":
	default:
		return fmt.Errorf("dispatch.id_strategy: unknown strategy %q", c.Dispatch.IDStrategy)
	}
	if c.Dedup.TTL < 0 {
		return fmt.Errorf("dedup.ttl must not be negative")
	}
	if c.Dispatch.RenderTimeout < 0 {
		return fmt.Errorf("dispatch.render_timeout must not be negative")
	}
	if c.Dispatch.ListenerTimeout < 0 {
		return fmt.Errorf("dispatch.listener_timeout must not be negative")
	}
	return nil
}
