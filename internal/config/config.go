package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AuthConfig struct {
	Secret  string `mapstructure:"secret"`
	JWKSURL string `mapstructure:"jwks_url"`
	Issuer  string `mapstructure:"issuer"`
	// InternalToken guards the /internal publish hooks.
	InternalToken string `mapstructure:"internal_token"`
}

type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type PushConfig struct {
	Subject string `mapstructure:"subject"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	TypingTTL    time.Duration `mapstructure:"typing_ttl"`
	ICEGrace     time.Duration `mapstructure:"ice_grace"`
	DatabaseURL  string        `mapstructure:"database_url"`
	NatsURL      string        `mapstructure:"nats_url"`

	Auth AuthConfig `mapstructure:"auth"`
	Rate RateConfig `mapstructure:"rate"`
	Push PushConfig `mapstructure:"push"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("store_timeout", "3s")
	v.SetDefault("typing_ttl", "1600ms")
	v.SetDefault("ice_grace", "8s")
	v.SetDefault("database_url", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.internal_token", "")
	v.SetDefault("rate.limit", 30)
	v.SetDefault("rate.interval", "1s")
	v.SetDefault("push.subject", "push.notify")
}

// Load reads config/config.<CONFIG_ENV>.yaml when present. Every key can be
// overridden from the environment as KTK_<KEY>, with dots as underscores.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("KTK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Bool("postgres", cfg.DatabaseURL != "").Bool("nats", cfg.NatsURL != "").Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Auth.Secret == "" && c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth: one of auth.secret or auth.jwks_url is required")
	}
	if c.TypingTTL <= 0 || c.ICEGrace <= 0 {
		return fmt.Errorf("typing_ttl and ice_grace must be positive")
	}
	return nil
}
