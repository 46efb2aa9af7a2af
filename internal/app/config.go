package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	DatabaseURL string `usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Redis       RedisConfig
	Kafka       KafkaConfig
	Pricing     PricingConfig
	Sweep       SweepConfig
}

// RedisConfig locates the flash-sale counters. An empty Addr keeps them in
// process memory.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address for flash-sale stock (host:port)"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// KafkaConfig controls event publishing. Without brokers events are dropped.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"promotion-events" usage:"Topic for promotion lifecycle events"`
}

// PricingConfig tunes cart aggregation.
type PricingConfig struct {
	PointsPerUnit int64         `default:"1" usage:"Loyalty points per whole currency unit spent" flag:"points-per-unit"`
	CodeIndexTTL  time.Duration `default:"1m" usage:"How long an unknown promo code is rejected before the code index is rebuilt" flag:"code-index-ttl"`
}

// SweepConfig bounds a single expiry sweep.
type SweepConfig struct {
	Timeout time.Duration `default:"1m" usage:"Maximum duration of one expiry sweep" flag:"sweep-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		Args:      args,
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and REDIS_ADDR to the application's
// PROMO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.Redis.Addr = v
		}
	}
	if c.Pricing.PointsPerUnit <= 0 {
		c.Pricing.PointsPerUnit = 1
	}
}
