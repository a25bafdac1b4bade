// config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Service  ServiceConfig  `mapstructure:"service"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Program  ProgramConfig  `mapstructure:"program"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	R2       R2Config       `mapstructure:"r2"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// PublicURL is the frontend origin used for share links and Connect redirects.
	PublicURL string `mapstructure:"public_url"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// ServiceConfig holds the shared secret for service-to-service calls
// (billing collaborator → /internal).
type ServiceConfig struct {
	Token string `mapstructure:"token"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type ProgramConfig struct {
	QualifyingPlans   []string      `mapstructure:"qualifying_plans"`
	CommissionRateBps int64         `mapstructure:"commission_rate_bps"`
	MarkerTTL         time.Duration `mapstructure:"marker_ttl"`
	MinProofLinks     int           `mapstructure:"min_proof_links"`
}

type NotifyConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	KafkaBrokers []string      `mapstructure:"kafka_brokers"`
	KafkaTopic   string        `mapstructure:"kafka_topic"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type R2Config struct {
	AccountID       string `mapstructure:"account_id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Bucket          string `mapstructure:"bucket"`
	CDNBaseURL      string `mapstructure:"cdn_base_url"`
}

type WorkerConfig struct {
	VerificationSweepInterval time.Duration `mapstructure:"verification_sweep_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads .env (if present), then config.yaml (if present), then the
// environment. Environment wins: database.url is read from DATABASE_URL.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.port", 5300)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.public_url", "http://localhost:3000")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("service.token", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")

	v.SetDefault("program.qualifying_plans", []string{"pro"})
	v.SetDefault("program.commission_rate_bps", 2000)
	v.SetDefault("program.marker_ttl", "720h")
	v.SetDefault("program.min_proof_links", 3)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.kafka_brokers", []string{})
	v.SetDefault("notify.kafka_topic", "ambassador-referrals")
	v.SetDefault("notify.timeout", "5s")

	v.SetDefault("r2.account_id", "")
	v.SetDefault("r2.access_key_id", "")
	v.SetDefault("r2.access_key_secret", "")
	v.SetDefault("r2.bucket", "")
	v.SetDefault("r2.cdn_base_url", "")

	v.SetDefault("worker.verification_sweep_interval", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Server.AllowedOrigins = trimAll(c.Server.AllowedOrigins)
	c.Notify.KafkaBrokers = trimAll(c.Notify.KafkaBrokers)
	c.Program.QualifyingPlans = trimAll(c.Program.QualifyingPlans)
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the keys the service cannot start without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("config: AUTH_JWT_SECRET must be at least 16 characters")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: SERVER_PORT must be between 1 and 65535")
	}
	if c.Program.CommissionRateBps < 0 || c.Program.CommissionRateBps > 10000 {
		return fmt.Errorf("config: PROGRAM_COMMISSION_RATE_BPS must be between 0 and 10000")
	}
	if c.Program.MinProofLinks < 1 {
		return fmt.Errorf("config: PROGRAM_MIN_PROOF_LINKS must be positive")
	}
	return nil
}

// ConnectReturnURL is where Stripe sends the ambassador after onboarding.
func (c *Config) ConnectReturnURL() string {
	return c.Server.PublicURL + "/ambassador/dashboard?connect=return"
}

// ConnectRefreshURL is where Stripe sends the ambassador when a link expired.
func (c *Config) ConnectRefreshURL() string {
	return c.Server.PublicURL + "/ambassador/dashboard?connect=refresh"
}
