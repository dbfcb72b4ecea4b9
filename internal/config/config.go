package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	MigrationsDir string   `mapstructure:"MIGRATIONS_DIR"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RedisURL        string        `mapstructure:"REDIS_URL"`
	MeasureCacheTTL time.Duration `mapstructure:"MEASURE_CACHE_TTL"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`
	AMQPQueue    string `mapstructure:"AMQP_QUEUE"`

	SweepFlagsCron   string   `mapstructure:"SWEEP_FLAGS_CRON"`
	SweepQualityCron string   `mapstructure:"SWEEP_QUALITY_CRON"`
	SweepConcurrency int      `mapstructure:"SWEEP_CONCURRENCY"`
	SweepTenants     []string `mapstructure:"SWEEP_TENANTS"`
	FlagsAutoClear   bool     `mapstructure:"FLAGS_AUTO_CLEAR"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"CORS_ORIGINS", "MIGRATIONS_DIR",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"REDIS_URL", "MEASURE_CACHE_TTL",
	"AMQP_URL", "AMQP_EXCHANGE", "AMQP_QUEUE",
	"SWEEP_FLAGS_CRON", "SWEEP_QUALITY_CRON", "SWEEP_CONCURRENCY", "SWEEP_TENANTS", "FLAGS_AUTO_CLEAR",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("MEASURE_CACHE_TTL", time.Hour)
	v.SetDefault("AMQP_EXCHANGE", "outcomes")
	v.SetDefault("AMQP_QUEUE", "outcomes.evaluate")
	v.SetDefault("SWEEP_FLAGS_CRON", "0 */6 * * *")
	v.SetDefault("SWEEP_QUALITY_CRON", "0 2 * * *")
	v.SetDefault("SWEEP_CONCURRENCY", 4)
	v.SetDefault("FLAGS_AUTO_CLEAR", false)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.SweepTenants = splitList(cfg.SweepTenants, v.GetString("SWEEP_TENANTS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// splitList accepts both a decoded list and a raw comma separated env value.
// Elements are trimmed and blanks dropped.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 0 {
		decoded = []string{raw}
	}
	var out []string
	for _, d := range decoded {
		for _, s := range strings.Split(d, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// JWT validation needs either a JWKS endpoint or a shared signing key.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be at least 1, got %d", c.SweepConcurrency)
	}
	for name, spec := range map[string]string{
		"SWEEP_FLAGS_CRON":   c.SweepFlagsCron,
		"SWEEP_QUALITY_CRON": c.SweepQualityCron,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP_EXCHANGE is required when AMQP_URL is set")
	}
	return nil
}
