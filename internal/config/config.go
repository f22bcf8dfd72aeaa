package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Notify struct {
		Recipients            []string `mapstructure:"recipients"`
		CriticalCooldownMin   int      `mapstructure:"critical_cooldown_min"`
		HighCooldownMin       int      `mapstructure:"high_cooldown_min"`
		MediumCooldownMin     int      `mapstructure:"medium_cooldown_min"`
		DailyReportCooldownHr int      `mapstructure:"daily_report_cooldown_hr"`
	} `mapstructure:"notify"`
}

// CriticalCooldown and friends convert the configured minutes to durations.
func (c Config) CriticalCooldown() time.Duration {
	return time.Duration(c.Notify.CriticalCooldownMin) * time.Minute
}

func (c Config) HighCooldown() time.Duration {
	return time.Duration(c.Notify.HighCooldownMin) * time.Minute
}

func (c Config) MediumCooldown() time.Duration {
	return time.Duration(c.Notify.MediumCooldownMin) * time.Minute
}

func (c Config) DailyReportCooldown() time.Duration {
	return time.Duration(c.Notify.DailyReportCooldownHr) * time.Hour
}

// Load reads the YAML config at path, with APP_* environment variables
// taking precedence. A .env file next to the binary is honored for local
// development. Missing config file is not an error when the DSN arrives
// through the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("app.env", "prod")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("notify.critical_cooldown_min", 60)
	v.SetDefault("notify.high_cooldown_min", 240)
	v.SetDefault("notify.medium_cooldown_min", 720)
	v.SetDefault("notify.daily_report_cooldown_hr", 20)

	_ = v.BindEnv("postgres.dsn", "DATABASE_URL", "APP_POSTGRES_DSN")
	_ = v.BindEnv("http.addr", "APP_HTTP_ADDR")
	_ = v.BindEnv("app.env", "APP_ENV")

	var c Config
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to parse config: %w", err)
	}
	if c.Postgres.DSN == "" {
		return c, fmt.Errorf("postgres DSN is not configured (set DATABASE_URL or postgres.dsn)")
	}
	return c, nil
}
