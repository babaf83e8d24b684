package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr" yaml:"addr"`
		LogLevel string `mapstructure:"log_level" yaml:"log_level"`
		SiteURL  string `mapstructure:"site_url" yaml:"site_url"`
	} `mapstructure:"server" yaml:"server"`

	Postgres struct {
		Host         string `mapstructure:"host" yaml:"host"`
		Port         int    `mapstructure:"port" yaml:"port"`
		User         string `mapstructure:"user" yaml:"user"`
		Password     string `mapstructure:"password" yaml:"password"`
		DBName       string `mapstructure:"db_name" yaml:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
		Migrate      bool   `mapstructure:"migrate" yaml:"migrate"`
	} `mapstructure:"postgres" yaml:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel" yaml:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds" yaml:"reconnect_seconds"`
	} `mapstructure:"listener" yaml:"listener"`

	Redis struct {
		URL               string `mapstructure:"url" yaml:"url"`
		VisitorTTLMinutes int    `mapstructure:"visitor_ttl_minutes" yaml:"visitor_ttl_minutes"`
	} `mapstructure:"redis" yaml:"redis"`

	Media struct {
		Dir     string `mapstructure:"dir" yaml:"dir"`
		BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	} `mapstructure:"media" yaml:"media"`

	Dispatch struct {
		TemplateTimeoutMS int `mapstructure:"template_timeout_ms" yaml:"template_timeout_ms"`
	} `mapstructure:"dispatch" yaml:"dispatch"`
}

// Load reads configs/application.yaml (optional), a local .env (optional)
// and APP_* environment variables, e.g. APP_POSTGRES_HOST.
func Load() (Config, error) {
	_ = godotenv.Load() // optional; a missing .env is fine

	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	validate(&cfg)
	return cfg, nil
}

// bindEnv registers every key so AutomaticEnv applies during Unmarshal even
// when the config file is absent.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"server.addr", "server.log_level", "server.site_url",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
		"postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns", "postgres.migrate",
		"listener.channel", "listener.reconnect_seconds",
		"redis.url", "redis.visitor_ttl_minutes",
		"media.dir", "media.base_url",
		"dispatch.template_timeout_ms",
	} {
		_ = v.BindEnv(k)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Server.SiteURL == "" { c.Server.SiteURL = "http://localhost:8080/" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 2 }
	if c.Listener.Channel == "" { c.Listener.Channel = "injection_items_changed" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Redis.VisitorTTLMinutes <= 0 { c.Redis.VisitorTTLMinutes = 60 * 24 * 30 }
	if c.Media.Dir == "" { c.Media.Dir = "media" }
	if c.Media.BaseURL == "" { c.Media.BaseURL = "/media" }
	if c.Dispatch.TemplateTimeoutMS <= 0 { c.Dispatch.TemplateTimeoutMS = 250 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) VisitorTTL() time.Duration { return time.Duration(c.Redis.VisitorTTLMinutes) * time.Minute }

func (c Config) TemplateTimeout() time.Duration {
	return time.Duration(c.Dispatch.TemplateTimeoutMS) * time.Millisecond
}
