// Package config loads the dashboard configuration.
//
// Sources, highest priority first:
//  1. explicit path (--config);
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. environment only.
//
// Environment variables always overlay values read from a file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP    HTTPConfig    `yaml:"http"`
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Catalog CatalogConfig `yaml:"catalog"`
	UI      UIConfig      `yaml:"ui"`
	Dev     DevConfig     `yaml:"dev"`
}

type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// BackendConfig points at the remote account and catalog API.
type BackendConfig struct {
	BaseURL   string        `yaml:"base_url"   env:"BACKEND_BASE_URL"   env-default:"http://localhost:5000"`
	Timeout   time.Duration `yaml:"timeout"    env:"BACKEND_TIMEOUT"    env-default:"15s"`
	UserAgent string        `yaml:"user_agent" env:"BACKEND_USER_AGENT" env-default:"sugary"`
}

type SessionConfig struct {
	Backend       string        `yaml:"backend"        env:"SESSION_BACKEND"        env-default:"memory"`
	CookieName    string        `yaml:"cookie_name"    env:"SESSION_COOKIE_NAME"    env-default:"sid"`
	Secure        bool          `yaml:"secure"         env:"SESSION_SECURE"`
	Lifetime      time.Duration `yaml:"lifetime"       env:"SESSION_LIFETIME"       env-default:"168h"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SESSION_SWEEP_INTERVAL" env-default:"10m"`
	Redis         RedisConfig   `yaml:"redis"`
	SQLitePath    string        `yaml:"sqlite_path"    env:"SESSION_SQLITE_PATH"    env-default:"sessions.db"`
	MySQLDSN      string        `yaml:"mysql_dsn"      env:"SESSION_MYSQL_DSN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"     env:"SESSION_REDIS_ADDR"     env-default:"localhost:6379"`
	Password string `yaml:"password" env:"SESSION_REDIS_PASSWORD"`
	DB       int    `yaml:"db"       env:"SESSION_REDIS_DB"       env-default:"0"`
}

type CatalogConfig struct {
	PageSize int `yaml:"page_size" env:"CATALOG_PAGE_SIZE" env-default:"12"`
}

// UIConfig holds presentation settings rendered into the pages.
type UIConfig struct {
	CDNBaseURL           string        `yaml:"cdn_base_url"           env:"UI_CDN_BASE_URL"`
	LoginRedirectDelay   time.Duration `yaml:"login_redirect_delay"   env:"UI_LOGIN_REDIRECT_DELAY"   env-default:"500ms"`
	ExpiredRedirectDelay time.Duration `yaml:"expired_redirect_delay" env:"UI_EXPIRED_REDIRECT_DELAY" env-default:"1500ms"`
	ViewIdleTimeout      time.Duration `yaml:"view_idle_timeout"      env:"UI_VIEW_IDLE_TIMEOUT"      env-default:"30m"`
}

type DevConfig struct {
	LiveReload   bool   `yaml:"live_reload"   env:"DEV_LIVE_RELOAD"`
	TemplatesDir string `yaml:"templates_dir" env:"DEV_TEMPLATES_DIR"`
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Session.Backend {
	case BackendMemory, BackendRedis, BackendSQLite:
	case BackendMySQL:
		if c.Session.MySQLDSN == "" {
			errs = append(errs, errors.New("session.mysql_dsn is required for the mysql backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}

	if c.Catalog.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("catalog.page_size must be positive, got %d", c.Catalog.PageSize))
	}

	if c.Session.Lifetime <= 0 {
		errs = append(errs, errors.New("session.lifetime must be positive"))
	}

	if c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("session.sweep_interval must be positive"))
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}

	if c.Dev.LiveReload && c.Dev.TemplatesDir == "" {
		errs = append(errs, errors.New("dev.templates_dir is required with dev.live_reload"))
	}

	return errors.Join(errs...)
}

// MustLoad panics when the configuration cannot be loaded.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	fromFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	if path != "" {
		return fromFile(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return fromFile(envPath)
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return fromFile("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
