package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string     `yaml:"addr"`
	DatabaseURL string     `yaml:"database_url"`
	BaseURL     string     `yaml:"base_url"`
	LogLevel    string     `yaml:"log_level"`
	Session     Session    `yaml:"session"`
	Mail        MailConfig `yaml:"mail"`
}

type Session struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
	Secure     bool          `yaml:"secure"`
	SameSite   string        `yaml:"same_site"`
}

type MailConfig struct {
	Driver       string `yaml:"driver"`
	From         string `yaml:"from"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     string `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPass     string `yaml:"smtp_pass"`
	ResendAPIKey string `yaml:"resend_api_key"`
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func defaultConfig() Config {
	return Config{
		Addr:        ":8080",
		DatabaseURL: "postgres://postgres:postgres@db:5432/projectflow?sslmode=disable",
		BaseURL:     "http://localhost:8080",
		LogLevel:    "info",
		Session: Session{
			CookieName: "projectflow_sess",
			TTL:        14 * 24 * time.Hour,
			SameSite:   "lax",
		},
		Mail: MailConfig{
			Driver:   "log",
			From:     "Projectflow <noreply@localhost>",
			SMTPPort: "587",
		},
	}
}

// loadConfig layers defaults, the optional YAML file at path, then environment variables.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Addr = getenv("ADDR", cfg.Addr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.BaseURL = strings.TrimRight(getenv("BASE_URL", cfg.BaseURL), "/")
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)

	cfg.Session.CookieName = getenv("SESSION_COOKIE_NAME", cfg.Session.CookieName)
	if v := getenv("SESSION_TTL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("SESSION_TTL: %w", err)
		}
		cfg.Session.TTL = d
	}
	if v := getenv("COOKIE_SECURE", ""); v != "" {
		cfg.Session.Secure = v == "true"
	}
	cfg.Session.SameSite = getenv("COOKIE_SAMESITE", cfg.Session.SameSite)

	cfg.Mail.Driver = getenv("MAIL_DRIVER", cfg.Mail.Driver)
	cfg.Mail.From = getenv("MAIL_FROM", cfg.Mail.From)
	cfg.Mail.SMTPHost = getenv("SMTP_HOST", cfg.Mail.SMTPHost)
	cfg.Mail.SMTPPort = getenv("SMTP_PORT", cfg.Mail.SMTPPort)
	cfg.Mail.SMTPUser = getenv("SMTP_USER", cfg.Mail.SMTPUser)
	cfg.Mail.SMTPPass = getenv("SMTP_PASS", cfg.Mail.SMTPPass)
	cfg.Mail.ResendAPIKey = getenv("RESEND_API_KEY", cfg.Mail.ResendAPIKey)
	return cfg, nil
}

func (c Config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
