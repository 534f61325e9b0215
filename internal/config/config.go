// Package config loads and validates the gateway configuration from an
// optional YAML file with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relaystack/sms-mcp/internal/twilio"
)

type Config struct {
	// Twilio credentials. Required.
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`

	// FromNumber is the default outbound sender (E.164). Required.
	FromNumber string `yaml:"from_number"`

	// DatabasePath is the SQLite file location.
	DatabasePath string `yaml:"database_path"`

	// HTTPAddr is the webhook server listen address.
	HTTPAddr string `yaml:"http_addr"`

	// PublicBaseURL is the externally visible base URL of the webhook server.
	// Signature validation reconstructs the full request URL against it when
	// the server sits behind a proxy. Optional; when empty the request's own
	// host/scheme is used.
	PublicBaseURL string `yaml:"public_base_url"`

	// AutoCreateConversations controls whether a missing conversation is
	// created on demand when a message arrives for an unknown participant pair.
	AutoCreateConversations *bool `yaml:"auto_create_conversations"`

	// MMSEnabled gates outbound media sends. Disabled by default.
	MMSEnabled bool `yaml:"mms_enabled"`

	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`
}

func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join("data", "gateway.sqlite")
	}
	return filepath.Join(home, ".sms-mcp", "gateway.sqlite")
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), then applies environment overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	path = strings.TrimSpace(path)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("TWILIO_PHONE_NUMBER"); v != "" {
		cfg.FromNumber = v
	}
	if v := os.Getenv("SMS_MCP_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("SMS_MCP_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("SMS_MCP_PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = v
	}
	if v := os.Getenv("SMS_MCP_AUTO_CREATE_CONVERSATIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoCreateConversations = &b
		}
	}
	if v := os.Getenv("SMS_MCP_MMS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MMSEnabled = b
		}
	}
	if v := os.Getenv("SMS_MCP_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SMS_MCP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		cfg.DatabasePath = DefaultDatabasePath()
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = ":8090"
	}
	if cfg.AutoCreateConversations == nil {
		b := true
		cfg.AutoCreateConversations = &b
	}
	if strings.TrimSpace(cfg.LogFormat) == "" {
		cfg.LogFormat = "text"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.AccountSID) == "" {
		return errors.New("missing account_sid (TWILIO_ACCOUNT_SID)")
	}
	if !strings.HasPrefix(strings.TrimSpace(c.AccountSID), "AC") {
		return fmt.Errorf("invalid account_sid %q (must start with AC)", c.AccountSID)
	}
	if strings.TrimSpace(c.AuthToken) == "" {
		return errors.New("missing auth_token (TWILIO_AUTH_TOKEN)")
	}
	if strings.TrimSpace(c.FromNumber) == "" {
		return errors.New("missing from_number (TWILIO_PHONE_NUMBER)")
	}
	if !twilio.ValidPhoneNumber(c.FromNumber) {
		return fmt.Errorf("invalid from_number %q (must be E.164)", c.FromNumber)
	}

	if base := strings.TrimSpace(c.PublicBaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("invalid public_base_url: %w", err)
		}
		scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("invalid public_base_url scheme %q", u.Scheme)
		}
		if strings.TrimSpace(u.Host) == "" {
			return errors.New("invalid public_base_url host")
		}
	}

	switch strings.TrimSpace(strings.ToLower(c.LogFormat)) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.TrimSpace(strings.ToLower(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// AutoCreate resolves the pointer flag with its default.
func (c *Config) AutoCreate() bool {
	if c == nil || c.AutoCreateConversations == nil {
		return true
	}
	return *c.AutoCreateConversations
}
