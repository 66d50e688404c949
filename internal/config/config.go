// Package config provides YAML-based configuration loading for Shopfloor.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Shopfloor configuration, loaded from shopfloor.yaml.
type Config struct {
	Shop   string       `yaml:"shop"`
	DB     DBConfig     `yaml:"db"`
	Server ServerConfig `yaml:"server"`
	Cells  []CellConfig `yaml:"cells"`
	Notify NotifyConfig `yaml:"notify"`
}

// DBConfig holds connection settings for the backing database. Driver is
// "mysql" for a shared SQL server or "sqlite" for a local file.
type DBConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite only
}

// ServerConfig holds settings for the API server started by `sf serve`.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	DigestCron string `yaml:"digest_cron"` // 5-field cron for the WIP digest
}

// CellConfig defines a production cell and its WIP capacity.
type CellConfig struct {
	Name                string  `yaml:"name"`
	Description         string  `yaml:"description"`
	WipLimit            int     `yaml:"wip_limit"`
	WipWarningThreshold float64 `yaml:"wip_warning_threshold"`
	EnforceLimit        bool    `yaml:"enforce_limit"`
}

// NotifyConfig holds settings for outbound event sinks. Empty sections
// disable the corresponding sink.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Slack      SlackConfig   `yaml:"slack"`
	Discord    DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack sink credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig holds Discord sink credentials.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "mysql"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" && c.Shop != "" {
		c.DB.Database = "shopfloor_" + c.Shop
	}
	if c.DB.Path == "" {
		c.DB.Path = "shopfloor.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.DigestCron == "" {
		c.Server.DigestCron = "*/15 * * * *"
	}
	for i := range c.Cells {
		if c.Cells[i].WipLimit == 0 {
			c.Cells[i].WipLimit = 10
		}
		if c.Cells[i].WipWarningThreshold == 0 {
			c.Cells[i].WipWarningThreshold = 0.8
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Shop == "" {
		errs = append(errs, "shop is required")
	}
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not one of mysql, sqlite", c.DB.Driver))
	}
	if len(c.Cells) == 0 {
		errs = append(errs, "at least one cell is required")
	}
	seen := make(map[string]bool, len(c.Cells))
	for i, cell := range c.Cells {
		if cell.Name == "" {
			errs = append(errs, fmt.Sprintf("cells[%d].name is required", i))
			continue
		}
		if seen[cell.Name] {
			errs = append(errs, fmt.Sprintf("cells[%d].name %q is duplicated", i, cell.Name))
		}
		seen[cell.Name] = true
		if cell.WipLimit < 1 {
			errs = append(errs, fmt.Sprintf("cells[%d].wip_limit must be at least 1", i))
		}
		if cell.WipWarningThreshold <= 0 || cell.WipWarningThreshold > 1 {
			errs = append(errs, fmt.Sprintf("cells[%d].wip_warning_threshold must be in (0, 1]", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
