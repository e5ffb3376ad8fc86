package server

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/cardroom/settled/internal/settle"
)

// Config is the complete service configuration.
type Config struct {
	Server   *ServerSettings   `hcl:"server,block"`
	Database *DatabaseSettings `hcl:"database,block"`
	Rake     *RakeSettings     `hcl:"rake,block"`
}

// ServerSettings contains the listener configuration.
type ServerSettings struct {
	Addr     string `hcl:"addr,optional"`
	LogLevel string `hcl:"log_level,optional"`
}

// DatabaseSettings contains the Postgres connection configuration.
type DatabaseSettings struct {
	DSN string `hcl:"dsn,optional"`
}

// RakeSettings is the house rake policy, in whole percent and chip units.
type RakeSettings struct {
	Percent        int64 `hcl:"percent,optional"`
	MinPot         int64 `hcl:"min_pot,optional"`
	MaxPerPot      int64 `hcl:"max_per_pot,optional"`
	JackpotPercent int64 `hcl:"jackpot_percent,optional"`
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() *Config {
	policy := settle.DefaultRakePolicy()
	return &Config{
		Server: &ServerSettings{
			Addr:     "localhost:8090",
			LogLevel: "info",
		},
		Database: &DatabaseSettings{
			DSN: "postgres://localhost/settled?sslmode=disable",
		},
		Rake: &RakeSettings{
			Percent:        policy.RakePercent,
			MinPot:         policy.MinPotForRake,
			MaxPerPot:      policy.MaxRakePerPot,
			JackpotPercent: policy.JackpotPercentOfRake,
		},
	}
}

// LoadConfig loads configuration from an HCL file. A missing file yields the
// defaults; a present file is decoded and then back-filled with defaults for
// anything it leaves out.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Server == nil {
		c.Server = defaults.Server
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaults.Server.LogLevel
	}

	if c.Database == nil {
		c.Database = defaults.Database
	}
	if c.Database.DSN == "" {
		c.Database.DSN = defaults.Database.DSN
	}

	if c.Rake == nil {
		c.Rake = defaults.Rake
	}
}

// RakePolicy converts the rake block into the core policy type.
func (c *Config) RakePolicy() settle.RakePolicy {
	return settle.RakePolicy{
		RakePercent:          c.Rake.Percent,
		MinPotForRake:        c.Rake.MinPot,
		MaxRakePerPot:        c.Rake.MaxPerPot,
		JackpotPercentOfRake: c.Rake.JackpotPercent,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server == nil || c.Server.Addr == "" {
		return fmt.Errorf("server address must be set")
	}
	if c.Database == nil || c.Database.DSN == "" {
		return fmt.Errorf("database dsn must be set")
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}
	if err := c.RakePolicy().Validate(); err != nil {
		return fmt.Errorf("rake block: %w", err)
	}
	return nil
}
