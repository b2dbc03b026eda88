// Package config loads runtime configuration from command line flags
// and BOURSE_-prefixed environment variables, flags taking precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the bourse server.
type Config struct {
	Port        int
	AdminAddr   string
	LogLevel    string
	MaxClients  int
	MaxTraders  int
	MaxAccounts int
}

// Load parses args (without the program name), merges in the
// environment, applies defaults, and validates values. The listen port
// has no default: it must be given with -p/--port or BOURSE_PORT. An
// empty --admin-addr disables the admin HTTP server.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("bourse", pflag.ContinueOnError)
	fs.IntP("port", "p", 0, "TCP port to listen on for traders (required)")
	fs.String("admin-addr", ":9633", "address of the admin HTTP server, empty disables it")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.Int("max-clients", 1024, "maximum simultaneous client connections")
	fs.Int("max-traders", 1024, "maximum simultaneously logged-in traders")
	fs.Int("max-accounts", 1024, "maximum accounts in the ledger")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("BOURSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        v.GetInt("port"),
		AdminAddr:   v.GetString("admin-addr"),
		LogLevel:    v.GetString("log-level"),
		MaxClients:  v.GetInt("max-clients"),
		MaxTraders:  v.GetInt("max-traders"),
		MaxAccounts: v.GetInt("max-accounts"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range, pass -p/--port or set BOURSE_PORT", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("max-clients must be positive, got %d", c.MaxClients)
	}
	if c.MaxTraders <= 0 {
		return fmt.Errorf("max-traders must be positive, got %d", c.MaxTraders)
	}
	if c.MaxAccounts <= 0 {
		return fmt.Errorf("max-accounts must be positive, got %d", c.MaxAccounts)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
