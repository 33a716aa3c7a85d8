// Package entry persists the configured routers ("config entries") and turns
// their stored data into a connection Config.
package entry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	ConfHost         = "host"
	ConfUsername     = "username"
	ConfPassword     = "password"
	ConfSSL          = "ssl"
	ConfVerifySSL    = "verify_ssl"
	ConfScanInterval = "scan_interval"
	ConfRuleIDs      = "rule_ids"

	DefaultSSL          = false
	DefaultVerifySSL    = true
	DefaultScanInterval = 10 // seconds
	MinScanInterval     = 1
)

var ErrInvalidConfig = errors.New("invalid entry configuration")

// Config is the merged configuration of one entry.
type Config struct {
	Host         string `json:"host" yaml:"host" mapstructure:"host"`
	Username     string `json:"username" yaml:"username" mapstructure:"username"`
	Password     string `json:"password" yaml:"-" mapstructure:"password"`
	SSL          bool   `json:"ssl" yaml:"ssl" mapstructure:"ssl"`
	VerifySSL    bool   `json:"verify_ssl" yaml:"verify_ssl" mapstructure:"verify_ssl"`
	ScanInterval int    `json:"scan_interval" yaml:"scan_interval" mapstructure:"scan_interval"`
	RuleIDs      string `json:"rule_ids,omitempty" yaml:"rule_ids,omitempty" mapstructure:"rule_ids"`
}

func DefaultConfig() Config {
	return Config{
		SSL:          DefaultSSL,
		VerifySSL:    DefaultVerifySSL,
		ScanInterval: DefaultScanInterval,
	}
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

// Rules returns the firewall rule ids to expose; nil means all of them.
func (c Config) Rules() []string {
	if strings.TrimSpace(c.RuleIDs) == "" {
		return nil
	}
	out := make([]string, 0)
	for _, id := range strings.Split(c.RuleIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidConfig)
	}
	if c.ScanInterval < MinScanInterval {
		return fmt.Errorf("%w: scan interval must be at least %d second", ErrInvalidConfig, MinScanInterval)
	}
	return nil
}

// Map returns the data map stored for c.
func (c Config) Map() map[string]any {
	m := map[string]any{
		ConfHost:         c.Host,
		ConfUsername:     c.Username,
		ConfPassword:     c.Password,
		ConfSSL:          c.SSL,
		ConfVerifySSL:    c.VerifySSL,
		ConfScanInterval: c.ScanInterval,
	}
	if c.RuleIDs != "" {
		m[ConfRuleIDs] = c.RuleIDs
	}
	return m
}

// Decode builds a Config from a stored map, applying defaults for missing keys.
func Decode(m map[string]any) (Config, error) {
	c := DefaultConfig()
	var err error

	c.Host = cast.ToString(m[ConfHost])
	c.Username = cast.ToString(m[ConfUsername])
	c.Password = cast.ToString(m[ConfPassword])
	c.RuleIDs = cast.ToString(m[ConfRuleIDs])

	if v, ok := m[ConfSSL]; ok {
		if c.SSL, err = cast.ToBoolE(v); err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, ConfSSL, err)
		}
	}
	if v, ok := m[ConfVerifySSL]; ok {
		if c.VerifySSL, err = cast.ToBoolE(v); err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, ConfVerifySSL, err)
		}
	}
	if v, ok := m[ConfScanInterval]; ok {
		if c.ScanInterval, err = cast.ToIntE(v); err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, ConfScanInterval, err)
		}
	}
	return c, c.Validate()
}
