package config

import (
	"fmt"

	"github.com/cascade-irc/client/internal/validation"
)

// Validate runs per-network validation and populates each ServerProfile's
// Info.ConfigErrors, per spec: a profile with non-empty ConfigErrors cannot
// leave Disconnected/ConfigError. It also catches the incomplete-SASL case
// app_config.py's ServerConfig comment defers to "the StateValidator" — a
// sasl_username with no resolvable password.
func (c *Config) Validate() {
	for _, profile := range c.Networks {
		profile.Info.ConfigErrors = nil

		if err := validation.ValidateServerAddress(profile.Info.Host, profile.Info.Port); err != nil {
			profile.Info.ConfigErrors = append(profile.Info.ConfigErrors, err.Error())
		}
		if profile.Info.Nick == "" {
			profile.Info.ConfigErrors = append(profile.Info.ConfigErrors, "nickname is required")
		}
		for _, channel := range profile.Info.AutoJoin {
			if err := validation.ValidateChannelName(channel); err != nil {
				profile.Info.ConfigErrors = append(profile.Info.ConfigErrors, fmt.Sprintf("channel %q: %v", channel, err))
			}
		}
		if profile.Info.SaslUsername != "" && profile.Info.SaslPassword == "" {
			profile.Info.ConfigErrors = append(profile.Info.ConfigErrors, "sasl_username set without a resolvable sasl_password or nickserv_password")
		}
	}

	if c.Dcc.Enabled {
		if c.Dcc.PortRangeStart <= 0 || c.Dcc.PortRangeEnd < c.Dcc.PortRangeStart || c.Dcc.PortRangeEnd > 65535 {
			c.Warnings = append(c.Warnings, "DCC port_range_start/port_range_end is not a valid ascending range, DCC listeners will fall back to an OS-assigned port")
		}
		if c.Dcc.MaxFileSize <= 0 {
			c.Warnings = append(c.Warnings, "DCC max_file_size is non-positive, all incoming offers will be rejected as oversize")
		}
	}
}

// HasErrors reports whether any configured network currently fails
// validation.
func (c *Config) HasErrors() bool {
	for _, profile := range c.Networks {
		if len(profile.Info.ConfigErrors) > 0 {
			return true
		}
	}
	return false
}
