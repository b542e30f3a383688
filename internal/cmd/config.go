package cmd

import (
	"context"
	"log/slog"

	"github.com/kubot64/apigw-release/internal/config"
	"github.com/kubot64/apigw-release/internal/output"
)

// ConfigCmd groups configuration subcommands.
type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" help:"Print effective settings with secrets redacted."`
	Path ConfigPathCmd `cmd:"" help:"Print config, policy and state file locations."`
}

// ConfigShowCmd prints effective settings.
type ConfigShowCmd struct {
	Gateway string `name:"gateway" short:"g" help:"Gateway name; overrides gateway_name from config."`
}

func (c *ConfigShowCmd) Run(_ context.Context, root *RootFlags, _ *slog.Logger) error {
	s, err := loadSettings(root, c.Gateway)
	if err != nil {
		return output.WriteError(output.ExitCodeError, "config_error", err.Error())
	}

	var missing string
	if err := s.Validate(); err != nil {
		missing = err.Error()
	}

	return output.WriteResult(map[string]any{
		"settings": s.Redacted(),
		"valid":    missing == "",
		"problem":  missing,
	})
}

// ConfigPathCmd prints file locations.
type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(_ context.Context, root *RootFlags, _ *slog.Logger) error {
	dir, err := config.Dir()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "config_error", err.Error())
	}

	cfgPath := root.ConfigFile
	if cfgPath == "" {
		if cfgPath, err = config.ConfigPath(); err != nil {
			return output.WriteError(output.ExitCodeError, "config_error", err.Error())
		}
	}

	policyPath, err := config.PolicyPath()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "config_error", err.Error())
	}

	return output.WriteResult(map[string]any{
		"dir":    dir,
		"config": cfgPath,
		"policy": policyPath,
	})
}
