package cmd

import (
	"context"
	"log/slog"

	"github.com/kubot64/apigw-release/internal/output"
	"github.com/kubot64/apigw-release/internal/signature"
)

// SignatureCmd groups dirty-tracking subcommands.
type SignatureCmd struct {
	Update    SignatureUpdateCmd    `cmd:"" help:"Record the signature of a resources file; marks the gateway dirty when it changed."`
	Show      SignatureShowCmd      `cmd:"" help:"Show the tracked signature state."`
	MarkDirty SignatureMarkDirtyCmd `cmd:"" name:"mark-dirty" help:"Force the next release to create a resource version."`
	MarkClean SignatureMarkCleanCmd `cmd:"" name:"mark-clean" help:"Clear the dirty flag."`
}

// SignatureUpdateCmd hashes a resources file into the signature store.
type SignatureUpdateCmd struct {
	Gateway string `name:"gateway" short:"g" help:"Gateway name; overrides gateway_name from config."`
	File    string `name:"file" short:"f" required:"" help:"Resources file to sign; - reads stdin."`
}

func (c *SignatureUpdateCmd) Run(_ context.Context, root *RootFlags, logger *slog.Logger) error {
	gw, err := resolveGateway(root, c.Gateway, logger)
	if err != nil {
		return err
	}

	content, err := readInput(c.File)
	if err != nil {
		return output.WriteError(output.ExitCodeError, "read_error", err.Error())
	}

	if root.DryRun {
		return output.WriteResult(map[string]any{"dry_run": true, "gateway": gw, "file": c.File})
	}

	m, err := signature.OpenDefault()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
	}

	st, changed, err := m.Update(gw, content)
	if err != nil {
		return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
	}

	if changed {
		logger.Info("resource signature changed", "gateway", gw)
	}

	if err := appendAuditLog(root.AuditLog, auditEntry{Action: "signature.update", Gateway: gw, Target: c.File}); err != nil {
		return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
	}

	return output.WriteResult(map[string]any{"changed": changed, "state": st})
}

// SignatureShowCmd prints one gateway's state, or all with --all.
type SignatureShowCmd struct {
	Gateway string `name:"gateway" short:"g" help:"Gateway name; overrides gateway_name from config."`
	All     bool   `name:"all" help:"Show every tracked gateway."`
}

func (c *SignatureShowCmd) Run(_ context.Context, root *RootFlags, logger *slog.Logger) error {
	m, err := signature.OpenDefault()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
	}

	if c.All {
		states, err := m.List()
		if err != nil {
			return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
		}

		return output.WriteResult(map[string]any{"gateways": states})
	}

	gw, err := resolveGateway(root, c.Gateway, logger)
	if err != nil {
		return err
	}

	st, err := m.Get(gw)
	if err != nil {
		return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
	}

	return output.WriteResult(st)
}

// SignatureMarkDirtyCmd sets the dirty flag.
type SignatureMarkDirtyCmd struct {
	Gateway string `name:"gateway" short:"g" help:"Gateway name; overrides gateway_name from config."`
}

func (c *SignatureMarkDirtyCmd) Run(_ context.Context, root *RootFlags, logger *slog.Logger) error {
	return setDirty(root, c.Gateway, true, logger)
}

// SignatureMarkCleanCmd clears the dirty flag.
type SignatureMarkCleanCmd struct {
	Gateway string `name:"gateway" short:"g" help:"Gateway name; overrides gateway_name from config."`
}

func (c *SignatureMarkCleanCmd) Run(_ context.Context, root *RootFlags, logger *slog.Logger) error {
	return setDirty(root, c.Gateway, false, logger)
}

func setDirty(root *RootFlags, gateway string, dirty bool, logger *slog.Logger) error {
	gw, err := resolveGateway(root, gateway, logger)
	if err != nil {
		return err
	}

	action := "signature.mark_clean"
	if dirty {
		action = "signature.mark_dirty"
	}

	if root.DryRun {
		return output.WriteResult(map[string]any{"dry_run": true, "gateway": gw, "action": action})
	}

	m, err := signature.OpenDefault()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
	}

	if dirty {
		err = m.MarkDirty(gw)
	} else {
		err = m.MarkClean(gw)
	}
	if err != nil {
		return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
	}

	if err := appendAuditLog(root.AuditLog, auditEntry{Action: action, Gateway: gw}); err != nil {
		return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
	}

	st, err := m.Get(gw)
	if err != nil {
		return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
	}

	return output.WriteResult(st)
}
