package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kubot64/apigw-release/internal/config"
	"github.com/kubot64/apigw-release/internal/output"
	"github.com/kubot64/apigw-release/internal/secrets"
)

// AuthCmd groups app secret subcommands.
type AuthCmd struct {
	SetSecret AuthSetSecretCmd `cmd:"" name:"set-secret" help:"Store the app secret read from stdin in the keyring."`
	Remove    AuthRemoveCmd    `cmd:"" help:"Remove a stored app secret."`
	List      AuthListCmd      `cmd:"" help:"List app codes with stored secrets."`
	Preflight AuthPreflightCmd `cmd:"" help:"Check config, credentials, policy and gateway reachability."`

	EmergencyRevoke AuthEmergencyRevokeCmd `cmd:"" name:"emergency-revoke" help:"Delete an app secret and block a gateway in policy.json."`
}

// AuthSetSecretCmd stores an app secret. The secret is read from stdin so
// it never appears in shell history.
type AuthSetSecretCmd struct {
	AppCode string `name:"app-code" help:"App code; defaults to app_code from config."`
}

func (c *AuthSetSecretCmd) Run(_ context.Context, root *RootFlags, logger *slog.Logger) error {
	appCode, err := resolveAppCode(root, c.AppCode)
	if err != nil {
		return err
	}

	secret, err := readStdinWithLimit(4096)
	if err != nil {
		return output.WriteError(output.ExitCodeError, "read_error", err.Error())
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return output.WriteError(output.ExitCodeError, "invalid_secret", "empty secret on stdin")
	}

	if root.DryRun {
		return output.WriteResult(map[string]any{"dry_run": true, "app_code": appCode})
	}

	store, err := openSecretStore()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "keyring_error", err.Error())
	}

	if err := store.SetSecret(secrets.AppSecret{AppCode: appCode, Secret: secret}); err != nil {
		return output.WriteError(output.ExitCodeError, "store_secret_error", err.Error())
	}

	logger.Debug("stored app secret", "app_code", appCode)

	if err := appendAuditLog(root.AuditLog, auditEntry{Action: "auth.set_secret", Target: appCode}); err != nil {
		return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
	}

	return output.WriteResult(map[string]any{"stored": true, "app_code": appCode})
}

// AuthRemoveCmd deletes a stored app secret.
type AuthRemoveCmd struct {
	AppCode string `name:"app-code" help:"App code; defaults to app_code from config."`
}

func (c *AuthRemoveCmd) Run(_ context.Context, root *RootFlags, _ *slog.Logger) error {
	appCode, err := resolveAppCode(root, c.AppCode)
	if err != nil {
		return err
	}

	if root.DryRun {
		return output.WriteResult(map[string]any{"dry_run": true, "app_code": appCode})
	}

	store, err := openSecretStore()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "keyring_error", err.Error())
	}

	if err := store.DeleteSecret(appCode); err != nil {
		return output.WriteError(output.ExitCodeError, "delete_secret_error", err.Error())
	}

	if err := appendAuditLog(root.AuditLog, auditEntry{Action: "auth.remove", Target: appCode}); err != nil {
		return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
	}

	return output.WriteResult(map[string]any{"removed": true, "app_code": appCode})
}

// AuthListCmd lists app codes with stored secrets.
type AuthListCmd struct{}

func (c *AuthListCmd) Run(_ context.Context, _ *RootFlags, _ *slog.Logger) error {
	store, err := openSecretStore()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "keyring_error", err.Error())
	}

	apps, err := store.List()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "list_error", err.Error())
	}

	return output.WriteResult(map[string]any{"apps": apps})
}

// AuthPreflightCmd reports whether a release could run. It never fails on
// a failed check; ready=false carries the outcome.
type AuthPreflightCmd struct {
	Gateway string   `name:"gateway" short:"g" help:"Gateway name; overrides gateway_name from config."`
	Stage   []string `name:"stage" short:"s" help:"Stages to check against policy.json; repeatable."`
}

type checkResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func (c *AuthPreflightCmd) Run(ctx context.Context, root *RootFlags, logger *slog.Logger) error {
	checks := make([]checkResult, 0, 4)
	ready := true
	check := func(name string, err error) bool {
		if err != nil {
			ready = false
			checks = append(checks, checkResult{Name: name, OK: false, Message: err.Error()})

			return false
		}
		checks = append(checks, checkResult{Name: name, OK: true})

		return true
	}

	settings, err := loadSettings(root, c.Gateway)
	if err == nil {
		err = settings.Validate()
	}
	if !check("config", err) {
		return writePreflight(ready, settings.GatewayName, checks, "")
	}

	if stages := normalizeStages(c.Stage); len(stages) > 0 {
		check("policy", enforceReleasePolicy(settings.GatewayName, stages))
	}

	client, err := newGatewayClient(ctx, settings, logger, "", "")
	if !check("credentials", err) {
		return writePreflight(ready, settings.GatewayName, checks, "")
	}

	latest := ""
	rv, err := client.LatestResourceVersion(ctx)
	if check("gateway", err) && rv != nil {
		latest = rv.Name
	}

	return writePreflight(ready, settings.GatewayName, checks, latest)
}

func writePreflight(ready bool, gateway string, checks []checkResult, latest string) error {
	return output.WriteResult(map[string]any{
		"ready":          ready,
		"gateway":        gateway,
		"checks":         checks,
		"latest_version": latest,
	})
}

// AuthEmergencyRevokeCmd removes a leaked app secret and stops further
// releases to a gateway until policy.json is edited.
type AuthEmergencyRevokeCmd struct {
	AppCode string `name:"app-code" help:"App code whose keyring secret is deleted."`
	Gateway string `name:"gateway" short:"g" help:"Gateway to add to blocked_gateways."`
}

func (c *AuthEmergencyRevokeCmd) Run(_ context.Context, root *RootFlags, logger *slog.Logger) error {
	appCode := strings.TrimSpace(c.AppCode)
	gw := strings.ToLower(strings.TrimSpace(c.Gateway))
	if appCode == "" && gw == "" {
		return output.WriteError(output.ExitCodeError, "invalid_arguments", "pass --app-code, --gateway or both")
	}

	if root.DryRun {
		if err := appendAuditLog(root.AuditLog, auditEntry{
			Action:  "auth.emergency_revoke",
			Gateway: gw,
			Target:  appCode,
			DryRun:  true,
		}); err != nil {
			return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
		}

		return output.WriteResult(map[string]any{"dry_run": true, "app_code": appCode, "gateway": gw})
	}

	if appCode != "" {
		store, err := openSecretStore()
		if err != nil {
			return output.WriteError(output.ExitCodeError, "keyring_error", err.Error())
		}
		if err := store.DeleteSecret(appCode); err != nil {
			return output.WriteError(output.ExitCodeError, "delete_secret_error", err.Error())
		}
	}

	if gw != "" {
		p, err := config.ReadPolicy()
		if err != nil {
			return output.WriteError(output.ExitCodeError, "policy_error", err.Error())
		}
		p.BlockedGateways = append(p.BlockedGateways, gw)
		if err := config.WritePolicy(p); err != nil {
			return output.WriteError(output.ExitCodeError, "policy_error", err.Error())
		}
	}

	logger.Warn("emergency revoke", "app_code", appCode, "gateway", gw)

	if err := appendAuditLog(root.AuditLog, auditEntry{
		Action:  "auth.emergency_revoke",
		Gateway: gw,
		Target:  appCode,
	}); err != nil {
		return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
	}

	return output.WriteResult(map[string]any{
		"revoked":  appCode != "",
		"app_code": appCode,
		"blocked":  gw != "",
		"gateway":  gw,
	})
}

func resolveAppCode(root *RootFlags, flag string) (string, error) {
	if appCode := strings.TrimSpace(flag); appCode != "" {
		return appCode, nil
	}

	s, err := loadSettings(root, "")
	if err != nil {
		return "", output.WriteError(output.ExitCodeError, "config_error", err.Error())
	}

	if s.AppCode == "" {
		return "", output.WriteError(output.ExitCodeError, "config_missing", "app code is required: pass --app-code or set app_code")
	}

	return s.AppCode, nil
}
