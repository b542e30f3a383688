package cmd

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kubot64/apigw-release/internal/config"
	"github.com/kubot64/apigw-release/internal/definition"
	"github.com/kubot64/apigw-release/internal/gateway"
	"github.com/kubot64/apigw-release/internal/output"
	"github.com/kubot64/apigw-release/internal/release"
	"github.com/kubot64/apigw-release/internal/secrets"
	"github.com/kubot64/apigw-release/internal/signature"
)

var nowLocal = time.Now

// ReleaseCmd creates a resource version when needed and releases it.
type ReleaseCmd struct {
	Stage     []string `name:"stage" short:"s" required:"" help:"Stage to release to; repeat or comma-separate for several."`
	File      string   `name:"file" short:"f" help:"Definition file; - reads stdin."`
	Define    []string `name:"define" short:"D" sep:"none" help:"Template value as key=value, available as .Data.key; repeatable."`
	Namespace string   `name:"namespace" default:"release" help:"Definition section holding version and title."`
	Gateway   string   `name:"gateway" short:"g" help:"Gateway name; overrides gateway_name from config."`
	Title     string   `name:"title" help:"Title for a newly created resource version (default: the version)."`
	Comment   string   `name:"comment" help:"Comment for the resource version and release (default: definition comment)."`
}

func (c *ReleaseCmd) Run(ctx context.Context, root *RootFlags, logger *slog.Logger) error {
	stages := normalizeStages(c.Stage)
	if len(stages) == 0 {
		return output.WriteError(output.ExitCodeError, "invalid_arguments", "at least one --stage is required")
	}

	settings, err := loadSettings(root, c.Gateway)
	if err != nil {
		return output.WriteError(output.ExitCodeError, "config_error", err.Error())
	}
	if err := settings.Validate(); err != nil {
		return writeReleaseError("config_error", err)
	}

	if err := enforceReleasePolicy(settings.GatewayName, stages); err != nil {
		return writeReleaseError("policy_error", err)
	}

	data, err := definition.ParseDefines(c.Define)
	if err != nil {
		return output.WriteError(output.ExitCodeError, "invalid_define", err.Error())
	}

	def, err := definition.Load(c.File, definition.Options{
		Namespace: c.Namespace,
		Data:      data,
		Environ:   definition.Environ(),
		Stdin:     stdinReader,
	})
	if err != nil {
		return output.WriteError(output.ExitCodeError, "definition_error", err.Error())
	}

	comment := c.Comment
	if comment == "" {
		comment = def.Comment
	}

	client, err := newGatewayClient(ctx, settings, logger, c.Title, comment)
	if err != nil {
		return writeReleaseError("gateway_config_error", err)
	}

	signatures, err := signature.OpenDefault()
	if err != nil {
		return output.WriteError(output.ExitCodeError, "signature_error", err.Error())
	}

	handler := &release.Handler{
		Fetcher:  client,
		Releaser: client,
		Tracker:  signatures.Tracker(settings.GatewayName),
		Now:      nowLocal,
		Logger:   logger,
	}

	plan, err := handler.Plan(ctx, def, stages)
	if err != nil {
		return writeReleaseError("plan_error", err)
	}

	if root.DryRun {
		if err := appendAuditLog(root.AuditLog, auditEntry{
			Action:  "release",
			Gateway: settings.GatewayName,
			Target:  planTarget(plan),
			Stages:  stages,
			DryRun:  true,
		}); err != nil {
			return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
		}

		return output.WriteResult(map[string]any{
			"dry_run": true,
			"gateway": settings.GatewayName,
			"plan":    plan,
		})
	}

	res, err := handler.Apply(ctx, plan)
	if err != nil {
		return writeReleaseError("release_error", err)
	}

	if res.Created != nil {
		if err := appendAuditLog(root.AuditLog, auditEntry{
			Action:  "resource_version.create",
			Gateway: settings.GatewayName,
			Target:  res.Created.Name,
		}); err != nil {
			return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
		}
	}

	if err := appendAuditLog(root.AuditLog, auditEntry{
		Action:  "release",
		Gateway: settings.GatewayName,
		Target:  res.Release.ResourceVersionName,
		Stages:  res.Release.StageNames,
	}); err != nil {
		return output.WriteError(output.ExitCodeError, "audit_error", err.Error())
	}

	return output.WriteResult(map[string]any{
		"gateway": settings.GatewayName,
		"plan":    res.Plan,
		"created": res.Created,
		"release": res.Release,
	})
}

// newGatewayClient builds the gateway client, taking the app secret from
// the keyring when the config does not carry one.
func newGatewayClient(ctx context.Context, s config.Settings, logger *slog.Logger, title, comment string) (*gateway.Client, error) {
	opts := gateway.Options{
		BaseURL: s.APIURL,
		Gateway: s.GatewayName,
		Credentials: gateway.Credentials{
			AppCode:   s.AppCode,
			AppSecret: s.AppSecret,
			Username:  s.Username,
		},
		Timeout: s.Timeout,
		Title:   title,
		Comment: comment,
		Logger:  logger,
	}

	if s.OAuth2.TokenURL != "" {
		opts.OAuth2 = &gateway.OAuth2Config{
			TokenURL:     s.OAuth2.TokenURL,
			ClientID:     s.OAuth2.ClientID,
			ClientSecret: s.OAuth2.ClientSecret,
			Scopes:       s.OAuth2.Scopes,
		}
	} else if s.AppSecret == "" && s.AppCode != "" {
		secret, err := lookupAppSecret(s.AppCode)
		if err != nil {
			return nil, err
		}
		opts.Credentials.AppSecret = secret
		logger.Debug("using app secret from keyring", "app_code", s.AppCode)
	}

	return gateway.New(ctx, opts)
}

var openSecretStore = secrets.OpenDefault

func lookupAppSecret(appCode string) (string, error) {
	store, err := openSecretStore()
	if err != nil {
		return "", err
	}

	sec, err := store.GetSecret(appCode)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return "", nil
		}

		return "", err
	}

	return sec.Secret, nil
}

func normalizeStages(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}

	return out
}

func planTarget(p release.Plan) string {
	if p.Creates() {
		return "create:" + p.CreateVersion
	}

	return p.ResourceVersionName
}
