package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/kubot64/apigw-release/internal/config"
	"github.com/kubot64/apigw-release/internal/logging"
	"github.com/kubot64/apigw-release/internal/output"
)

// RootFlags are flags available to all commands.
type RootFlags struct {
	Verbose    bool   `name:"verbose" short:"v" help:"Enable debug logging on stderr."`
	DryRun     bool   `name:"dry-run" short:"n" help:"Print what would be done without executing."`
	AuditLog   string `name:"audit-log" help:"Append write-action audit logs as JSON lines to this file path."`
	ConfigFile string `name:"config" help:"Config file path (default: <user config dir>/apigw-release/config.yaml)."`
}

// CLI is the top-level command structure.
type CLI struct {
	RootFlags `embed:""`
	Version   versionFlag  `name:"version" help:"Print version and exit."`
	Release   ReleaseCmd   `cmd:"" help:"Create a resource version if needed and release it to stages."`
	Signature SignatureCmd `cmd:"" help:"Inspect and update resource signatures (dirty tracking)."`
	Auth      AuthCmd      `cmd:"" help:"Manage gateway app secrets in the system keyring."`
	Config    ConfigCmd    `cmd:"" help:"Inspect effective configuration."`
}

// versionFlag prints {"version": ...} and exits.
type versionFlag bool

func (versionFlag) BeforeReset(app *kong.Kong, vars kong.Vars) error {
	if err := output.WriteJSON(app.Stdout, map[string]string{"version": vars["version"]}); err != nil {
		return err
	}
	app.Exit(0)

	return nil
}

// exitRequest unwinds kong's Exit so help and version return normally.
type exitRequest struct {
	code int
}

// Execute parses CLI arguments and runs the selected command.
func Execute(ctx context.Context, version string) (err error) {
	cli := &CLI{}

	var helpBuf bytes.Buffer
	k, err := kong.New(cli,
		kong.Name(config.AppName),
		kong.Description("Synchronize and release API gateway resource versions from a definition file."),
		kong.Vars{"version": resolveVersion(version)},
		kong.Writers(&helpBuf, os.Stderr),
		kong.Exit(func(code int) { panic(exitRequest{code: code}) }),
	)
	if err != nil {
		return fmt.Errorf("create parser: %w", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		exit, ok := r.(exitRequest)
		if !ok {
			panic(r)
		}

		err = flushExit(helpBuf.String(), exit.code)
	}()

	kctx, err := k.Parse(os.Args[1:])
	if err != nil {
		return output.WriteError(output.ExitCodeError, "invalid_arguments", err.Error())
	}

	logger := logging.New(os.Stderr, cli.Verbose)

	// Bind context.Context as the interface type (not the concrete type).
	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(&cli.RootFlags)
	kctx.Bind(logger)

	return kctx.Run()
}

// flushExit forwards what kong printed before exiting. Help text is wrapped
// as {"help": ...}; version output is already JSON.
func flushExit(printed string, code int) error {
	trimmed := strings.TrimSpace(printed)

	if strings.HasPrefix(trimmed, "{") {
		_, _ = os.Stdout.WriteString(printed)
	} else if trimmed != "" {
		if err := output.WriteResult(map[string]string{"help": printed}); err != nil {
			return err
		}
	}

	if code != 0 {
		return output.NewError(code, fmt.Errorf("exit %d", code))
	}

	return nil
}

func resolveVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "dev"
	}

	return v
}

// loadSettings reads the config and applies the --gateway override.
func loadSettings(root *RootFlags, gateway string) (config.Settings, error) {
	s, err := config.Load(root.ConfigFile)
	if err != nil {
		return config.Settings{}, err
	}

	if gw := strings.TrimSpace(gateway); gw != "" {
		s.GatewayName = gw
	}

	return s, nil
}

// resolveGateway returns the gateway from the flag or config, without
// requiring the rest of the settings.
func resolveGateway(root *RootFlags, gateway string, logger *slog.Logger) (string, error) {
	s, err := loadSettings(root, gateway)
	if err != nil {
		return "", output.WriteError(output.ExitCodeError, "config_error", err.Error())
	}

	if s.GatewayName == "" {
		return "", output.WriteError(output.ExitCodeError, "config_missing",
			(&config.MissingSettingError{Key: "gateway_name"}).Error())
	}

	logger.Debug("resolved gateway", "gateway", s.GatewayName)

	return s.GatewayName, nil
}
