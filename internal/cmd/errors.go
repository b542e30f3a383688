package cmd

import (
	"context"
	"errors"

	"github.com/kubot64/apigw-release/internal/config"
	"github.com/kubot64/apigw-release/internal/gateway"
	"github.com/kubot64/apigw-release/internal/output"
)

// writeReleaseError maps a failure to an exit code and JSON error payload.
// fallback is the code string used for unclassified errors.
func writeReleaseError(fallback string, err error) error {
	var (
		authErr   *gateway.AuthError
		notFound  *gateway.NotFoundError
		apiErr    *gateway.APIError
		policyErr *config.PolicyError
		missing   *config.MissingSettingError
	)

	switch {
	case errors.Is(err, gateway.ErrMissingCredentials):
		return output.WriteError(output.ExitCodeAuth, "credentials_missing", err.Error())
	case errors.As(err, &authErr):
		return output.WriteError(output.ExitCodeAuth, "auth_error", err.Error())
	case errors.As(err, &notFound):
		return output.WriteError(output.ExitCodeNotFound, "not_found", err.Error())
	case errors.As(err, &apiErr):
		return output.WriteError(output.ExitCodeError, "gateway_error", err.Error())
	case errors.As(err, &policyErr):
		return output.WriteError(output.ExitCodePolicy, "policy_denied", err.Error())
	case errors.As(err, &missing):
		return output.WriteError(output.ExitCodeError, "config_missing", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return output.WriteError(output.ExitCodeError, "timeout", err.Error())
	default:
		return output.WriteError(output.ExitCodeError, fallback, err.Error())
	}
}
