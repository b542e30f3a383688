package cmd

import (
	"fmt"

	"github.com/kubot64/apigw-release/internal/config"
)

// enforceReleasePolicy rejects releases to blocked gateways or stages
// outside the allow list in policy.json.
func enforceReleasePolicy(gateway string, stages []string) error {
	p, err := config.ReadPolicy()
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}

	return p.CheckRelease(gateway, stages)
}
