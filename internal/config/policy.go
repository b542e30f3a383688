package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// PolicyFile restricts where releases may go.
type PolicyFile struct {
	AllowedStages   []string `json:"allowed_stages,omitempty"`
	BlockedGateways []string `json:"blocked_gateways,omitempty"`
}

// PolicyError is returned when a release is denied by policy.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}

func PolicyPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "policy.json"), nil
}

func ReadPolicy() (PolicyFile, error) {
	path, err := PolicyPath()
	if err != nil {
		return PolicyFile{}, err
	}

	b, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return PolicyFile{}, nil
		}

		return PolicyFile{}, fmt.Errorf("read policy: %w", err)
	}

	var p PolicyFile
	if err := json.Unmarshal(b, &p); err != nil {
		return PolicyFile{}, fmt.Errorf("decode policy: %w", err)
	}

	p.normalize()

	return p, nil
}

func WritePolicy(p PolicyFile) error {
	p.normalize()

	dir, err := EnsureDir()
	if err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	path := filepath.Join(dir, "policy.json")
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit policy: %w", err)
	}

	return nil
}

// CheckRelease returns a *PolicyError when gateway is blocked or any stage
// is outside AllowedStages. An empty AllowedStages permits every stage.
func (p PolicyFile) CheckRelease(gateway string, stages []string) error {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	if slices.Contains(p.BlockedGateways, gateway) {
		return &PolicyError{Reason: fmt.Sprintf("gateway %q is blocked by policy", gateway)}
	}

	if len(p.AllowedStages) == 0 {
		return nil
	}

	for _, stage := range stages {
		if !slices.Contains(p.AllowedStages, strings.ToLower(strings.TrimSpace(stage))) {
			return &PolicyError{Reason: fmt.Sprintf("stage %q is not allowed by policy", stage)}
		}
	}

	return nil
}

func (p *PolicyFile) normalize() {
	p.AllowedStages = normalizeUnique(p.AllowedStages)
	p.BlockedGateways = normalizeUnique(p.BlockedGateways)
}

func normalizeUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)

	return out
}
