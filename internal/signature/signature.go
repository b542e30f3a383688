// Package signature tracks whether a gateway's resources changed since the
// last released resource version. State is kept per gateway in a JSON file.
package signature

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kubot64/apigw-release/internal/config"
)

const fileName = "signatures.json"

var errMissingGateway = errors.New("missing gateway name")

// State is the tracked signature of one gateway.
type State struct {
	Gateway   string `json:"gateway"`
	Signature string `json:"signature,omitempty"`
	Dirty     bool   `json:"dirty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type fileState struct {
	Gateways map[string]State `json:"gateways"`
}

// Manager reads and writes the signature file.
type Manager struct {
	path string
	now  func() time.Time
}

// NewManager returns a Manager backed by path.
func NewManager(path string) *Manager {
	return &Manager{path: path, now: func() time.Time { return time.Now().UTC() }}
}

// OpenDefault returns a Manager backed by the config directory. The
// directory is created on the first write, not here.
func OpenDefault() (*Manager, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	return NewManager(filepath.Join(dir, fileName)), nil
}

// Path returns the backing file.
func (m *Manager) Path() string {
	return m.path
}

// Get returns the state for gateway. Unknown gateways are clean.
func (m *Manager) Get(gateway string) (State, error) {
	key, err := gatewayKey(gateway)
	if err != nil {
		return State{}, err
	}

	st, err := m.load()
	if err != nil {
		return State{}, err
	}

	s, ok := st.Gateways[key]
	if !ok {
		return State{Gateway: key}, nil
	}

	return s, nil
}

// List returns every tracked gateway sorted by name.
func (m *Manager) List() ([]State, error) {
	st, err := m.load()
	if err != nil {
		return nil, err
	}

	out := make([]State, 0, len(st.Gateways))
	for _, s := range st.Gateways {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gateway < out[j].Gateway })

	return out, nil
}

// IsDirty reports whether gateway has unreleased changes.
func (m *Manager) IsDirty(gateway string) (bool, error) {
	s, err := m.Get(gateway)
	if err != nil {
		return false, err
	}

	return s.Dirty, nil
}

// MarkDirty flags gateway as changed.
func (m *Manager) MarkDirty(gateway string) error {
	return m.mutate(gateway, func(s *State) bool {
		s.Dirty = true
		return true
	})
}

// MarkClean clears the dirty flag, keeping the signature.
func (m *Manager) MarkClean(gateway string) error {
	return m.mutate(gateway, func(s *State) bool {
		s.Dirty = false
		return true
	})
}

// Update records the signature of content. The gateway becomes dirty when
// the signature differs from the stored one; changed reports that.
func (m *Manager) Update(gateway string, content []byte) (State, bool, error) {
	sum := sha256.Sum256(content)
	sig := hex.EncodeToString(sum[:])

	var (
		changed bool
		out     State
	)
	err := m.mutate(gateway, func(s *State) bool {
		if s.Signature == sig {
			out = *s
			return false
		}

		changed = true
		s.Signature = sig
		s.Dirty = true
		out = *s

		return true
	})
	if err != nil {
		return State{}, false, err
	}

	return out, changed, nil
}

// Tracker binds the manager to one gateway.
func (m *Manager) Tracker(gateway string) *Tracker {
	return &Tracker{m: m, gateway: gateway}
}

func (m *Manager) mutate(gateway string, fn func(*State) bool) error {
	key, err := gatewayKey(gateway)
	if err != nil {
		return err
	}

	st, err := m.load()
	if err != nil {
		return err
	}

	s, ok := st.Gateways[key]
	if !ok {
		s = State{Gateway: key}
	}

	if !fn(&s) {
		return nil
	}

	s.UpdatedAt = m.now().Format(time.RFC3339)
	st.Gateways[key] = s

	return m.save(st)
}

func (m *Manager) load() (fileState, error) {
	b, err := os.ReadFile(m.path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return fileState{Gateways: map[string]State{}}, nil
		}

		return fileState{}, fmt.Errorf("read signatures: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return fileState{}, fmt.Errorf("decode signatures %s: %w", m.path, err)
	}
	if st.Gateways == nil {
		st.Gateways = map[string]State{}
	}

	return st, nil
}

func (m *Manager) save(st fileState) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("ensure signatures dir: %w", err)
	}

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode signatures: %w", err)
	}
	b = append(b, '\n')

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write signatures: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("commit signatures: %w", err)
	}

	return nil
}

func gatewayKey(gateway string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(gateway))
	if key == "" {
		return "", errMissingGateway
	}

	return key, nil
}

// Tracker reports and clears the dirty flag of a single gateway.
type Tracker struct {
	m       *Manager
	gateway string
}

// IsDirty reports whether the gateway has unreleased changes.
func (t *Tracker) IsDirty(_ context.Context) (bool, error) {
	return t.m.IsDirty(t.gateway)
}

// MarkClean clears the dirty flag after a resource version was created.
func (t *Tracker) MarkClean(_ context.Context) error {
	return t.m.MarkClean(t.gateway)
}
