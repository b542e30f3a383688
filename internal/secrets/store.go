package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"github.com/kubot64/apigw-release/internal/config"
)

const (
	keyringPasswordEnv = "APIGW_RELEASE_KEYRING_PASSWORD" //nolint:gosec
	keyringBackendEnv  = "APIGW_RELEASE_KEYRING_BACKEND"  //nolint:gosec

	keyringOpenTimeout = 5 * time.Second
	keyPrefix          = "app:"
)

var (
	errMissingAppCode   = errors.New("missing app code")
	errMissingAppSecret = errors.New("missing app secret")
	errNoTTY            = errors.New("no TTY available for keyring file backend password prompt")
	errKeyringTimeout   = errors.New("keyring connection timed out")
	keyringOpenFunc     = keyring.Open
)

// ErrNotFound is returned when no secret is stored for an app code.
var ErrNotFound = keyring.ErrKeyNotFound

// AppSecret is the gateway credential stored for one app code.
type AppSecret struct {
	AppCode   string    `json:"app_code"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Secret    string    `json:"-"`
}

type storedSecret struct {
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Store keeps app secrets in the system keyring.
type Store struct {
	ring keyring.Keyring
}

// New wraps an opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func fileKeyringPasswordFunc() keyring.PromptFunc {
	if password, ok := os.LookupEnv(keyringPasswordEnv); ok {
		return keyring.FixedStringPrompt(password)
	}

	if term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec
		return keyring.TerminalPrompt
	}

	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func backendsFromEnv() (string, []keyring.BackendType) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv(keyringBackendEnv)))

	switch backend {
	case "keychain":
		return backend, []keyring.BackendType{keyring.KeychainBackend}
	case "secret-service":
		return backend, []keyring.BackendType{keyring.SecretServiceBackend}
	case "file":
		return backend, []keyring.BackendType{keyring.FileBackend}
	}

	// Without D-Bus the secret service backend hangs; use the file backend.
	if runtime.GOOS == "linux" && os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		return backend, []keyring.BackendType{keyring.FileBackend}
	}

	return backend, nil
}

func openKeyring() (keyring.Keyring, error) {
	keyringDir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, fmt.Errorf("ensure keyring dir: %w", err)
	}

	backend, backends := backendsFromEnv()

	cfg := keyring.Config{
		ServiceName:              config.AppName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  keyringDir,
		FilePasswordFunc:         fileKeyringPasswordFunc(),
	}

	if runtime.GOOS == "linux" && os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" && backend == "" {
		return openKeyringWithTimeout(cfg, keyringOpenTimeout)
	}

	ring, err := keyringOpenFunc(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}

	return ring, nil
}

type keyringResult struct {
	ring keyring.Keyring
	err  error
}

func openKeyringWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan keyringResult, 1)

	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- keyringResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}

		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v; set %s=file and %s=<password> to use file storage",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}

// OpenDefault opens the keyring configured for this user.
func OpenDefault() (*Store, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}

	return New(ring), nil
}

func normalizeAppCode(appCode string) string {
	return strings.TrimSpace(appCode)
}

func secretKey(appCode string) string {
	return keyPrefix + appCode
}

// SetSecret stores the secret for an app code.
func (s *Store) SetSecret(sec AppSecret) error {
	appCode := normalizeAppCode(sec.AppCode)
	if appCode == "" {
		return errMissingAppCode
	}

	secret := strings.TrimSpace(sec.Secret)
	if secret == "" {
		return errMissingAppSecret
	}

	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(storedSecret{Secret: secret, CreatedAt: sec.CreatedAt})
	if err != nil {
		return fmt.Errorf("encode secret: %w", err)
	}

	if err := s.ring.Set(keyring.Item{Key: secretKey(appCode), Data: payload, Label: config.AppName}); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}

	return nil
}

// GetSecret returns the stored secret. A missing entry wraps ErrNotFound.
func (s *Store) GetSecret(appCode string) (AppSecret, error) {
	appCode = normalizeAppCode(appCode)
	if appCode == "" {
		return AppSecret{}, errMissingAppCode
	}

	item, err := s.ring.Get(secretKey(appCode))
	if err != nil {
		return AppSecret{}, fmt.Errorf("read secret for %s: %w", appCode, err)
	}

	var st storedSecret
	if err := json.Unmarshal(item.Data, &st); err != nil {
		return AppSecret{}, fmt.Errorf("decode secret: %w", err)
	}

	return AppSecret{AppCode: appCode, CreatedAt: st.CreatedAt, Secret: st.Secret}, nil
}

// DeleteSecret removes the secret; deleting a missing entry is not an error.
func (s *Store) DeleteSecret(appCode string) error {
	appCode = normalizeAppCode(appCode)
	if appCode == "" {
		return errMissingAppCode
	}

	if err := s.ring.Remove(secretKey(appCode)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("delete secret: %w", err)
	}

	return nil
}

// List returns every stored app code, without secrets.
func (s *Store) List() ([]AppSecret, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("list keyring keys: %w", err)
	}

	out := make([]AppSecret, 0)
	for _, k := range keys {
		appCode, ok := strings.CutPrefix(k, keyPrefix)
		if !ok || appCode == "" {
			continue
		}

		sec, err := s.GetSecret(appCode)
		if err != nil {
			continue
		}
		sec.Secret = ""
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppCode < out[j].AppCode })

	return out, nil
}
