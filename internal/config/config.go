package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName   = "apigw-release"
	EnvPrefix = "APIGW_RELEASE"

	defaultUsername = "admin"
	defaultTimeout  = 30 * time.Second
)

// Settings are resolved from defaults, config.yaml and the environment, in
// increasing precedence.
type Settings struct {
	GatewayName string         `mapstructure:"gateway_name" json:"gateway_name"`
	APIURL      string         `mapstructure:"api_url" json:"api_url"`
	AppCode     string         `mapstructure:"app_code" json:"app_code"`
	AppSecret   string         `mapstructure:"app_secret" json:"app_secret,omitempty"`
	Username    string         `mapstructure:"username" json:"username"`
	Timeout     time.Duration  `mapstructure:"timeout" json:"timeout"`
	OAuth2      OAuth2Settings `mapstructure:"oauth2" json:"oauth2"`
}

// OAuth2Settings configure the client-credentials grant.
type OAuth2Settings struct {
	TokenURL     string   `mapstructure:"token_url" json:"token_url,omitempty"`
	ClientID     string   `mapstructure:"client_id" json:"client_id,omitempty"`
	ClientSecret string   `mapstructure:"client_secret" json:"client_secret,omitempty"`
	Scopes       []string `mapstructure:"scopes" json:"scopes,omitempty"`
}

// envAliases lists extra environment variables accepted per key, after the
// prefixed name.
var envAliases = map[string][]string{
	"gateway_name":         {"BK_APIGW_NAME"},
	"api_url":              {"BK_APIGATEWAY_API_URL"},
	"app_code":             {"BK_APP_CODE"},
	"app_secret":           {"BK_APP_SECRET"},
	"username":             {"BK_USERNAME"},
	"timeout":              nil,
	"oauth2.token_url":     nil,
	"oauth2.client_id":     nil,
	"oauth2.client_secret": nil,
	"oauth2.scopes":        nil,
}

// MissingSettingError is returned when a required setting is empty.
type MissingSettingError struct {
	Key string
}

func (e *MissingSettingError) Error() string {
	return fmt.Sprintf("%s is not configured; set it in %s or %s", e.Key, "config.yaml", envName(e.Key))
}

func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}

	return filepath.Join(base, AppName), nil
}

func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ensure config dir: %w", err)
	}

	return dir, nil
}

func KeyringDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "keyring"), nil
}

func EnsureKeyringDir() (string, error) {
	dir, err := KeyringDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ensure keyring dir: %w", err)
	}

	return dir, nil
}

func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "config.yaml"), nil
}

// Load resolves Settings. An explicit path must exist; the default
// config.yaml is optional.
func Load(path string) (Settings, error) {
	v := viper.New()
	v.SetDefault("username", defaultUsername)
	v.SetDefault("timeout", defaultTimeout)

	for key, aliases := range envAliases {
		names := append([]string{envName(key)}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Settings{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		var err error
		if path, err = ConfigPath(); err != nil {
			return Settings{}, err
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}

	s.normalize()

	return s, nil
}

// Validate reports the first missing required setting.
func (s Settings) Validate() error {
	switch {
	case s.GatewayName == "":
		return &MissingSettingError{Key: "gateway_name"}
	case s.APIURL == "":
		return &MissingSettingError{Key: "api_url"}
	}

	return nil
}

// Redacted returns a copy safe to print.
func (s Settings) Redacted() Settings {
	if s.AppSecret != "" {
		s.AppSecret = "***"
	}
	if s.OAuth2.ClientSecret != "" {
		s.OAuth2.ClientSecret = "***"
	}

	return s
}

func (s *Settings) normalize() {
	s.GatewayName = strings.TrimSpace(s.GatewayName)
	s.APIURL = strings.TrimRight(strings.TrimSpace(s.APIURL), "/")
	s.AppCode = strings.TrimSpace(s.AppCode)
	s.AppSecret = strings.TrimSpace(s.AppSecret)
	s.Username = strings.TrimSpace(s.Username)
	s.OAuth2.TokenURL = strings.TrimSpace(s.OAuth2.TokenURL)

	scopes := s.OAuth2.Scopes[:0]
	for _, sc := range s.OAuth2.Scopes {
		if sc = strings.TrimSpace(sc); sc != "" {
			scopes = append(scopes, sc)
		}
	}
	s.OAuth2.Scopes = scopes

	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
