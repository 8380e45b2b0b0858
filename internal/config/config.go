// Package config wraps viper with exhibitdesk defaults and a nil-safe
// accessor type.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to environment overrides, e.g.
// EXHIBITDESK_API_BASE_URL for api.base_url.
const EnvPrefix = "EXHIBITDESK"

// Config is a read-only view over a viper instance.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil viper behaves as an empty configuration.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

func (c *Config) GetString(key string) string          { return c.v.GetString(key) }
func (c *Config) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *Config) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *Config) GetFloat64(key string) float64        { return c.v.GetFloat64(key) }
func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *Config) IsSet(key string) bool                { return c.v.IsSet(key) }

// Sub returns the subtree at key. A missing key yields an empty Config,
// never nil.
func (c *Config) Sub(key string) *Config {
	return New(c.v.Sub(key))
}

// Unmarshal decodes the whole configuration into target using mapstructure tags.
func (c *Config) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

// Viper exposes the underlying instance for modules that take *viper.Viper.
func (c *Config) Viper() *viper.Viper { return c.v }

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_per_second", 0)
	v.SetDefault("server.burst", 0)

	v.SetDefault("store.path", "exhibitdesk.db")

	v.SetDefault("api.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.rate_per_second", 20.0)
	v.SetDefault("api.burst", 40)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.token_ttl", "8h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("modules.browse.page_size", 10)
	v.SetDefault("modules.browse.max_visible", 5)
	v.SetDefault("modules.browse.max_sessions", 1024)
	v.SetDefault("modules.editor.acquire_locks", true)
}

// Load reads the optional YAML file at path, layers EXHIBITDESK_* env
// overrides on top, and applies defaults.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("exhibitdesk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/exhibitdesk")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// redactedKeys are never written by Dump.
var redactedKeys = map[string]bool{
	"auth.jwt_secret": true,
}

// Dump renders the effective configuration as YAML with secrets redacted.
func Dump(v *viper.Viper) ([]byte, error) {
	settings := v.AllSettings()
	for key := range redactedKeys {
		redact(settings, strings.Split(key, "."))
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

func redact(m map[string]any, path []string) {
	if len(path) == 0 {
		return
	}
	val, ok := m[path[0]]
	if !ok {
		return
	}
	if len(path) == 1 {
		m[path[0]] = "REDACTED"
		return
	}
	if sub, ok := val.(map[string]any); ok {
		redact(sub, path[1:])
	}
}
