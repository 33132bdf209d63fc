// Package config loads the gateway configuration from file, environment,
// and defaults.
//
// Precedence, highest first: environment variables (FROND_*), the config
// file, built-in defaults. Example: FROND_LOGGING_LEVEL=DEBUG overrides
// logging.level.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/frondhq/frond/internal/logger"
)

// Config is the full gateway configuration.
type Config struct {
	// Listen is the address the HTTP server binds, host:port.
	Listen string `mapstructure:"listen" validate:"required"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	Logging logger.Config `mapstructure:"logging"`

	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Lookup   LookupConfig   `mapstructure:"lookup"`

	Browserless BrowserlessConfig `mapstructure:"browserless"`

	// Upstreams is the fixed relay table. Each entry becomes one
	// forwarder mounted under /api/<name>/.
	Upstreams []UpstreamConfig `mapstructure:"upstreams" validate:"dive"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	// DSN is the sqlite data source, a file path or :memory:.
	DSN string `mapstructure:"dsn" validate:"required"`
}

type AuthConfig struct {
	// JWTSecret signs credentials. Required; there is no insecure default.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
	Issuer    string `mapstructure:"issuer"`
	// ActiveCacheTTL bounds how long a cached active/inactive verdict is
	// trusted before the directory is consulted again.
	ActiveCacheTTL time.Duration `mapstructure:"active_cache_ttl" validate:"gt=0"`
	// SessionPrefix namespaces session keys in redis.
	SessionPrefix string `mapstructure:"session_prefix"`
}

// LookupConfig guards the string-lookup endpoint.
type LookupConfig struct {
	// AllowedHosts are the Origin/Referer hostnames permitted to call the
	// lookup endpoint.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
	// KeyPrefix is the mandatory key namespace; requests for keys outside
	// it are rejected.
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

type BrowserlessConfig struct {
	// Endpoint is the DevTools WebSocket URL used for screenshots.
	Endpoint string `mapstructure:"endpoint" validate:"required"`
}

// UpstreamConfig parameterizes one forwarder.
type UpstreamConfig struct {
	Name           string            `mapstructure:"name" validate:"required"`
	Host           string            `mapstructure:"host" validate:"required"`
	Port           int               `mapstructure:"port" validate:"required,gt=0,lte=65535"`
	StripPrefix    string            `mapstructure:"strip_prefix"`
	BasePath       string            `mapstructure:"base_path"`
	DefaultHeaders map[string]string `mapstructure:"default_headers"`
}

// Load reads configuration from configPath (empty means defaults plus
// environment only) and validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("FROND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":3002")
	v.SetDefault("shutdown_timeout", "15s")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.dsn", "frond.db")

	// Registered empty so FROND_AUTH_JWT_SECRET binds; validation rejects
	// a missing secret.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.active_cache_ttl", "2h")
	v.SetDefault("auth.session_prefix", "session")

	v.SetDefault("lookup.key_prefix", "back-")

	v.SetDefault("browserless.endpoint", "ws://localhost:1202")

	v.SetDefault("upstreams", defaultUpstreams())
}

// defaultUpstreams mirrors the deployment this gateway fronts: a local
// model server, two feed services, a crawler, and a chat relay that
// expects an API key.
func defaultUpstreams() []map[string]any {
	return []map[string]any{
		{"name": "ollama", "host": "localhost", "port": 11434, "strip_prefix": "/api/ollama", "base_path": "/api"},
		{"name": "py", "host": "localhost", "port": 3001, "strip_prefix": "/api/py"},
		{"name": "rsshub", "host": "localhost", "port": 1200, "strip_prefix": "/api/rsshub"},
		{"name": "crawl", "host": "localhost", "port": 11235, "strip_prefix": "/api/crawl"},
		{
			"name":         "ncat",
			"host":         "localhost",
			"port":         3003,
			"strip_prefix": "/api/ncat",
			"base_path":    "/v1",
			"default_headers": map[string]string{
				"x-api-key": "sk-dummy",
			},
		},
		{"name": "browserless", "host": "localhost", "port": 1202, "strip_prefix": "/api/browserless"},
	}
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToHeaderMapHook(),
	)
}

// stringToHeaderMapHook lets FROND_* environment variables supply header
// maps as comma-separated key=value pairs.
func stringToHeaderMapHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Map {
			return data, nil
		}
		raw, ok := data.(string)
		if !ok || raw == "" {
			return data, nil
		}
		out := map[string]string{}
		for _, pair := range strings.Split(raw, ",") {
			key, value, found := strings.Cut(pair, "=")
			if !found {
				return nil, fmt.Errorf("malformed header pair %q", pair)
			}
			out[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		return out, nil
	}
}
