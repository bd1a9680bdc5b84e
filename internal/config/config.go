package config

import (
	"strings"
	"time"

	"analyticsbridge/internal/analytics"
	"analyticsbridge/internal/auth"
	"analyticsbridge/internal/clienv"
	"analyticsbridge/internal/settings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ANALYTICS_BRIDGE_SERVER_PORT.
const EnvPrefix = "ANALYTICS_BRIDGE"

type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	CLI       CLIConfig         `mapstructure:"cli"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Store     StoreConfig       `mapstructure:"store"`
	Site      SiteConfig        `mapstructure:"site"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Settings  settings.Settings `mapstructure:"settings" validate:"-"`
	Readiness ReadinessConfig   `mapstructure:"readiness"`
	Log       LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	BasePath        string        `mapstructure:"base_path"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst       int           `mapstructure:"rate_burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CLIConfig struct {
	Path           string        `mapstructure:"path" validate:"required"`
	Version        string        `mapstructure:"version" validate:"required"`
	ReleaseBaseURL string        `mapstructure:"release_base_url" validate:"required,url"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Key         string             `mapstructure:"key"`
	Target      string             `mapstructure:"target"`
	Connections clienv.Connections `mapstructure:"connections"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type SiteConfig struct {
	Name       string `mapstructure:"name"`
	ModulePath string `mapstructure:"module_path"`
	Upstream   string `mapstructure:"upstream" validate:"omitempty,url"`
	ScriptURL  string `mapstructure:"script_url"`
	FrontPage  string `mapstructure:"front_page"`
	// Aliases maps internal paths to their public alias for page visibility.
	Aliases map[string]string `mapstructure:"aliases"`
}

type AuthConfig struct {
	Tokens []auth.Token `mapstructure:"tokens"`
}

type ReadinessConfig struct {
	RequireDependencies bool          `mapstructure:"require_dependencies"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// SetDefaults registers every known key so environment overrides apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("cli.path", "./bin/analytics-cli")
	v.SetDefault("cli.version", analytics.DefaultVersion)
	v.SetDefault("cli.release_base_url", analytics.DefaultReleaseBaseURL)
	v.SetDefault("cli.timeout", 30*time.Second)

	v.SetDefault("database.key", "default")
	v.SetDefault("database.target", "default")

	v.SetDefault("store.path", "./data/analytics-bridge.db")

	v.SetDefault("site.name", "")
	v.SetDefault("site.module_path", "modules/contrib/aesirx_analytics")
	v.SetDefault("site.upstream", "")
	v.SetDefault("site.script_url", "")
	v.SetDefault("site.front_page", "/")

	v.SetDefault("settings.1st_party_server", settings.ServerInternal)
	v.SetDefault("settings.domain", "")
	v.SetDefault("settings.client_id", "")
	v.SetDefault("settings.client_secret", "")
	v.SetDefault("settings.license", "")
	v.SetDefault("settings.consent", false)

	v.SetDefault("readiness.require_dependencies", false)
	v.SetDefault("readiness.timeout", 800*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
}

// BindEnv makes ANALYTICS_BRIDGE_<SECTION>_<KEY> override <section>.<key>.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads file (when set) into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", file)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.Server.BasePath = normalizeBasePath(cfg.Server.BasePath)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
