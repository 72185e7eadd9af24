package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/relay/internal/discovery"
	"github.com/conduit-lang/relay/internal/logging"
	"github.com/conduit-lang/relay/internal/manifest"
	"github.com/conduit-lang/relay/internal/web/ratelimit"
	"github.com/conduit-lang/relay/internal/web/replay"
)

// FileNames are the project config files, in lookup order.
var FileNames = []string{"relay.yml", "relay.yaml"}

// EnvPrefix prefixes environment overrides: RELAY_SERVER_PORT sets server.port.
const EnvPrefix = "RELAY"

// Replay backends.
const (
	ReplayNone   = "none"
	ReplayMemory = "memory"
	ReplayRedis  = "redis"
)

// Config represents the relay configuration
type Config struct {
	App      AppConfig         `mapstructure:"app"`
	Layout   LayoutConfig      `mapstructure:"layout"`
	Defaults manifest.Defaults `mapstructure:"defaults"`
	Server   ServerConfig      `mapstructure:"server"`
	Replay   ReplayConfig      `mapstructure:"replay"`
	Admin    AdminConfig       `mapstructure:"admin"`
	Logging  logging.Config    `mapstructure:"logging"`
}

// AppConfig identifies the platform application.
type AppConfig struct {
	ID string `mapstructure:"id"`
	// PublicKey is the hex Ed25519 key requests are verified against.
	PublicKey string `mapstructure:"public_key"`
}

// LayoutConfig locates handler definitions and the build artifact.
type LayoutConfig struct {
	discovery.Layout `mapstructure:",squash"`
	Artifact         string `mapstructure:"artifact"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	InteractionsPath string        `mapstructure:"interactions_path"`
	EventsPath       string        `mapstructure:"events_path"`
	HandlerTimeout   time.Duration `mapstructure:"handler_timeout"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
	EventConcurrency int           `mapstructure:"event_concurrency"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	TLSCert          string        `mapstructure:"tls_cert"`
	TLSKey           string        `mapstructure:"tls_key"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ReplayConfig selects the replay store.
type ReplayConfig struct {
	Backend string             `mapstructure:"backend"`
	Window  time.Duration      `mapstructure:"window"`
	Redis   replay.RedisConfig `mapstructure:"redis"`
}

// AdminConfig configures the bearer-token admin API.
type AdminConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Secret       string        `mapstructure:"secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	// AllowedOrigins lists Origin prefixes accepted by the monitor socket.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// Profiling mounts pprof and runtime stats under /admin/debug.
	Profiling bool `mapstructure:"profiling"`
	// LoginLimit throttles POST /admin/token per client address. A zero
	// limit disables throttling.
	LoginLimit ratelimit.Config `mapstructure:"login_limit"`
}

func setDefaults(v *viper.Viper) {
	layout := discovery.DefaultLayout()

	v.SetDefault("app.id", "")
	v.SetDefault("app.public_key", "")

	v.SetDefault("layout.commands_dir", layout.CommandsDir)
	v.SetDefault("layout.components_dir", layout.ComponentsDir)
	v.SetDefault("layout.events_dir", layout.EventsDir)
	v.SetDefault("layout.artifact", "build/manifest.json")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.interactions_path", "/interactions")
	v.SetDefault("server.events_path", "/events")
	v.SetDefault("server.handler_timeout", 3*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.event_concurrency", 8)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")

	v.SetDefault("replay.backend", ReplayMemory)
	v.SetDefault("replay.window", 5*time.Minute)
	v.SetDefault("replay.redis.addr", "localhost:6379")
	v.SetDefault("replay.redis.password", "")
	v.SetDefault("replay.redis.db", 0)
	v.SetDefault("replay.redis.prefix", replay.DefaultStoreConfig().Prefix)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.secret", "")
	v.SetDefault("admin.token_ttl", time.Hour)
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.allowed_origins", []string{})
	v.SetDefault("admin.profiling", false)
	v.SetDefault("admin.login_limit.limit", ratelimit.DefaultConfig().Limit)
	v.SetDefault("admin.login_limit.window", ratelimit.DefaultConfig().Window)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.encoding", "")
}

// Load reads relay.yml or relay.yaml from dir, applies RELAY_ environment
// overrides and validates the result. A missing file yields the defaults.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("relay")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFile reads the config at path. Unlike Load, the file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// FindProjectRoot walks up from dir to the nearest directory holding a
// relay config file.
func FindProjectRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		for _, name := range FileNames {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a relay project (no relay.yml found)")
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	var problems []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port must be between 0 and 65535, got: %d", cfg.Server.Port))
	}
	if !strings.HasPrefix(cfg.Server.InteractionsPath, "/") {
		problems = append(problems, fmt.Sprintf("server.interactions_path must start with '/', got: %s", cfg.Server.InteractionsPath))
	}
	if !strings.HasPrefix(cfg.Server.EventsPath, "/") {
		problems = append(problems, fmt.Sprintf("server.events_path must start with '/', got: %s", cfg.Server.EventsPath))
	}
	if cfg.Server.InteractionsPath == cfg.Server.EventsPath {
		problems = append(problems, "server.interactions_path and server.events_path must differ")
	}
	if cfg.Server.HandlerTimeout < 0 {
		problems = append(problems, "server.handler_timeout must not be negative")
	}
	if cfg.Server.EventConcurrency < 1 {
		problems = append(problems, "server.event_concurrency must be at least 1")
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		problems = append(problems, "server.tls_cert and server.tls_key must be set together")
	}

	switch cfg.Replay.Backend {
	case ReplayNone, ReplayMemory, ReplayRedis:
	default:
		problems = append(problems, fmt.Sprintf("replay.backend must be none, memory or redis, got: %s", cfg.Replay.Backend))
	}
	if cfg.Replay.Window < 0 {
		problems = append(problems, "replay.window must not be negative")
	}

	if cfg.Admin.Enabled && cfg.Admin.Secret == "" {
		problems = append(problems, "admin.secret is required when admin.enabled is true")
	}
	if (cfg.Admin.Username == "") != (cfg.Admin.PasswordHash == "") {
		problems = append(problems, "admin.username and admin.password_hash must be set together")
	}
	if cfg.Admin.LoginLimit.Limit < 0 {
		problems = append(problems, "admin.login_limit.limit must not be negative")
	}
	if cfg.Admin.LoginLimit.Limit > 0 && cfg.Admin.LoginLimit.Window <= 0 {
		problems = append(problems, "admin.login_limit.window must be positive")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		problems = append(problems, "logging.level: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
