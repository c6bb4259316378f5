package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultPath = "config/gateway.yaml"

	ModeDynamic = "dynamic"
	ModeStatic  = "static"

	AuthStatic = "static"
	AuthJWT    = "jwt"
)

type ServerCfg struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogCfg struct {
	Level string `mapstructure:"level"`
}

type DiscoveryCfg struct {
	Mode         string        `mapstructure:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	ConsulAddr   string        `mapstructure:"consul_addr"`
}

// BackendCfg describes one backend service. BaseURL may be left empty when
// discovery.consul_addr is set; the address is then taken from Consul.
type BackendCfg struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
}

type ProxyCfg struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

type AuthCfg struct {
	Mode         string        `mapstructure:"mode"`
	SharedSecret string        `mapstructure:"shared_secret"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTTTL       time.Duration `mapstructure:"jwt_ttl"`
	JWTIssuer    string        `mapstructure:"jwt_issuer"`
}

type InboundJWTCfg struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Secret        string `mapstructure:"secret"`
}

// Enabled reports whether callers must present a valid token.
func (c InboundJWTCfg) Enabled() bool {
	return c.PublicKeyPath != "" || c.Secret != ""
}

type RateLimitCfg struct {
	PerMinute int    `mapstructure:"per_minute"`
	Burst     int    `mapstructure:"burst"`
	RedisAddr string `mapstructure:"redis_addr"`
}

type DocEndpoint struct {
	Path        string   `mapstructure:"path" json:"path"`
	Method      string   `mapstructure:"method" json:"method"`
	Description string   `mapstructure:"description" json:"description"`
	Roles       []string `mapstructure:"roles" json:"role_required,omitempty"`
}

type DocsCfg struct {
	Service     string                   `mapstructure:"service"`
	Description string                   `mapstructure:"description"`
	Services    map[string][]DocEndpoint `mapstructure:"services"`
}

type Config struct {
	Server       ServerCfg         `mapstructure:"server"`
	Log          LogCfg            `mapstructure:"log"`
	Discovery    DiscoveryCfg      `mapstructure:"discovery"`
	Backends     []BackendCfg      `mapstructure:"backends"`
	StaticRoutes map[string]string `mapstructure:"static_routes"`
	Proxy        ProxyCfg          `mapstructure:"proxy"`
	Auth         AuthCfg           `mapstructure:"auth"`
	InboundJWT   InboundJWTCfg     `mapstructure:"inbound_jwt"`
	RateLimit    RateLimitCfg      `mapstructure:"ratelimit"`
	Docs         DocsCfg           `mapstructure:"docs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 35*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("discovery.mode", ModeDynamic)
	v.SetDefault("discovery.poll_interval", 300*time.Second)
	v.SetDefault("discovery.poll_timeout", 10*time.Second)
	v.SetDefault("discovery.consul_addr", "")
	v.SetDefault("proxy.timeout", 30*time.Second)
	v.SetDefault("proxy.max_response_bytes", int64(32<<20))
	v.SetDefault("auth.mode", AuthStatic)
	v.SetDefault("auth.shared_secret", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_ttl", 5*time.Minute)
	v.SetDefault("auth.jwt_issuer", "api-gateway")
	v.SetDefault("inbound_jwt.public_key_path", "")
	v.SetDefault("inbound_jwt.secret", "")
	v.SetDefault("ratelimit.per_minute", 0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("ratelimit.redis_addr", "")
	v.SetDefault("docs.service", "API Gateway")
	v.SetDefault("docs.description", "Single entry point for all backend services.")
}

// Load reads configuration from an optional .env file, the YAML file at path
// and GATEWAY_* environment variables, in increasing order of precedence.
// A missing file is only tolerated for DefaultPath.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !(errors.Is(err, fs.ErrNotExist) && path == DefaultPath) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// GATEWAY_BACKENDS_JSON={"orders":"http://orders:8080"} adds backends
	// without a config file.
	if raw := os.Getenv("GATEWAY_BACKENDS_JSON"); raw != "" {
		extra, err := parseBackendsJSON(raw)
		if err != nil {
			return nil, err
		}
		cfg.Backends = append(cfg.Backends, extra...)
	}
	if raw := os.Getenv("GATEWAY_STATIC_ROUTES_JSON"); raw != "" {
		m := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("parse GATEWAY_STATIC_ROUTES_JSON: %w", err)
		}
		if cfg.StaticRoutes == nil {
			cfg.StaticRoutes = map[string]string{}
		}
		for k, u := range m {
			cfg.StaticRoutes[k] = u
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseBackendsJSON(raw string) ([]BackendCfg, error) {
	m := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parse GATEWAY_BACKENDS_JSON: %w", err)
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]BackendCfg, 0, len(names))
	for _, name := range names {
		out = append(out, BackendCfg{Name: name, BaseURL: m[name]})
	}
	return out, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	switch c.Discovery.Mode {
	case ModeDynamic:
		if len(c.Backends) == 0 {
			return errors.New("dynamic discovery requires at least one backend")
		}
		seen := make(map[string]struct{}, len(c.Backends))
		for _, b := range c.Backends {
			if b.Name == "" {
				return errors.New("backend name is required")
			}
			if _, dup := seen[b.Name]; dup {
				return fmt.Errorf("duplicate backend %q", b.Name)
			}
			seen[b.Name] = struct{}{}
			if b.BaseURL == "" && c.Discovery.ConsulAddr == "" {
				return fmt.Errorf("backend %q has no base_url and discovery.consul_addr is not set", b.Name)
			}
		}
		if c.Discovery.PollInterval <= 0 || c.Discovery.PollTimeout <= 0 {
			return errors.New("discovery.poll_interval and discovery.poll_timeout must be positive")
		}
	case ModeStatic:
		if len(c.StaticRoutes) == 0 {
			return errors.New("static discovery requires static_routes")
		}
	default:
		return fmt.Errorf("unknown discovery.mode %q", c.Discovery.Mode)
	}

	switch c.Auth.Mode {
	case AuthStatic:
	case AuthJWT:
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required when auth.mode is jwt")
		}
		if c.Auth.JWTTTL <= 0 {
			return errors.New("auth.jwt_ttl must be positive")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}

	if c.Proxy.Timeout <= 0 {
		return errors.New("proxy.timeout must be positive")
	}
	if c.RateLimit.PerMinute < 0 {
		return errors.New("ratelimit.per_minute must not be negative")
	}
	return nil
}
