package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
discovery:
  poll_interval: 30s
backends:
  - name: orders
    base_url: http://orders:8080
  - name: users
    base_url: http://users:8080
auth:
  shared_secret: s3cret
docs:
  service: Admin Gateway
  services:
    car:
      - path: /car/cars
        method: GET
        description: list cars
        roles: [admin, maintenance]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, ModeDynamic, cfg.Discovery.Mode)
	assert.Equal(t, 30*time.Second, cfg.Discovery.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Discovery.PollTimeout)
	assert.Equal(t, 30*time.Second, cfg.Proxy.Timeout)
	assert.Equal(t, int64(32<<20), cfg.Proxy.MaxResponseBytes)
	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, BackendCfg{Name: "orders", BaseURL: "http://orders:8080"}, cfg.Backends[0])
	assert.Equal(t, "s3cret", cfg.Auth.SharedSecret)
	assert.Equal(t, "Admin Gateway", cfg.Docs.Service)
	require.Len(t, cfg.Docs.Services["car"], 1)
	assert.Equal(t, []string{"admin", "maintenance"}, cfg.Docs.Services["car"][0].Roles)
	assert.False(t, cfg.InboundJWT.Enabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: orders
    base_url: http://orders:8080
`)
	t.Setenv("GATEWAY_SERVER_PORT", "7070")
	t.Setenv("GATEWAY_DISCOVERY_POLL_INTERVAL", "1m")
	t.Setenv("GATEWAY_BACKENDS_JSON", `{"users":"http://users:1","cars":"http://cars:1"}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Discovery.PollInterval)
	require.Len(t, cfg.Backends, 3)
	assert.Equal(t, "cars", cfg.Backends[1].Name)
	assert.Equal(t, "users", cfg.Backends[2].Name)
}

func TestLoadStaticRoutesFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_DISCOVERY_MODE", ModeStatic)
	t.Setenv("GATEWAY_STATIC_ROUTES_JSON", `{"car":"http://localhost:5008"}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"car": "http://localhost:5008"}, cfg.StaticRoutes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Discovery: DiscoveryCfg{Mode: ModeDynamic, PollInterval: time.Second, PollTimeout: time.Second},
			Backends:  []BackendCfg{{Name: "orders", BaseURL: "http://orders"}},
			Proxy:     ProxyCfg{Timeout: time.Second},
			Auth:      AuthCfg{Mode: AuthStatic},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"no backends", func(c *Config) { c.Backends = nil }, false},
		{"duplicate backend", func(c *Config) { c.Backends = append(c.Backends, c.Backends[0]) }, false},
		{"missing base url", func(c *Config) { c.Backends[0].BaseURL = "" }, false},
		{"consul resolves base url", func(c *Config) {
			c.Backends[0].BaseURL = ""
			c.Discovery.ConsulAddr = "localhost:8500"
		}, true},
		{"unknown mode", func(c *Config) { c.Discovery.Mode = "magic" }, false},
		{"static without routes", func(c *Config) { c.Discovery.Mode = ModeStatic }, false},
		{"static with routes", func(c *Config) {
			c.Discovery.Mode = ModeStatic
			c.StaticRoutes = map[string]string{"car": "http://car"}
		}, true},
		{"jwt without secret", func(c *Config) { c.Auth.Mode = AuthJWT; c.Auth.JWTTTL = time.Minute }, false},
		{"jwt with secret", func(c *Config) {
			c.Auth.Mode = AuthJWT
			c.Auth.JWTSecret = "k"
			c.Auth.JWTTTL = time.Minute
		}, true},
		{"zero proxy timeout", func(c *Config) { c.Proxy.Timeout = 0 }, false},
		{"negative rate", func(c *Config) { c.RateLimit.PerMinute = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
