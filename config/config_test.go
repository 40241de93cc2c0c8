package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatgenie.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis_address: localhost:6379
presence_ttl: 1m
heartbeat_interval: 20s
bcrypt_cost: 12
`), 0600))

	t.Setenv("CHATGENIE_HEARTBEAT_INTERVAL", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddress)
	assert.Equal(t, time.Minute, cfg.PresenceTTL)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddress)
	assert.NoError(t, cfg.Validate())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CHATGENIE_JWT_SECRET":  "secret",
		"CHATGENIE_SESSION_TTL": "1h",
		"CHATGENIE_BCRYPT_COST": "5",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5, cfg.BcryptCost)

	env["CHATGENIE_REAP_INTERVAL"] = "soon"
	assert.Error(t, Default().ApplyEnv(lookup))
}

func TestApplyFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flags)
	require.NoError(t, flags.Parse([]string{"--redis-address", "redis:6379", "--reap-interval", "2s"}))

	cfg := Default()
	cfg.HTTPAddress = "0.0.0.0:9000"
	require.NoError(t, cfg.ApplyFlags(flags))
	assert.Equal(t, "redis:6379", cfg.RedisAddress)
	assert.Equal(t, 2*time.Second, cfg.ReapInterval)

	// unset flags don't clobber earlier sources
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTPAddress)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"ZeroTTL": func(c *Config) {
			c.PresenceTTL = 0
		},
		"SlowHeartbeat": func(c *Config) {
			c.HeartbeatInterval = c.PresenceTTL
		},
		"NegativeCost": func(c *Config) {
			c.BcryptCost = -1
		},
		"BadLevel": func(c *Config) {
			c.LogLevel = "loud"
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	assert.Equal(t, logrus.DebugLevel, cfg.Logger().GetLevel())
}
