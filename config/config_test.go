package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHAMBER_DATA_DIR", "CHAMBER_LOG_LEVEL", "CHAMBER_LOG_FORMAT", "CHAMBER_STORE_BACKEND",
		"CHAMBER_REDIS_URL", "CHAMBER_STORE_NAMESPACE", "CHAMBER_SIGNALING_URL", "CHAMBER_ICE_SERVERS",
		"CHAMBER_TURN_USERNAME", "CHAMBER_TURN_CREDENTIAL", "CHAMBER_CONNECT_TIMEOUT", "CHAMBER_SIGNAL_LISTEN",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendLevelDB, cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Network.ConnectTimeout.Duration)
	assert.Contains(t, cfg.Network.ICEServers, "stun:stun.l.google.com:19302")
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chamber.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir = "`+filepath.ToSlash(dir)+`"

[log]
level = "debug"
format = "json"

[store]
backend = "memory"

[network]
signaling_url = "https://signal.example.org"
ice_servers = ["stun:one.example.org:3478"]
connect_timeout = "12s"
`), 0o600))

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "https://signal.example.org", cfg.Network.SignalingURL)
	assert.Equal(t, []string{"stun:one.example.org:3478"}, cfg.Network.ICEServers)
	assert.Equal(t, 12*time.Second, cfg.Network.ConnectTimeout.Duration)
	assert.Equal(t, ":9000", cfg.Signal.Listen, "unset values keep their defaults")

	t.Setenv("CHAMBER_LOG_LEVEL", "warn")
	t.Setenv("CHAMBER_ICE_SERVERS", "stun:a:1, turn:b:2")
	t.Setenv("CHAMBER_CONNECT_TIMEOUT", "3s")
	cfg, err = Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stun:a:1", "turn:b:2"}, cfg.Network.ICEServers)
	assert.Equal(t, 3*time.Second, cfg.Network.ConnectTimeout.Duration)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CHAMBER_STORE_BACKEND=memory\nCHAMBER_SIGNAL_LISTEN=:7000\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CHAMBER_STORE_BACKEND")
		os.Unsetenv("CHAMBER_SIGNAL_LISTEN")
	})
	t.Setenv("CHAMBER_DATA_DIR", dir)

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, ":7000", cfg.Signal.Listen)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }},
		{"redis without url", func(c *Config) { c.Store.Backend = BackendRedis }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero timeout", func(c *Config) { c.Network.ConnectTimeout = Duration{} }},
		{"leveldb without dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.Store.Backend = BackendRedis
	cfg.Store.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := Default()
	cfg.DataDir = dir
	cfg.Store.Backend = BackendMemory
	cfg.Network.ConnectTimeout = Duration{9 * time.Second}

	path := filepath.Join(dir, "sub", "chamber.toml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path, filepath.Join(dir, "none.env"))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyLogging(t *testing.T) {
	prevLevel, prevFormatter := logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFormatter)
	})

	cfg := Default()
	cfg.Log = LogConfig{Level: "debug", Format: "json"}
	cfg.ApplyLogging()
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)
}
