package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil, env(nil))
	require.NoError(t, err)

	require.Equal(t, Default(), cfg)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, 10*time.Second, cfg.JoinTimeout)
	require.Equal(t, 30*time.Second, cfg.BotTimeout)
	require.True(t, cfg.EnableMDNS)
}

func TestParseFlags(t *testing.T) {
	args := []string{
		"-name", "Amina",
		"-port", "4001",
		"-data", "/tmp/hush",
		"-http", "",
		"-join-timeout", "3s",
		"-create-delay", "0s",
		"-store", "file",
		"-mdns=false",
		"-log-level", "debug",
	}
	cfg, err := Parse(args, env(nil))
	require.NoError(t, err)

	require.Equal(t, "Amina", cfg.Name)
	require.Equal(t, 4001, cfg.Port)
	require.Equal(t, "/tmp/hush", cfg.DataDir)
	require.Empty(t, cfg.HTTPAddr)
	require.Equal(t, 3*time.Second, cfg.JoinTimeout)
	require.Zero(t, cfg.CreateDelay)
	require.Equal(t, StoreFile, cfg.Store)
	require.False(t, cfg.EnableMDNS)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvironmentOverrides(t *testing.T) {
	vars := map[string]string{
		"HUSHROOM_DATA":         "/srv/hush",
		"HUSHROOM_BOT_ENDPOINT": "http://bots.local/v1",
		"HUSHROOM_PORT":         "4002",
		"HUSHROOM_NAME":         "  Baraka  ",
	}
	cfg, err := Parse(nil, env(vars))
	require.NoError(t, err)
	require.Equal(t, "/srv/hush", cfg.DataDir)
	require.Equal(t, "http://bots.local/v1", cfg.BotEndpoint)
	require.Equal(t, 4002, cfg.Port)
	require.Equal(t, "Baraka", cfg.Name)

	// flags win over the environment
	cfg, err = Parse([]string{"-data", "/tmp/flag"}, env(vars))
	require.NoError(t, err)
	require.Equal(t, "/tmp/flag", cfg.DataDir)

	_, err = Parse(nil, env(map[string]string{"HUSHROOM_PORT": "many"}))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Port = 70000
	cfg.Store = "redis"
	cfg.JoinTimeout = 0
	cfg.LogLevel = "chatty"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "port 70000 out of range")
	require.Contains(t, err.Error(), `unknown store "redis"`)
	require.Contains(t, err.Error(), "join timeout must be positive")
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]string{"-port", "-1"}, env(nil))
	require.Error(t, err)

	_, err = Parse([]string{"extra"}, env(nil))
	require.Error(t, err)
}

func TestLoggerWritesToDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.LogLevel = "debug"

	log, err := cfg.Logger()
	require.NoError(t, err)
	log.Debug("hello from the test")
	_ = log.Sync()

	f, err := os.Open(filepath.Join(cfg.DataDir, "hushroom.log"))
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello from the test")
}
