package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.json here

	cfg, err := NewLoader(nil).Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "KT board", cfg.SiteName)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultKeyPath, cfg.KeyPath)
	assert.Equal(t, DefaultMonitorInterval, cfg.MonitorInterval)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, "127.0.0.1:9961", cfg.Addr())
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"site-name": "lab fleet",
		"host": "0.0.0.0",
		"port": 8080,
		"key-path": "s3cret",
		"monitor-interval": "2s",
		"metrics": false
	}`)

	cfg, err := NewLoader(nil).Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, Config{
		SiteName:        "lab fleet",
		Host:            "0.0.0.0",
		Port:            8080,
		KeyPath:         "s3cret",
		MonitorInterval: 2 * time.Second,
		Metrics:         false,
	}, cfg)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "board.yaml", "site-name: yaml board\nport: 9000\n")

	cfg, err := NewLoader(nil).Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "yaml board", cfg.SiteName)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, DefaultKeyPath, cfg.KeyPath)
}

func TestLoadDefaultFileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(`{"site-name":"from cwd"}`), 0o600))
	t.Chdir(dir)

	cfg, err := NewLoader(nil).Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from cwd", cfg.SiteName)
}

func TestLoadBrokenDefaultFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(`{not json`), 0o600))
	t.Chdir(dir)

	cfg, err := NewLoader(nil).Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "KT board", cfg.SiteName)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "config.json", `{"site-name":"file","port":8000,"host":"10.0.0.1"}`)
	t.Setenv("KTBOARD_SITE_NAME", "env")
	t.Setenv("KTBOARD_PORT", "8001")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--port=8002"}))

	cfg, err := NewLoader(nil).Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, "env", cfg.SiteName, "env beats file")
	assert.Equal(t, 8002, cfg.Port, "flag beats env")
	assert.Equal(t, "10.0.0.1", cfg.Host, "file beats flag default")
}

func TestValidate(t *testing.T) {
	valid := Config{SiteName: "x", Host: "h", Port: 1, KeyPath: "k", MonitorInterval: time.Second}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty key path", func(c *Config) { c.KeyPath = "" }, "key-path"},
		{"key path with slash", func(c *Config) { c.KeyPath = "a/b" }, "key-path"},
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"zero interval", func(c *Config) { c.MonitorInterval = 0 }, "monitor-interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "config.json", `{"port": 0}`)

	_, err := NewLoader(nil).Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
