package stream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestLoadConfigMissing(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Equal(t, err, nil)
	assert.Equal(t, config, DefaultConfig())
	assert.Equal(t, config.BaseUrl(), defaultApiUrl)
}

func TestLoadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "streamctl.toml")
	configToml := `
api_url = "http://api.example.com"
proxy_url = "http://proxy.example.com"
socket_url = "ws://api.example.com/ws/users"
use_direct_api = false
`
	err := os.WriteFile(configPath, []byte(configToml), 0o644)
	assert.Equal(t, err, nil)

	config, err := LoadConfig(configPath)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.ApiUrl, "http://api.example.com")
	assert.Equal(t, config.SocketUrl, "ws://api.example.com/ws/users")
	assert.Equal(t, config.UseDirectApi, false)
	assert.Equal(t, config.BaseUrl(), "http://proxy.example.com")
}

func TestLoadConfigPartial(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "streamctl.toml")
	err := os.WriteFile(configPath, []byte(`api_url = "http://api.example.com"`), 0o644)
	assert.Equal(t, err, nil)

	// keys absent from the file keep their defaults
	config, err := LoadConfig(configPath)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.ApiUrl, "http://api.example.com")
	assert.Equal(t, config.ProxyUrl, defaultProxyUrl)
	assert.Equal(t, config.SocketUrl, defaultSocketUrl)
	assert.Equal(t, config.UseDirectApi, true)
	assert.Equal(t, config.BaseUrl(), "http://api.example.com")
}

func TestLoadConfigInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "streamctl.toml")
	err := os.WriteFile(configPath, []byte(`api_url = [`), 0o644)
	assert.Equal(t, err, nil)

	_, err = LoadConfig(configPath)
	assert.NotEqual(t, err, nil)
}
