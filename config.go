package stream

import (
	"errors"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultApiUrl = "http://localhost:8080"
const defaultProxyUrl = "http://localhost:3000"
const defaultSocketUrl = "ws://localhost:8080/ws/users"

// Config is the endpoint configuration, resolved once at process start and
// fixed for the process lifetime.
type Config struct {
	ApiUrl       string `toml:"api_url"`
	ProxyUrl     string `toml:"proxy_url"`
	SocketUrl    string `toml:"socket_url"`
	UseDirectApi bool   `toml:"use_direct_api"`
}

func DefaultConfig() *Config {
	return &Config{
		ApiUrl:       defaultApiUrl,
		ProxyUrl:     defaultProxyUrl,
		SocketUrl:    defaultSocketUrl,
		UseDirectApi: true,
	}
}

// LoadConfig parses the toml config at path. A missing file falls back to
// defaults; keys absent from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	configBytes, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	if err := toml.Unmarshal(configBytes, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return config, nil
}

// BaseUrl selects the direct or proxied api base.
func (self *Config) BaseUrl() string {
	if self.UseDirectApi {
		return self.ApiUrl
	}
	return self.ProxyUrl
}
