package chat

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// ServerURL is the WebSocket endpoint of the conversational backend.
	ServerURL string `yaml:"server_url"`
	// APIURL is the base URL of the request/response API, including the
	// doctor summary resource.
	APIURL string `yaml:"api_url"`
	// AutoSummary fetches the doctor summary automatically when the backend
	// pushes summary_ready for this session.
	AutoSummary bool `yaml:"auto_summary"`
	// ReconnectOnSend attempts a fresh connection when a send is tried while
	// disconnected, instead of only reporting the failure.
	ReconnectOnSend bool `yaml:"reconnect_on_send"`
	Theme           string `yaml:"theme"`
}

func DefaultConfig() Config {
	return Config{
		ServerURL:   "ws://localhost:8080/ws",
		APIURL:      "http://localhost:8080/api",
		AutoSummary: true,
		Theme:       "porcelain",
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "ws://localhost:8080/ws"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8080/api"
	}
	if cfg.Theme == "" {
		cfg.Theme = "porcelain"
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "carechat", "config.yml")
}
