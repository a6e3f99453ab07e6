// Package config loads the asset hub daemon's configuration from a YAML
// file, overlaid with CLI flags (flags always win).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// Addr is the TCP address the connection host listens on, e.g. ":9450".
	// Takes precedence over SocketPath per spec.md §6.
	Addr string `yaml:"addr"`

	// SocketPath is the Unix domain socket path used when Addr is empty.
	SocketPath string `yaml:"socket_path"`

	// DataDir holds the bbolt database file.
	DataDir string `yaml:"data_dir"`

	// WatchDirs lists the watch directories used to resolve relative paths
	// in GetAssetsForPaths, in registration order.
	WatchDirs []string `yaml:"watch_dirs"`

	// MetricsAddr is the address for the /metrics, /health, /ready HTTP server.
	MetricsAddr string `yaml:"metrics_addr"`

	// MaxConns bounds the number of concurrently accepted connections (vats).
	MaxConns int `yaml:"max_conns"`

	// ListenerQueueSize is read from the config file but not applied: the
	// broadcaster's per-listener delivery queue capacity is fixed at 16.
	ListenerQueueSize int `yaml:"listener_queue_size"`

	// SocketBufferBytes is the SO_SNDBUF/SO_RCVBUF size applied to accepted connections.
	SocketBufferBytes int `yaml:"socket_buffer_bytes"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the baseline configuration before a file or flags are applied.
func Default() Config {
	return Config{
		SocketPath:        defaultSocketPath(),
		DataDir:           "./assethub-data",
		MetricsAddr:       "127.0.0.1:9451",
		MaxConns:          256,
		ListenerQueueSize: 16,
		SocketBufferBytes: 4 << 20, // 4 MiB, per spec.md §6
		LogLevel:          "info",
		LogJSON:           true,
	}
}

// Load reads a YAML config file and merges it over Default(). A missing
// file is not an error; Default() is returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
