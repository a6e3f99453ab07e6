//go:build !windows

package config

func defaultSocketPath() string {
	return "/tmp/atelier-assets"
}
