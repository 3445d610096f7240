package instance

import (
	"os"

	"github.com/angelmondragon/channelcore-backend/pkg/config"
)

// ID names this process in logs and lock values: the configured worker id,
// then the platform dyno name, then the hostname.
func ID(cfg config.ServiceConfig) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return cfg.Kind + "-0"
}
