package server

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig builds the shared configuration: defaults first, then an
// optional config file, then MUSTER_* environment overrides.
func LoadConfig(path string) (*viper.Viper, error) {
	v := viper.New()

	// Server.
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	// Scan engine.
	v.SetDefault("scan.concurrency", 10)
	v.SetDefault("scan.timeout", "1500ms")
	v.SetDefault("scan.retries", 3)
	v.SetDefault("scan.max_host_bits", 16)
	v.SetDefault("scan.pinger", "icmp") // icmp | system
	v.SetDefault("scan.bulk.binary", "fping")
	v.SetDefault("scan.bulk.timeout", "15s")

	// Command dispatch.
	v.SetDefault("dispatch.concurrency", 10)
	v.SetDefault("dispatch.port", 22)
	v.SetDefault("dispatch.connect_timeout", "30s")
	v.SetDefault("dispatch.idle_timeout", "60s")

	// Job store.
	v.SetDefault("jobs.path", "muster.db")

	v.SetEnvPrefix("MUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	return v, nil
}
