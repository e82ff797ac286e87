// Package config loads the hub configuration from defaults, an
// optional YAML file and WEBTRANSFER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the hub process.
type Config struct {
	// ListenAddr is the HTTP listen address for /ws and /api.
	ListenAddr string `mapstructure:"listen_addr"`

	// MaxUploadBytes caps a single relay upload body.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// UploadIdleTimeout fails an upload after this long without
	// inbound body data.
	UploadIdleTimeout time.Duration `mapstructure:"upload_idle_timeout"`

	// RelayUnusedTTL removes an uploaded payload nobody downloaded.
	RelayUnusedTTL time.Duration `mapstructure:"relay_unused_ttl"`

	// RelayDownloadedTTL removes a payload after a download began.
	RelayDownloadedTTL time.Duration `mapstructure:"relay_downloaded_ttl"`
}

// Load reads configuration with file < env < defaults precedence
// reversed: defaults lose to the file, the file loses to environment
// variables. configPath may be empty.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("max_upload_bytes", int64(2)<<30)
	v.SetDefault("upload_idle_timeout", 30*time.Second)
	v.SetDefault("relay_unused_ttl", 30*time.Second)
	v.SetDefault("relay_downloaded_ttl", 60*time.Second)

	v.SetEnvPrefix("WEBTRANSFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
