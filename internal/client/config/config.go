package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default configuration values.
const (
	DefaultHub        = "localhost:8080"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultDeviceType = "laptop"
)

// Config holds client configuration.
type Config struct {
	// Hub is the host[:port] of the signaling server.
	Hub string

	// WebSocketURL and APIBaseURL are constructed from Hub.
	WebSocketURL string
	APIBaseURL   string

	// Device identity announced on register.
	DeviceID   string
	DeviceName string
	DeviceType string

	// STUNServer is the rendezvous server for NAT traversal.
	STUNServer string

	// OutputDir is where received files are saved.
	OutputDir string
}

// Options for loading config with CLI flag overrides.
type Options struct {
	Hub        string
	DeviceID   string
	DeviceName string
	DeviceType string
	STUNServer string
	OutputDir  string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	hub := opts.Hub
	if hub == "" {
		hub = os.Getenv("WEBTRANSFER_HUB")
	}
	if hub == "" {
		hub = DefaultHub
	}

	stunServer := opts.STUNServer
	if stunServer == "" {
		stunServer = os.Getenv("STUN_SERVER")
	}
	if stunServer == "" {
		stunServer = DefaultSTUN
	}

	deviceName := opts.DeviceName
	if deviceName == "" {
		deviceName = os.Getenv("WEBTRANSFER_DEVICE_NAME")
	}
	if deviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "web-transfer"
		}
		deviceName = hostname
	}

	deviceType := opts.DeviceType
	if deviceType == "" {
		deviceType = DefaultDeviceType
	}

	deviceID := opts.DeviceID
	if deviceID == "" {
		deviceID = os.Getenv("WEBTRANSFER_DEVICE_ID")
	}
	if deviceID == "" {
		// Stable across runs on the same machine so transfer history
		// survives a restart of the client.
		deviceID = strings.ToLower(strings.ReplaceAll(deviceName, " ", "-"))
	}

	scheme, wsScheme := "http", "ws"
	if strings.HasPrefix(hub, "https://") {
		scheme, wsScheme = "https", "wss"
	}
	hub = strings.TrimPrefix(strings.TrimPrefix(hub, "https://"), "http://")

	if _, err := url.Parse(fmt.Sprintf("%s://%s", scheme, hub)); err != nil {
		return nil, fmt.Errorf("invalid hub address %q: %w", hub, err)
	}

	return &Config{
		Hub:          hub,
		WebSocketURL: fmt.Sprintf("%s://%s/ws", wsScheme, hub),
		APIBaseURL:   fmt.Sprintf("%s://%s/api", scheme, hub),
		DeviceID:     deviceID,
		DeviceName:   deviceName,
		DeviceType:   deviceType,
		STUNServer:   stunServer,
		OutputDir:    opts.OutputDir,
	}, nil
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}
