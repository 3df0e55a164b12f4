// Package config holds the Agent's environment-driven runtime settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the Agent's fully resolved runtime configuration, read once at
// startup from environment variables only; cmd/agent defines no flags that
// override them.
type Config struct {
	Hostname    string
	WireguardIP string
	PublicIP    string

	ControllerURL string
	ListenIP      string
	AgentAPIPort  int

	BufferSize          int
	ConnectionTimeout   time.Duration
	HeartbeatInterval   time.Duration
	StatsBatchSize      int
	StatsReportInterval time.Duration
	SyncInterval        time.Duration

	LogLevel string
}

// Load builds a Config from environment variables, applying the documented
// defaults. Hostname and WireguardIP are required.
func Load() (Config, error) {
	cfg := Config{
		Hostname:            envOrDefault("HOSTNAME", ""),
		WireguardIP:         envOrDefault("WIREGUARD_IP", ""),
		PublicIP:            envOrDefault("PUBLIC_IP", ""),
		ControllerURL:       envOrDefault("CONTROLLER_URL", "http://localhost:8001"),
		ListenIP:            envOrDefault("LISTEN_IP", "0.0.0.0"),
		AgentAPIPort:        envOrDefaultInt("AGENT_API_PORT", 8002),
		BufferSize:          envOrDefaultInt("BUFFER_SIZE", 8192),
		ConnectionTimeout:   envOrDefaultSeconds("CONNECTION_TIMEOUT", 10),
		HeartbeatInterval:   envOrDefaultSeconds("HEARTBEAT_INTERVAL", 30),
		StatsBatchSize:      envOrDefaultInt("STATS_BATCH_SIZE", 100),
		StatsReportInterval: envOrDefaultSeconds("STATS_REPORT_INTERVAL", 60),
		SyncInterval:        envOrDefaultSeconds("SYNC_INTERVAL", 30),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
	}

	if cfg.Hostname == "" {
		return Config{}, fmt.Errorf("config: HOSTNAME is required")
	}
	if cfg.WireguardIP == "" {
		return Config{}, fmt.Errorf("config: WIREGUARD_IP is required")
	}

	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envOrDefaultSeconds(key string, defaultSeconds int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}
