// Package config loads the head unit's YAML configuration and applies
// local .env overrides for the small set of values that legitimately
// vary per physical unit (accessory URI/serial).
package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full head-unit configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Identity    IdentityConfig    `yaml:"identity"`
	TLS         TLSConfig         `yaml:"tls"`
	ServiceInfo ServiceInfoConfig `yaml:"service_info"`
	Redis       RedisConfig       `yaml:"redis"`
	Audit       AuditConfig       `yaml:"audit"`
}

// ServerConfig configures the internal/api control-plane listeners.
type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`
	GRPCPort string `yaml:"grpc_port"`
	Env      string `yaml:"env"`
}

// IdentityConfig is the accessory string table sent during the AOAP
// query chain. URI and Serial are the two fields that vary per unit
// and are overridable via a local .env file.
type IdentityConfig struct {
	URI    string `yaml:"uri"`
	Serial string `yaml:"serial"`
}

// TLSConfig points at the head unit's control-channel identity. Exactly
// one of the two loading paths is used; CertPath/KeyPath takes
// precedence when both are set.
type TLSConfig struct {
	CertPath   string `yaml:"cert_path"`
	KeyPath    string `yaml:"key_path"`
	PKCS12Path string `yaml:"pkcs12_path"`
	PKCS12Pass string `yaml:"pkcs12_password"`
}

// ServiceInfoConfig is the head unit description sent in
// ServiceDiscoveryResponse.
type ServiceInfoConfig struct {
	Make      string       `yaml:"make"`
	Model     string       `yaml:"model"`
	SWBuild   string       `yaml:"sw_build"`
	SWVersion string       `yaml:"sw_version"`
	Audio     AudioConfig  `yaml:"audio"`
	Video     []VideoMode  `yaml:"video_modes"`
	Input     InputConfig  `yaml:"input"`
	Bluetooth string       `yaml:"bluetooth_address"`
}

// AudioConfig describes the media/speech audio format offered to the phone.
type AudioConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	BitDepth     int `yaml:"bit_depth"`
	ChannelCount int `yaml:"channel_count"`
}

// VideoMode describes one video resolution/refresh-rate configuration
// offered in ServiceDiscoveryResponse; the vehicle's screen may support
// more than one.
type VideoMode struct {
	Width         int `yaml:"width"`
	Height        int `yaml:"height"`
	FPS           int `yaml:"fps"`
	DPI           int `yaml:"dpi"`
	MarginWidth   int `yaml:"margin_width"`
	MarginHeight  int `yaml:"margin_height"`
}

// InputConfig describes the touchscreen's reporting geometry.
type InputConfig struct {
	TouchWidth  int   `yaml:"touch_width"`
	TouchHeight int   `yaml:"touch_height"`
	Keycodes    []int `yaml:"keycodes"`
}

// RedisConfig points the eventbus at a Redis instance for cross-process
// fan-out; leaving Addr empty means the head unit runs with only an
// in-process LocalBus.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// AuditConfig points internal/audit at a Postgres instance; leaving DSN
// empty disables audit logging entirely.
type AuditConfig struct {
	DSN string `yaml:"dsn"`
}

// LoadConfig reads the YAML config at path, then applies AACORE_-
// prefixed environment overrides sourced from a local .env file (if
// present) for the fields that vary per physical unit.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides loads a local .env (silently skipped if absent) and
// overrides the identity URI/serial when the corresponding variables
// are set, matching how the teacher stack layers per-environment
// secrets on top of its base YAML config.
func applyEnvOverrides(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("AACORE_IDENTITY_URI"); v != "" {
		cfg.Identity.URI = v
	}
	if v := os.Getenv("AACORE_IDENTITY_SERIAL"); v != "" {
		cfg.Identity.Serial = v
	}
}
