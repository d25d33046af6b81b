package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// ProfilesConfig holds the map of per-vehicle-trim overrides, keyed by
// profile name (e.g. "sedan-2024", "suv-2024-large-screen").
type ProfilesConfig struct {
	Profiles map[string]Config `yaml:"profiles"`
}

// Manager resolves the effective configuration for a given vehicle
// trim, merging that trim's overrides onto the base config. Different
// trims commonly ship different screen resolutions and touch
// geometries; this lets one binary and one base config file serve a
// whole vehicle lineup.
type Manager struct {
	base     *Config
	profiles map[string]Config
	mu       sync.RWMutex
}

// NewManager loads the base config and, if present, a profiles file
// with per-trim overrides. A missing profiles file is not an error —
// every trim then just gets the base config.
func NewManager(basePath, profilesPath string) (*Manager, error) {
	base, err := LoadConfig(basePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(profilesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{base: base, profiles: make(map[string]Config)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var pc ProfilesConfig
	if err := yaml.NewDecoder(f).Decode(&pc); err != nil {
		return nil, err
	}

	return &Manager{base: base, profiles: pc.Profiles}, nil
}

// Get returns the effective config for a vehicle trim, with that
// trim's non-zero override fields applied on top of the base config.
func (m *Manager) Get(profile string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.base

	override, ok := m.profiles[profile]
	if !ok {
		return &effective
	}

	if override.ServiceInfo.Make != "" || override.ServiceInfo.Model != "" {
		effective.ServiceInfo.Make = firstNonEmpty(override.ServiceInfo.Make, effective.ServiceInfo.Make)
		effective.ServiceInfo.Model = firstNonEmpty(override.ServiceInfo.Model, effective.ServiceInfo.Model)
	}
	if override.ServiceInfo.Audio.SampleRate != 0 {
		effective.ServiceInfo.Audio = override.ServiceInfo.Audio
	}
	if len(override.ServiceInfo.Video) > 0 {
		effective.ServiceInfo.Video = override.ServiceInfo.Video
	}
	if override.ServiceInfo.Input.TouchWidth != 0 {
		effective.ServiceInfo.Input = override.ServiceInfo.Input
	}
	if override.ServiceInfo.Bluetooth != "" {
		effective.ServiceInfo.Bluetooth = override.ServiceInfo.Bluetooth
	}
	if override.Identity.URI != "" || override.Identity.Serial != "" {
		effective.Identity = override.Identity
	}

	return &effective
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
