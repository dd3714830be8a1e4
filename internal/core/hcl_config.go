package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete dawnhost configuration
type Configuration struct {
	DataRoot  string         // Directory holding config, state and the sidecar's data
	Verbose   int            // Verbosity level
	Sidecar   SidecarConfig  // Companion server launch settings
	Health    HealthConfig   // Port probe settings
	Resources ResourceConfig // Host resource sampling settings
	API       APIConfig      // UI-facing HTTP API
}

// SidecarConfig describes the companion executable and how to run it
type SidecarConfig struct {
	Name        string            // Executable file name inside Dir
	Dir         string            // Directory containing the executable and its digest file
	Port        int               // TCP port the sidecar listens on
	Algorithm   string            // Digest algorithm: "sha256" (default), "blake2b" or "blake3"
	Args        []string          // Extra command line arguments
	Environment map[string]string // Extra environment variables
	StopTimeout time.Duration     // Grace period between SIGTERM and SIGKILL
}

// ExecutablePath returns the full path of the sidecar executable
func (s SidecarConfig) ExecutablePath() string {
	return filepath.Join(s.Dir, s.Name)
}

// HealthConfig controls the sidecar port probe
type HealthConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ResourceConfig controls host resource sampling and the throttling thresholds
type ResourceConfig struct {
	Interval             time.Duration
	CPUThreshold         float64 // Percent; usage above this throttles
	TemperatureThreshold float64 // Celsius; CPU temperature above this throttles
	BatteryThreshold     float64 // Percent; below this on battery power throttles
}

// APIConfig controls the loopback HTTP API used by the UI layer
type APIConfig struct {
	Listen  string // Listen address, empty disables the API
	Metrics bool   // Serve /metrics on the same listener
}

// HCL parsing structs

type hclConfig struct {
	Verbose   int           `hcl:"verbose,optional"`
	Sidecar   *hclSidecar   `hcl:"sidecar,block"`
	Health    *hclHealth    `hcl:"health,block"`
	Resources *hclResources `hcl:"resources,block"`
	API       *hclAPI       `hcl:"api,block"`
}

type hclSidecar struct {
	Name        string            `hcl:"name,optional"`
	Dir         string            `hcl:"dir,optional"`
	Port        int               `hcl:"port,optional"`
	Algorithm   string            `hcl:"algorithm,optional"`
	Args        []string          `hcl:"args,optional"`
	Environment map[string]string `hcl:"environment,optional"`
	StopTimeout string            `hcl:"stop_timeout,optional"`
}

type hclHealth struct {
	Interval string `hcl:"interval,optional"`
	Timeout  string `hcl:"timeout,optional"`
}

type hclResources struct {
	Interval             string   `hcl:"interval,optional"`
	CPUThreshold         *float64 `hcl:"cpu_threshold,optional"`
	TemperatureThreshold *float64 `hcl:"temperature_threshold,optional"`
	BatteryThreshold     *float64 `hcl:"battery_threshold,optional"`
}

type hclAPI struct {
	Listen  string `hcl:"listen,optional"`
	Metrics *bool  `hcl:"metrics,optional"`
}

// LoadConfig loads the HCL configuration file on top of the defaults
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	if err := hclsimple.DecodeFile(filename, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.DataRoot = filepath.Dir(filename)
	cfg.Verbose = hclCfg.Verbose

	if s := hclCfg.Sidecar; s != nil {
		if s.Name != "" {
			cfg.Sidecar.Name = s.Name
		}
		if s.Dir != "" {
			cfg.Sidecar.Dir = expandPath(s.Dir)
		}
		if s.Port != 0 {
			if s.Port < 1 || s.Port > 65535 {
				return nil, fmt.Errorf("sidecar port %d out of range", s.Port)
			}
			cfg.Sidecar.Port = s.Port
		}
		if s.Algorithm != "" {
			cfg.Sidecar.Algorithm = s.Algorithm
		}
		cfg.Sidecar.Args = s.Args
		if s.Environment != nil {
			cfg.Sidecar.Environment = s.Environment
		}
		if err := parseDuration("sidecar.stop_timeout", s.StopTimeout, &cfg.Sidecar.StopTimeout); err != nil {
			return nil, err
		}
	}

	if h := hclCfg.Health; h != nil {
		if err := parseDuration("health.interval", h.Interval, &cfg.Health.Interval); err != nil {
			return nil, err
		}
		if err := parseDuration("health.timeout", h.Timeout, &cfg.Health.Timeout); err != nil {
			return nil, err
		}
	}

	if r := hclCfg.Resources; r != nil {
		if err := parseDuration("resources.interval", r.Interval, &cfg.Resources.Interval); err != nil {
			return nil, err
		}
		if r.CPUThreshold != nil {
			cfg.Resources.CPUThreshold = *r.CPUThreshold
		}
		if r.TemperatureThreshold != nil {
			cfg.Resources.TemperatureThreshold = *r.TemperatureThreshold
		}
		if r.BatteryThreshold != nil {
			cfg.Resources.BatteryThreshold = *r.BatteryThreshold
		}
	}

	if a := hclCfg.API; a != nil {
		cfg.API.Listen = a.Listen
		if a.Metrics != nil {
			cfg.API.Metrics = *a.Metrics
		}
	}

	return cfg, nil
}

// LoadConfigFromDataRoot reads config.hcl from the data root, falling back to
// defaults when the file does not exist
func LoadConfigFromDataRoot(dataRoot string) (*Configuration, error) {
	path := filepath.Join(dataRoot, ConfigFileName)
	if !ConfigExists(path) {
		cfg := GetDefaultConfig()
		cfg.DataRoot = dataRoot
		return cfg, nil
	}
	return LoadConfig(path)
}

// parseDuration parses value into dst, leaving dst untouched when value is empty
func parseDuration(key, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid duration for %s: must be positive", key)
	}
	*dst = d
	return nil
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		DataRoot: ResolveDataRoot(),
		Sidecar: SidecarConfig{
			Name:        DefaultSidecarName(),
			Dir:         defaultSidecarDir(),
			Port:        8000,
			Algorithm:   "sha256",
			Environment: make(map[string]string),
			StopTimeout: 5 * time.Second,
		},
		Health: HealthConfig{
			Interval: 5 * time.Second,
			Timeout:  2 * time.Second,
		},
		Resources: ResourceConfig{
			Interval:             5 * time.Second,
			CPUThreshold:         70,
			TemperatureThreshold: 85,
			BatteryThreshold:     30,
		},
	}
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}
