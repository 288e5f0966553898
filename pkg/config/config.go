// Package config provides YAML configuration support for the PDV tester.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VariatorMode selects a port/state-table sequence mode.
type VariatorMode string

const (
	ModeFixed        VariatorMode = "fixed"
	ModeIncreasing   VariatorMode = "increasing"
	ModeDecreasing   VariatorMode = "decreasing"
	ModePseudorandom VariatorMode = "pseudorandom"
)

// OutputFormat for results.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Config represents the full PDV tester configuration.
type Config struct {
	// Interface settings
	Interface    string `yaml:"interface"`
	LineRateMbps uint64 `yaml:"line_rate_mbps"` // not read by the tester; no auto-detection is done
	AutoDetect   bool   `yaml:"auto_detect_nic"`

	// Measurement
	FrameSize    uint32        `yaml:"frame_size"`
	FrameRate    uint64        `yaml:"frame_rate"` // frames/sec
	Duration     time.Duration `yaml:"duration"`
	GlobalTimeout time.Duration `yaml:"global_timeout"`

	// Stateful/stateless selection
	Stateful int `yaml:"stateful"` // 0 stateless, 1 initiator-left, 2 initiator-right

	// Port/destination variation
	Variator VariatorConfig `yaml:"variator"`

	// State table (stateful only)
	StateTable StateTableConfig `yaml:"state_table"`

	// Evaluator
	FrameTimeoutMs uint64  `yaml:"frame_timeout_ms"` // 0 = true PDV
	PenaltyMs      uint64  `yaml:"penalty_ms"`       // 0 = derive from duration+global_timeout
	Tolerance      float64 `yaml:"tolerance"`         // 0 = use DefaultTolerance

	// Background (NAT64) traffic
	Background BackgroundConfig `yaml:"background"`

	// Destination networks
	NumDestNets int `yaml:"num_dest_nets"`

	// Template pool
	PoolDepth int `yaml:"pool_depth"` // 0 = DefaultDepth

	// Output
	OutputFormat OutputFormat `yaml:"output_format"`
	Verbose      bool         `yaml:"verbose"`

	// Web UI
	WebUI WebUIConfig `yaml:"web_ui"`

	// TUI
	TUI bool `yaml:"tui"`
}

// VariatorConfig configures the RFC 4814 port variator for one side.
type VariatorConfig struct {
	SrcPortMode VariatorMode `yaml:"src_port_mode"`
	DstPortMode VariatorMode `yaml:"dst_port_mode"`
	SrcPortMin  uint16       `yaml:"src_port_min"`
	SrcPortMax  uint16       `yaml:"src_port_max"`
	DstPortMin  uint16       `yaml:"dst_port_min"`
	DstPortMax  uint16       `yaml:"dst_port_max"`
}

// StateTableConfig configures the shared 4-tuple state table.
type StateTableConfig struct {
	Capacity       int          `yaml:"capacity"`
	ResponderPorts VariatorMode `yaml:"responder_ports"` // fixed == "single tuple" mode
}

// BackgroundConfig configures the NAT64 complementary-IP-version traffic.
type BackgroundConfig struct {
	ForegroundM int    `yaml:"foreground_m"`
	ForegroundN int    `yaml:"foreground_n"`
	SrcIP       string `yaml:"src_ip"`
	DstIP       string `yaml:"dst_ip"`
}

// WebUIConfig for the live JSON status endpoint.
type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g., ":8080"
}

// DefaultConfig returns a configuration with sensible PDV-tester defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoDetect:    true,
		FrameSize:     64,
		FrameRate:     10000,
		Duration:      10 * time.Second,
		GlobalTimeout: 2 * time.Second,
		Stateful:      0,

		Variator: VariatorConfig{
			SrcPortMode: ModeFixed,
			DstPortMode: ModeFixed,
			SrcPortMin:  1024,
			SrcPortMax:  65535,
			DstPortMin:  1024,
			DstPortMax:  65535,
		},

		StateTable: StateTableConfig{
			Capacity:       1000,
			ResponderPorts: ModeFixed,
		},

		FrameTimeoutMs: 0,
		PenaltyMs:      0,
		Tolerance:      0,

		Background: BackgroundConfig{
			ForegroundM: 1,
			ForegroundN: 1,
		},

		NumDestNets: 1,
		PoolDepth:   0,

		OutputFormat: FormatText,
		Verbose:      false,

		WebUI: WebUIConfig{
			Enabled: false,
			Address: ":8080",
		},
	}
}

// Load reads configuration from a YAML file, filling unset fields from
// DefaultConfig and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks configuration for errors before any test runs.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("interface is required")
	}

	if c.Stateful < 0 || c.Stateful > 2 {
		return fmt.Errorf("stateful must be 0 (stateless), 1 (initiator left) or 2 (initiator right), got %d", c.Stateful)
	}

	if c.FrameSize == 0 {
		return fmt.Errorf("frame_size must be > 0")
	}
	if c.FrameRate == 0 {
		return fmt.Errorf("frame_rate must be > 0")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}

	// frame_timeout must be < 1000*duration + global_timeout (ms), 0 means
	// true PDV mode.
	maxTimeoutMs := uint64(1000*c.Duration.Seconds()) + uint64(c.GlobalTimeout.Milliseconds())
	if c.FrameTimeoutMs != 0 && c.FrameTimeoutMs >= maxTimeoutMs {
		return fmt.Errorf("frame_timeout_ms %d must be < 1000*duration+global_timeout (%d)", c.FrameTimeoutMs, maxTimeoutMs)
	}

	if c.NumDestNets < 1 || c.NumDestNets > 256 {
		return fmt.Errorf("num_dest_nets must be in [1,256], got %d", c.NumDestNets)
	}

	if c.Stateful != 0 {
		if c.StateTable.Capacity <= 0 {
			return fmt.Errorf("state_table.capacity must be > 0 for stateful tests")
		}
		if c.Background.ForegroundM <= 0 || c.Background.ForegroundN <= 0 || c.Background.ForegroundM > c.Background.ForegroundN {
			return fmt.Errorf("stateful tests require 0 < foreground_m <= foreground_n")
		}
	}

	switch c.Variator.SrcPortMode {
	case ModeFixed, ModeIncreasing, ModeDecreasing, ModePseudorandom:
	default:
		return fmt.Errorf("invalid variator.src_port_mode: %s", c.Variator.SrcPortMode)
	}
	switch c.Variator.DstPortMode {
	case ModeFixed, ModeIncreasing, ModeDecreasing, ModePseudorandom:
	default:
		return fmt.Errorf("invalid variator.dst_port_mode: %s", c.Variator.DstPortMode)
	}

	return nil
}
