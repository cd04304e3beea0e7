// Package config loads and validates the application's YAML
// configuration, grounded on the teacher's config.go: a single root
// Config struct with nested per-component structs tagged for
// gopkg.in/yaml.v3, loaded once at startup and overridden by CLI flags
// (spec.md §1.1). No code in this module swaps or reloads the Config
// after startup.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/josevcm/nfc-laboratory-go/internal/errs"
)

// LoggingConfig controls internal/logx's root logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LogicDeviceConfig mirrors spec.md §3 "Device configuration" for the
// USB logic analyzer.
type LogicDeviceConfig struct {
	Enabled      bool     `yaml:"enabled"`
	FirmwarePath string   `yaml:"firmwarePath"`
	SampleRate   uint32   `yaml:"sampleRate"`
	Channels     []int    `yaml:"channels"`
	Vth          float64  `yaml:"vth"`
}

// RadioDeviceConfig mirrors spec.md §3 "Device configuration" for the
// SDR/IQ front end.
type RadioDeviceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	SampleRate uint32 `yaml:"sampleRate"`
}

// DevicesConfig groups both device sources.
type DevicesConfig struct {
	Logic LogicDeviceConfig `yaml:"logic"`
	Radio RadioDeviceConfig `yaml:"radio"`
}

// TechDecoderConfig is the per-technology correlator tuning schema from
// spec.md §6.
type TechDecoderConfig struct {
	Enabled               bool    `yaml:"enabled"`
	CorrelationThreshold  float64 `yaml:"correlationThreshold"`
	MinimumModulationDeep float64 `yaml:"minimumModulationDeep"`
	MaximumModulationDeep float64 `yaml:"maximumModulationDeep"`
}

// Iso7816Config toggles the contact decoder.
type Iso7816Config struct {
	Enabled bool `yaml:"enabled"`
}

// DecoderConfig groups all protocol decoders.
type DecoderConfig struct {
	NfcA    TechDecoderConfig `yaml:"nfca"`
	NfcB    TechDecoderConfig `yaml:"nfcb"`
	NfcF    TechDecoderConfig `yaml:"nfcf"`
	NfcV    TechDecoderConfig `yaml:"nfcv"`
	Iso7816 Iso7816Config     `yaml:"iso7816"`
}

// StorageConfig groups trace/capture storage defaults.
type StorageConfig struct {
	TraceDir   string `yaml:"traceDir"`
	CaptureDir string `yaml:"captureDir"`
	MqttBroker string `yaml:"mqttBroker"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// CLIConfig holds flag-sourced overrides applied on top of the YAML file;
// never itself serialized (yaml:"-").
type CLIConfig struct {
	Decode       bool
	ReadPath     string
	WriteDir     string
	PrintFrames  bool
	Vth          float64
	SampleRate   uint32
	Channels     string
	FirmwarePath string
}

// Config is the application's full, immutable-once-loaded configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Devices DevicesConfig `yaml:"devices"`
	Decoder DecoderConfig `yaml:"decoder"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	CLI     CLIConfig     `yaml:"-"`
}

// Default returns a Config with the spec's documented defaults.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Devices: DevicesConfig{
			Logic: LogicDeviceConfig{SampleRate: 100_000_000},
			Radio: RadioDeviceConfig{SampleRate: 10_000_000},
		},
		Decoder: DecoderConfig{
			NfcA: TechDecoderConfig{Enabled: true, CorrelationThreshold: 0.5, MinimumModulationDeep: 0.1, MaximumModulationDeep: 0.9},
		},
		Storage: StorageConfig{TraceDir: ".", CaptureDir: "."},
		Metrics: MetricsConfig{Enabled: true, Listen: ":9090"},
	}
}

// Load reads and parses a YAML file at path, merged over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrap(errs.InvalidInput, errs.FileOpenFailed, "read config file", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.Wrap(errs.Format, errs.InvalidStorageFormat, "parse config yaml", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations with inconsistent or out-of-range
// fields, returning a Policy-kind error.
func (c Config) Validate() error {
	if c.Devices.Logic.SampleRate == 0 {
		return errs.New(errs.Policy, errs.MissingParameters, "devices.logic.sampleRate must be > 0")
	}
	if c.Devices.Radio.SampleRate == 0 {
		return errs.New(errs.Policy, errs.MissingParameters, "devices.radio.sampleRate must be > 0")
	}
	return nil
}
