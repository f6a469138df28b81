package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Chips   []ChipConfig  `yaml:"chips"`
	Timing  TimingConfig  `yaml:"timing"`
	Logging LoggingConfig `yaml:"logging"`
	Mock    MockConfig    `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port       string `yaml:"port"`
	BaudRate   int    `yaml:"baud_rate"`
	BufferSize int    `yaml:"buffer_size"` // Packets buffered between reads
}

// ChipConfig identifies one chip on the board.
type ChipConfig struct {
	ID      int `yaml:"id"`
	IOChain int `yaml:"io_chain"`
}

// TimingConfig contains the fixed windows used around every measurement.
type TimingConfig struct {
	QuickFlush        time.Duration `yaml:"quick_flush"`   // Short discard window before each sample
	SlowFlush         time.Duration `yaml:"slow_flush"`    // Long discard window when the quick one saw events
	SettleDelay       time.Duration `yaml:"settle_delay"`  // Pause around the slow flush
	PrepareFlush      time.Duration `yaml:"prepare_flush"` // Buffer clear before a sweep starts
	MaskSettle        time.Duration `yaml:"mask_settle"`   // Write-read window when disabling a noisy channel
	ConfigReadTimeout time.Duration `yaml:"config_read_timeout"`
}

// LoggingConfig contains logging parameters.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// MockConfig contains simulated chip parameters.
type MockConfig struct {
	Seed           int64   `yaml:"seed"`
	Pedestal       float64 `yaml:"pedestal"`        // Effective threshold at which a channel fires at half rate
	PedestalSpread float64 `yaml:"pedestal_spread"` // Pedestal offset step between neighbouring channels
	Width          float64 `yaml:"width"`           // Logistic width of the rate turn-on
	TrimWeight     float64 `yaml:"trim_weight"`     // Threshold units per trim unit
	MaxRate        float64 `yaml:"max_rate"`        // Events per second at full noise
	NoisyChannels  []int   `yaml:"noisy_channels"`
	NoisyRate      float64 `yaml:"noisy_rate"` // Events per second on a noisy channel regardless of threshold
	PulseGain      float64 `yaml:"pulse_gain"` // Threshold units per DAC step of injected charge
	Realtime       bool    `yaml:"realtime"`   // Sleep for capture windows instead of returning immediately
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:       "/dev/ttyUSB1",
			BaudRate:   1000000,
			BufferSize: 65536,
		},
		Chips: []ChipConfig{
			{ID: 0, IOChain: 0},
		},
		Timing: TimingConfig{
			QuickFlush:        100 * time.Millisecond,
			SlowFlush:         2 * time.Second,
			SettleDelay:       200 * time.Millisecond,
			PrepareFlush:      5 * time.Second,
			MaskSettle:        1 * time.Second,
			ConfigReadTimeout: 1 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Mock: MockConfig{
			Seed:           1,
			Pedestal:       30,
			PedestalSpread: 0.25,
			Width:          0.8,
			TrimWeight:     0.25,
			MaxRate:        50000,
			NoisyRate:      200000,
			PulseGain:      1.5,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.BufferSize == 0 {
		c.Serial.BufferSize = def.Serial.BufferSize
	}

	if len(c.Chips) == 0 {
		c.Chips = def.Chips
	}

	c.Timing.ensureDefaults()

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}

	if c.Mock.Width == 0 {
		c.Mock.Width = def.Mock.Width
	}
	if c.Mock.MaxRate == 0 {
		c.Mock.MaxRate = def.Mock.MaxRate
	}
	if c.Mock.NoisyRate == 0 {
		c.Mock.NoisyRate = def.Mock.NoisyRate
	}
	if c.Mock.PulseGain == 0 {
		c.Mock.PulseGain = def.Mock.PulseGain
	}
}

func (t *TimingConfig) ensureDefaults() {
	def := Default().Timing

	if t.QuickFlush == 0 {
		t.QuickFlush = def.QuickFlush
	}
	if t.SlowFlush == 0 {
		t.SlowFlush = def.SlowFlush
	}
	if t.SettleDelay == 0 {
		t.SettleDelay = def.SettleDelay
	}
	if t.PrepareFlush == 0 {
		t.PrepareFlush = def.PrepareFlush
	}
	if t.MaskSettle == 0 {
		t.MaskSettle = def.MaskSettle
	}
	if t.ConfigReadTimeout == 0 {
		t.ConfigReadTimeout = def.ConfigReadTimeout
	}
}
