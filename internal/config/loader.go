package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// defaults are the values Load starts from before the YAML file and the
// environment overrides apply. Register-map auto-generation is on by
// default, and the controller IP is derived from a device's /24 when the
// file leaves it unset.
func defaults() Config {
	return Config{
		CyclePeriodMs: 32,
		ResilientConnect: ResilientConnectConfig{
			MaxAttempts:          10,
			BaseDelayMs:          1000,
			MaxDelayMs:           30000,
			EnableNameVariations: true,
			EnableMinimalConfig:  true,
			EnableRediscovery:    true,
		},
		ModbusTCP: ModbusTCPConfig{
			BindAddress:    "0.0.0.0",
			Port:           502,
			MaxConnections: 32,
			TimeoutMs:      5000,
		},
		ModbusRTU: ModbusRTUConfig{
			Baud:     19200,
			Parity:   "N",
			DataBits: 8,
			StopBits: 1,
			SlaveID:  1,
		},
		RegisterMap: RegisterMapConfig{
			AutoGenerate: true,
			SensorBase:   0,
			ActuatorBase: 1000,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML configuration file, applying viper-mediated environment
// variable overrides for the transport-facing fields an operator commonly
// needs to override per-deployment without editing the checked-in file
// (SCADA_MODBUS_TCP_PORT, SCADA_MODBUS_TCP_BIND_ADDRESS, SCADA_LOG_LEVEL).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	v := viper.New()
	v.SetEnvPrefix("scada")
	v.AutomaticEnv()
	if bind := v.GetString("modbus_tcp_bind_address"); bind != "" {
		cfg.ModbusTCP.BindAddress = bind
	}
	if port := v.GetInt("modbus_tcp_port"); port != 0 {
		cfg.ModbusTCP.Port = port
	}
	if level := v.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}

	return &cfg, nil
}

// Save writes cfg back out as YAML, used by `gen-regmap`-adjacent tooling
// and tests that round-trip a generated configuration.
func Save(path string, cfg *Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
