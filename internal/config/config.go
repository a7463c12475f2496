// Package config defines the configuration surface spec §6 describes and
// loads it from a YAML file layered with environment-variable overrides
// (SPEC_FULL §5 "Configuration").
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/watertreat/scada-core/internal/armanager"
	"github.com/watertreat/scada-core/internal/gateway"
	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/modbus"
	"github.com/watertreat/scada-core/internal/regmap"
)

// SlotConfig is one configured submodule of an RTU, as written in YAML.
type SlotConfig struct {
	Slot           uint16 `yaml:"slot"`
	Subslot        uint16 `yaml:"subslot"`
	Direction      string `yaml:"direction"` // "input" | "output"
	ModuleIdent    uint32 `yaml:"module_ident"`
	SubmoduleIdent uint32 `yaml:"submodule_ident"`
	CyclicLength   uint16 `yaml:"cyclic_length"`
	Measurement    string `yaml:"measurement"` // "analog" | "digital" | "actuator_on_off_pwm"
	Description    string `yaml:"description"`
}

// RTUConfig is one configured device (spec §6 "list of RTU configurations").
type RTUConfig struct {
	StationName    string       `yaml:"station_name"`
	DeviceMAC      string       `yaml:"device_mac"` // "aa:bb:cc:dd:ee:ff"
	DeviceIP       string       `yaml:"device_ip"`  // dotted-quad
	WatchdogMs     uint32       `yaml:"watchdog_ms"`
	DeviceProfile  string       `yaml:"device_profile"` // reference only; no GSDML parser in scope
	Slots          []SlotConfig `yaml:"slots"`
}

// ResilientConnectConfig mirrors armanager.ConnectPolicy in wire-friendly
// (millisecond) units (spec §6 "resilient-connect options").
type ResilientConnectConfig struct {
	MaxAttempts          int  `yaml:"max_attempts"`
	BaseDelayMs          int  `yaml:"base_delay_ms"`
	MaxDelayMs           int  `yaml:"max_delay_ms"`
	EnableNameVariations bool `yaml:"enable_name_variations"`
	EnableMinimalConfig  bool `yaml:"enable_minimal_config"`
	EnableRediscovery    bool `yaml:"enable_rediscovery"`
}

// ToPolicy converts to the armanager runtime type, falling back to
// armanager.DefaultConnectPolicy for any zero-valued numeric field.
func (c ResilientConnectConfig) ToPolicy() armanager.ConnectPolicy {
	p := armanager.DefaultConnectPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(c.BaseDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	p.EnableNameVariations = c.EnableNameVariations
	p.EnableMinimalConfig = c.EnableMinimalConfig
	p.EnableRediscovery = c.EnableRediscovery
	return p
}

// ModbusTCPConfig is the Modbus TCP server's configuration (spec §6).
type ModbusTCPConfig struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	TimeoutMs      int    `yaml:"timeout_ms"`
}

func (c ModbusTCPConfig) ToTCPConfig() modbus.TCPConfig {
	return modbus.TCPConfig{
		BindAddress:    c.BindAddress,
		Port:           c.Port,
		MaxConnections: c.MaxConnections,
		TimeoutMs:      c.TimeoutMs,
	}
}

// ModbusRTUConfig is the Modbus RTU server's configuration (spec §6).
type ModbusRTUConfig struct {
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	Parity   string `yaml:"parity"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	SlaveID  byte   `yaml:"slave_id"`
}

func (c ModbusRTUConfig) ToRTUConfig() modbus.RTUConfig {
	return modbus.RTUConfig{
		Device:   c.Device,
		Baud:     c.Baud,
		Parity:   c.Parity,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		SlaveID:  c.SlaveID,
	}
}

// DownstreamClientConfig is one polled downstream Modbus slave (spec §6
// "downstream Modbus client list").
type DownstreamClientConfig struct {
	Name           string `yaml:"name"`
	Transport      string `yaml:"transport"` // "tcp" | "rtu"
	Address        string `yaml:"address"`   // host:port for tcp, device path for rtu
	UnitID         byte   `yaml:"unit_id"`
	StartAddr      uint16 `yaml:"start_addr"`
	Quantity       uint16 `yaml:"quantity"`
	PollIntervalMs uint32 `yaml:"poll_interval_ms"`
	Enabled        bool   `yaml:"enabled"`
}

func (c DownstreamClientConfig) ToDownstreamConfig() gateway.DownstreamConfig {
	return gateway.DownstreamConfig{
		Name:           c.Name,
		UnitID:         c.UnitID,
		StartAddr:      c.StartAddr,
		Quantity:       c.Quantity,
		PollIntervalMs: c.PollIntervalMs,
		Enabled:        c.Enabled,
	}
}

// SimSignalConfig is one simulated sensor signal (spec §4.6).
type SimSignalConfig struct {
	Station        string  `yaml:"station"`
	Slot           uint16  `yaml:"slot"`
	Subslot        uint16  `yaml:"subslot"`
	Bias           float64 `yaml:"bias"`
	Amplitude      float64 `yaml:"amplitude"`
	PeriodSeconds  float64 `yaml:"period_seconds"`
	NoiseStdDev    float64 `yaml:"noise_stddev"`
	TrendPerSecond float64 `yaml:"trend_per_second"`
	Min            float64 `yaml:"min"`
	Max            float64 `yaml:"max"`
	AlarmLow       float64 `yaml:"alarm_low"`
	AlarmHigh      float64 `yaml:"alarm_high"`
}

// SimulationConfig toggles simulation mode in place of the live raw-Ethernet
// cyclic exchange (spec §4.6 "interchangeable ... behind the registry
// interface").
type SimulationConfig struct {
	Enabled    bool              `yaml:"enabled"`
	TickMs     int               `yaml:"tick_ms"`
	Signals    []SimSignalConfig `yaml:"signals"`
}

// RegisterMapConfig controls how the register map is sourced (spec §6
// "register-map file path (optional; auto-generate if absent...)").
type RegisterMapConfig struct {
	Path         string `yaml:"path"`
	AutoGenerate bool   `yaml:"auto_generate"`
	SensorBase   uint16 `yaml:"sensor_base"`
	ActuatorBase uint16 `yaml:"actuator_base"`
	Strict       bool   `yaml:"strict_addressing"`
}

// Config is the top-level configuration record the core accepts (spec §6).
type Config struct {
	ControllerMAC    string                    `yaml:"controller_mac"`
	ControllerIP     string                    `yaml:"controller_ip"` // optional; derived if empty
	Interface        string                    `yaml:"interface"`
	InterfaceIndex   int                       `yaml:"interface_index"`
	CyclePeriodMs    int                       `yaml:"cycle_period_ms"`
	RTUs             []RTUConfig               `yaml:"rtus"`
	ResilientConnect ResilientConnectConfig    `yaml:"resilient_connect"`
	ModbusTCP        ModbusTCPConfig           `yaml:"modbus_tcp"`
	ModbusRTU        ModbusRTUConfig           `yaml:"modbus_rtu"`
	Downstream       []DownstreamClientConfig  `yaml:"downstream"`
	RegisterMap      RegisterMapConfig         `yaml:"register_map"`
	Simulation       SimulationConfig          `yaml:"simulation"`
	LogLevel         string                    `yaml:"log_level"`
}

// ParseMAC parses a colon-separated MAC address string into the wire form.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, fmt.Errorf("config: invalid MAC %q: %w", s, err)
	}
	if len(hw) != 6 {
		return mac, fmt.Errorf("config: MAC %q is not 6 bytes", s)
	}
	copy(mac[:], hw)
	return mac, nil
}

// ParseIPv4 parses a dotted-quad string into model.IPv4 (network order).
func ParseIPv4(s string) (model.IPv4, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return model.IPv4{}, fmt.Errorf("config: invalid IPv4 %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return model.IPv4{}, fmt.Errorf("config: %q is not an IPv4 address", s)
	}
	return model.IPv4FromBytes([4]byte(v4)), nil
}

func parseDirection(s string) (model.Direction, error) {
	switch strings.ToLower(s) {
	case "input", "":
		return model.DirectionInput, nil
	case "output":
		return model.DirectionOutput, nil
	default:
		return 0, fmt.Errorf("config: unknown slot direction %q", s)
	}
}

func parseMeasurement(s string) model.MeasurementType {
	switch strings.ToLower(s) {
	case "analog":
		return model.MeasurementAnalog
	case "digital":
		return model.MeasurementDigital
	case "actuator_on_off_pwm":
		return model.MeasurementActuatorOnOffPWM
	default:
		return model.MeasurementUnknown
	}
}

// ToDeviceConfig converts one configured RTU into the model type the AR
// manager consumes, validating the MAC/IP/slot fields along the way.
func (c RTUConfig) ToDeviceConfig() (model.DeviceConfig, error) {
	mac, err := ParseMAC(c.DeviceMAC)
	if err != nil {
		return model.DeviceConfig{}, err
	}
	ip, err := ParseIPv4(c.DeviceIP)
	if err != nil {
		return model.DeviceConfig{}, err
	}

	slots := make([]model.Slot, 0, len(c.Slots))
	for _, sc := range c.Slots {
		dir, err := parseDirection(sc.Direction)
		if err != nil {
			return model.DeviceConfig{}, fmt.Errorf("config: station %s slot %d/%d: %w", c.StationName, sc.Slot, sc.Subslot, err)
		}
		slots = append(slots, model.Slot{
			Address:        model.SlotAddress{Slot: sc.Slot, Subslot: sc.Subslot},
			Direction:      dir,
			ModuleIdent:    sc.ModuleIdent,
			SubmoduleIdent: sc.SubmoduleIdent,
			CyclicLength:   sc.CyclicLength,
			Measurement:    parseMeasurement(sc.Measurement),
			Description:    sc.Description,
		})
	}

	return model.DeviceConfig{
		StationName: c.StationName,
		MAC:         mac,
		IP:          ip,
		Slots:       slots,
		WatchdogMs:  c.WatchdogMs,
	}, nil
}

// ToDeviceConfigs converts every configured RTU, stopping at the first error.
func (c *Config) ToDeviceConfigs() ([]model.DeviceConfig, error) {
	out := make([]model.DeviceConfig, 0, len(c.RTUs))
	for _, rtu := range c.RTUs {
		dev, err := rtu.ToDeviceConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, nil
}

// ToGenerateOptions converts the register-map auto-generation addresses.
func (c RegisterMapConfig) ToGenerateOptions() regmap.GenerateOptions {
	return regmap.GenerateOptions{SensorBase: c.SensorBase, ActuatorBase: c.ActuatorBase}
}

// ResolvedControllerIP returns the configured controller IP, or the
// `.1`-on-device's-/24 heuristic derived from the first configured device if
// unset (spec §6 "controller IP (optional; auto-derived as .1 ...)").
func (c *Config) ResolvedControllerIP(devices []model.DeviceConfig) (model.IPv4, error) {
	if c.ControllerIP != "" {
		return ParseIPv4(c.ControllerIP)
	}
	if len(devices) == 0 {
		return model.IPv4{}, fmt.Errorf("config: cannot derive controller IP with no configured devices")
	}
	return devices[0].IP.DerivedControllerIP(), nil
}
