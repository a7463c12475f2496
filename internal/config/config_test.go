package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/watertreat/scada-core/internal/config"
	"github.com/watertreat/scada-core/internal/model"
)

const sampleYAML = `
controller_mac: "aa:bb:cc:dd:ee:01"
interface: "eth0"
rtus:
  - station_name: "rtu-tank-1"
    device_mac: "aa:bb:cc:dd:ee:02"
    device_ip: "192.168.1.100"
    watchdog_ms: 100
    slots:
      - slot: 1
        subslot: 1
        direction: "input"
        measurement: "analog"
      - slot: 9
        subslot: 1
        direction: "output"
        measurement: "actuator_on_off_pwm"
register_map:
  auto_generate: true
`

func TestLoadParsesSampleConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scadad.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.RTUs) != 1 || cfg.RTUs[0].StationName != "rtu-tank-1" {
		t.Fatalf("unexpected RTUs: %+v", cfg.RTUs)
	}
	if cfg.ModbusTCP.Port != 502 {
		t.Fatalf("expected default modbus_tcp.port 502, got %d", cfg.ModbusTCP.Port)
	}
	if !cfg.RegisterMap.AutoGenerate {
		t.Fatal("expected auto_generate to be true")
	}

	if errs := config.Validate(cfg); len(errs) != 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
}

func TestValidateCatchesDuplicateStationNames(t *testing.T) {
	cfg := &config.Config{
		ControllerMAC: "aa:bb:cc:dd:ee:01",
		RTUs: []config.RTUConfig{
			{StationName: "rtu-tank-1", DeviceMAC: "aa:bb:cc:dd:ee:02", DeviceIP: "192.168.1.100"},
			{StationName: "rtu-tank-1", DeviceMAC: "aa:bb:cc:dd:ee:03", DeviceIP: "192.168.1.101"},
		},
	}
	errs := config.Validate(cfg)
	if len(errs) == 0 {
		t.Fatal("expected a duplicate station_name error")
	}
}

func TestValidateCatchesSlotCollision(t *testing.T) {
	cfg := &config.Config{
		ControllerMAC: "aa:bb:cc:dd:ee:01",
		RTUs: []config.RTUConfig{{
			StationName: "rtu-tank-1",
			DeviceMAC:   "aa:bb:cc:dd:ee:02",
			DeviceIP:    "192.168.1.100",
			Slots: []config.SlotConfig{
				{Slot: 1, Subslot: 1, Direction: "input"},
				{Slot: 1, Subslot: 1, Direction: "output"},
			},
		}},
	}
	errs := config.Validate(cfg)
	if len(errs) == 0 {
		t.Fatal("expected a slot collision error")
	}
}

func TestValidateRequiresRegisterMapPathWithoutAutoGenerate(t *testing.T) {
	cfg := &config.Config{
		ControllerMAC: "aa:bb:cc:dd:ee:01",
		RegisterMap:   config.RegisterMapConfig{AutoGenerate: false},
	}
	errs := config.Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Error() == "register_map.path is required when auto_generate is false" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected register_map.path error, got %v", errs)
	}
}

func TestResolvedControllerIPDerivesFromFirstDevice(t *testing.T) {
	cfg := &config.Config{}
	rtu := config.RTUConfig{StationName: "rtu-tank-1", DeviceMAC: "aa:bb:cc:dd:ee:02", DeviceIP: "192.168.1.100"}
	dev, err := rtu.ToDeviceConfig()
	if err != nil {
		t.Fatal(err)
	}

	ip, err := cfg.ResolvedControllerIP([]model.DeviceConfig{dev})
	if err != nil {
		t.Fatalf("ResolvedControllerIP: %v", err)
	}
	if ip.String() != "192.168.1.1" {
		t.Fatalf("derived controller IP = %s, want 192.168.1.1", ip.String())
	}
}
