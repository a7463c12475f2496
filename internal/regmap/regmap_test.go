package regmap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/regmap"
)

func TestScalingRoundTrip(t *testing.T) {
	// spec §8 worked example: raw 0..14 -> eng 0..14000, registry value 7.0 -> 7000.
	s := regmap.Scaling{Enabled: true, RawMin: 0, RawMax: 14, EngMin: 0, EngMax: 14000}
	eng := s.ToEngineering(7.0)
	assert.InDelta(t, 7000.0, eng, 0.001)
	assert.InDelta(t, 7.0, s.ToRaw(eng), 0.001)
}

func TestScalingDisabledIsIdentity(t *testing.T) {
	s := regmap.Scaling{}
	assert.Equal(t, 5.0, s.ToEngineering(5.0))
	assert.Equal(t, 5.0, s.ToRaw(5.0))
}

func TestFloat32RoundTrip(t *testing.T) {
	words, err := regmap.EncodeValue(regmap.Float32BE, 42.5)
	require.NoError(t, err)
	got, err := regmap.DecodeValue(regmap.Float32BE, words)
	require.NoError(t, err)
	assert.InDelta(t, 42.5, got, 0.0001)
}

func TestUInt16EncodeMatchesWorkedExample(t *testing.T) {
	// spec §8: FC=0x03 start=100 qty=1 on a scaled sensor returns byte_count=2,
	// payload 0x1B 0x58 (7000 decimal).
	words, err := regmap.EncodeValue(regmap.UInt16, 7000)
	require.NoError(t, err)
	b := regmap.WordsToBytes(words)
	assert.Equal(t, []byte{0x1B, 0x58}, b)
}

func TestRegisterMapRejectsDuplicateAddress(t *testing.T) {
	m := regmap.New()
	reg := regmap.RegisterMapping{Address: 100, RegisterType: regmap.Holding, DataType: regmap.UInt16, Enabled: true}
	require.NoError(t, m.AddRegister(reg))
	err := m.AddRegister(reg)
	assert.Error(t, err)
}

func TestRegisterMapAllowsSameAddressDifferentType(t *testing.T) {
	m := regmap.New()
	require.NoError(t, m.AddRegister(regmap.RegisterMapping{Address: 100, RegisterType: regmap.Holding, DataType: regmap.UInt16}))
	require.NoError(t, m.AddRegister(regmap.RegisterMapping{Address: 100, RegisterType: regmap.Input, DataType: regmap.UInt16}))
}

func TestGenerateAssignsSequentialAddresses(t *testing.T) {
	dev := model.DeviceConfig{
		StationName: "rtu-tank-1",
		Slots: []model.Slot{
			{Address: model.SlotAddress{Slot: 0, Subslot: 1}},
			{Address: model.SlotAddress{Slot: 1, Subslot: 1}, Direction: model.DirectionInput},
			{Address: model.SlotAddress{Slot: 9, Subslot: 1}, Direction: model.DirectionOutput},
		},
	}
	m := regmap.Generate(dev, regmap.GenerateOptions{SensorBase: 0, ActuatorBase: 200})

	regs := m.Registers()
	require.Len(t, regs, 2)
	coils := m.Coils()
	require.Len(t, coils, 1)

	sensorReg, ok := m.FindRegister(0, regmap.Input)
	require.True(t, ok)
	assert.Equal(t, regmap.Float32BE, sensorReg.DataType)

	actuatorReg, ok := m.FindRegister(200, regmap.Holding)
	require.True(t, ok)
	assert.Equal(t, regmap.ProfinetActuator, actuatorReg.Source)

	coil, ok := m.FindCoil(0, regmap.Coil)
	require.True(t, ok)
	assert.Equal(t, "rtu-tank-1", coil.Linkage.Station)
}

func TestSaveLoadFileRoundTrip(t *testing.T) {
	m := regmap.New()
	require.NoError(t, m.AddRegister(regmap.RegisterMapping{
		Address: 100, RegisterType: regmap.Holding, DataType: regmap.UInt16, Count: 1,
		Source: regmap.ProfinetSensor, Linkage: regmap.Linkage{Station: "rtu-tank-1", Slot: model.SlotAddress{Slot: 1, Subslot: 1}},
		Scaling: regmap.Scaling{Enabled: true, RawMin: 0, RawMax: 14, EngMin: 0, EngMax: 14000},
		Enabled: true,
	}))
	require.NoError(t, m.AddCoil(regmap.CoilMapping{
		Address: 0, Source: regmap.ProfinetActuator,
		Linkage: regmap.Linkage{Station: "rtu-tank-1", Slot: model.SlotAddress{Slot: 9, Subslot: 1}},
		OnValue: 1, Enabled: true,
	}))

	dir := t.TempDir()
	path := filepath.Join(dir, "regmap.json")
	require.NoError(t, m.SaveFile(path))

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	loaded, err := regmap.LoadFile(path)
	require.NoError(t, err)
	regs := loaded.Registers()
	require.Len(t, regs, 1)
	assert.Equal(t, uint16(100), regs[0].Address)
	assert.True(t, regs[0].Scaling.Enabled)
	assert.InDelta(t, 14000.0, regs[0].Scaling.EngMax, 0.001)
}
