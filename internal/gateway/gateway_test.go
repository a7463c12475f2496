package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watertreat/scada-core/internal/gateway"
	"github.com/watertreat/scada-core/internal/model"
	"github.com/watertreat/scada-core/internal/modbus"
	"github.com/watertreat/scada-core/internal/regmap"
	"github.com/watertreat/scada-core/internal/registry"
)

func newTestGateway(t *testing.T) (*gateway.Gateway, *regmap.RegisterMap, registry.Registry) {
	t.Helper()
	rm := regmap.New()
	reg := registry.NewStore()
	gw := gateway.New(gateway.Options{RegisterMap: rm, Registry: reg})
	return gw, rm, reg
}

func fc03Request(start, qty uint16) []byte {
	return []byte{byte(modbus.FuncReadHoldingRegisters), byte(start >> 8), byte(start), byte(qty >> 8), byte(qty)}
}

func fc06Request(addr, value uint16) []byte {
	return []byte{byte(modbus.FuncWriteSingleRegister), byte(addr >> 8), byte(addr), byte(value >> 8), byte(value)}
}

// TestModbusReadThroughWorkedExample reproduces spec §8's example 4: address
// 100 -> holding, UINT16, PROFINET_SENSOR, rtu-tank-1 slot 1, scale raw 0..14
// -> eng 0..14000. Registry sensor value 7.0. FC=0x03 start=100 qty=1 must
// return byte_count=2, payload 0x1B 0x58 (7000 decimal).
func TestModbusReadThroughWorkedExample(t *testing.T) {
	gw, rm, reg := newTestGateway(t)
	slot := model.SlotAddress{Slot: 1, Subslot: 1}
	require.NoError(t, rm.AddRegister(regmap.RegisterMapping{
		Address: 100, RegisterType: regmap.Holding, DataType: regmap.UInt16, Count: 1,
		Source:  regmap.ProfinetSensor,
		Linkage: regmap.Linkage{Station: "rtu-tank-1", Slot: slot},
		Scaling: regmap.Scaling{Enabled: true, RawMin: 0, RawMax: 14, EngMin: 0, EngMax: 14000},
		Enabled: true,
	}))
	require.NoError(t, reg.UpdateSensor(model.StationSlot{Station: "rtu-tank-1", Slot: slot}, model.SensorRecord{Value: 7.0, Quality: model.QualityGood}))

	resp := gw.Dispatch(gateway.TransportTCP, 1, fc03Request(100, 1))
	require.Len(t, resp, 4)
	assert.Equal(t, byte(modbus.FuncReadHoldingRegisters), resp[0])
	assert.Equal(t, byte(2), resp[1])
	assert.Equal(t, []byte{0x1B, 0x58}, resp[2:])
}

// TestModbusWriteThroughWorkedExample reproduces spec §8's example 5:
// address 200 -> holding, UINT16, PROFINET_ACTUATOR, rtu-tank-1 slot 9, not
// read-only. FC=0x06 value 0x0032 must drive pwm_duty=50, command=ON.
func TestModbusWriteThroughWorkedExample(t *testing.T) {
	gw, rm, reg := newTestGateway(t)
	slot := model.SlotAddress{Slot: 9, Subslot: 1}
	require.NoError(t, rm.AddRegister(regmap.RegisterMapping{
		Address: 200, RegisterType: regmap.Holding, DataType: regmap.UInt16, Count: 1,
		Source:  regmap.ProfinetActuator,
		Linkage: regmap.Linkage{Station: "rtu-tank-1", Slot: slot},
		Enabled: true,
	}))

	resp := gw.Dispatch(gateway.TransportTCP, 1, fc06Request(200, 0x0032))
	_, _, isExc := modbus.IsException(resp)
	require.False(t, isExc)

	rec, err := reg.GetActuator(model.StationSlot{Station: "rtu-tank-1", Slot: slot})
	require.NoError(t, err)
	assert.Equal(t, model.ActuatorOn, rec.Command)
	assert.Equal(t, uint8(50), rec.PWMDuty)
}

func TestReadHoldingRegistersQuantityZeroOrOverLimitExceeds(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	resp := gw.Dispatch(gateway.TransportTCP, 1, fc03Request(100, 0))
	fc, exc, isExc := modbus.IsException(resp)
	require.True(t, isExc)
	assert.Equal(t, modbus.FuncReadHoldingRegisters, fc)
	assert.Equal(t, modbus.ExcIllegalDataValue, exc)

	resp = gw.Dispatch(gateway.TransportTCP, 1, fc03Request(100, 126))
	_, exc, isExc = modbus.IsException(resp)
	require.True(t, isExc)
	assert.Equal(t, modbus.ExcIllegalDataValue, exc)
}

func TestWriteSingleRegisterToUnmappedAddressIsIllegalDataAddress(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	resp := gw.Dispatch(gateway.TransportTCP, 1, fc06Request(999, 1))
	_, exc, isExc := modbus.IsException(resp)
	require.True(t, isExc)
	assert.Equal(t, modbus.ExcIllegalDataAddress, exc)
}

func TestWriteSingleRegisterToReadOnlyMappingIsIllegalFunction(t *testing.T) {
	gw, rm, _ := newTestGateway(t)
	require.NoError(t, rm.AddRegister(regmap.RegisterMapping{
		Address: 300, RegisterType: regmap.Holding, DataType: regmap.UInt16,
		Source: regmap.ProfinetSensor, ReadOnly: true, Enabled: true,
	}))
	resp := gw.Dispatch(gateway.TransportTCP, 1, fc06Request(300, 1))
	_, exc, isExc := modbus.IsException(resp)
	require.True(t, isExc)
	assert.Equal(t, modbus.ExcIllegalFunction, exc)
}

func TestUnmappedReadHoleIsLenientZeroByDefault(t *testing.T) {
	gw, rm, reg := newTestGateway(t)
	slot := model.SlotAddress{Slot: 1, Subslot: 1}
	require.NoError(t, rm.AddRegister(regmap.RegisterMapping{
		Address: 100, RegisterType: regmap.Holding, DataType: regmap.UInt16,
		Source: regmap.ProfinetSensor, Linkage: regmap.Linkage{Station: "s1", Slot: slot}, Enabled: true,
	}))
	require.NoError(t, reg.UpdateSensor(model.StationSlot{Station: "s1", Slot: slot}, model.SensorRecord{Value: 5}))

	resp := gw.Dispatch(gateway.TransportTCP, 1, fc03Request(100, 2)) // 100 mapped, 101 a hole
	_, _, isExc := modbus.IsException(resp)
	require.False(t, isExc)
	assert.Equal(t, byte(4), resp[1])
	assert.Equal(t, []byte{0x00, 0x05, 0x00, 0x00}, resp[2:])
}

func TestStrictAddressingRaisesIllegalDataAddressOnHole(t *testing.T) {
	gw, rm, _ := newTestGateway(t)
	rm.SetStrictAddressing(true)
	resp := gw.Dispatch(gateway.TransportTCP, 1, fc03Request(500, 1))
	_, exc, isExc := modbus.IsException(resp)
	require.True(t, isExc)
	assert.Equal(t, modbus.ExcIllegalDataAddress, exc)
}

func TestUnknownFunctionCodeIsIllegalFunction(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	resp := gw.Dispatch(gateway.TransportTCP, 1, []byte{0x2B, 0x00})
	_, exc, isExc := modbus.IsException(resp)
	require.True(t, isExc)
	assert.Equal(t, modbus.ExcIllegalFunction, exc)
}

func TestPIDSourceWithoutWiringYieldsSlaveDeviceFailure(t *testing.T) {
	gw, rm, _ := newTestGateway(t)
	require.NoError(t, rm.AddRegister(regmap.RegisterMapping{
		Address: 700, RegisterType: regmap.Holding, DataType: regmap.UInt16,
		Source: regmap.PIDSetpoint, Linkage: regmap.Linkage{PIDLoopID: "loop-1"}, Enabled: true,
	}))
	resp := gw.Dispatch(gateway.TransportTCP, 1, fc03Request(700, 1))
	_, exc, isExc := modbus.IsException(resp)
	require.True(t, isExc)
	assert.Equal(t, modbus.ExcSlaveDeviceFailure, exc)
}

func TestWriteSingleCoilOnOff(t *testing.T) {
	gw, rm, reg := newTestGateway(t)
	slot := model.SlotAddress{Slot: 9, Subslot: 1}
	require.NoError(t, rm.AddCoil(regmap.CoilMapping{
		Address: 0, CoilType: regmap.Coil, Source: regmap.ProfinetActuator,
		Linkage: regmap.Linkage{Station: "s1", Slot: slot}, OnValue: 1, OffValue: 0, Enabled: true,
	}))

	resp := gw.Dispatch(gateway.TransportTCP, 1, []byte{byte(modbus.FuncWriteSingleCoil), 0x00, 0x00, 0xFF, 0x00})
	_, _, isExc := modbus.IsException(resp)
	require.False(t, isExc)
	rec, err := reg.GetActuator(model.StationSlot{Station: "s1", Slot: slot})
	require.NoError(t, err)
	assert.Equal(t, model.ActuatorOn, rec.Command)

	resp = gw.Dispatch(gateway.TransportTCP, 1, []byte{byte(modbus.FuncWriteSingleCoil), 0x00, 0x00, 0x00, 0x00})
	_, _, isExc = modbus.IsException(resp)
	require.False(t, isExc)
	rec, err = reg.GetActuator(model.StationSlot{Station: "s1", Slot: slot})
	require.NoError(t, err)
	assert.Equal(t, model.ActuatorOff, rec.Command)
}
