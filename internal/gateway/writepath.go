package gateway

import (
	"encoding/binary"

	"github.com/watertreat/scada-core/internal/modbus"
	"github.com/watertreat/scada-core/internal/regmap"
)

// writeSingleCoil answers FC 0x05: value 0xFF00 on, 0x0000 off (spec §4.4).
func (g *Gateway) writeSingleCoil(pdu []byte) []byte {
	fc := modbus.FunctionCode(pdu[0])
	if len(pdu) < 5 {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])
	if value != 0xFF00 && value != 0x0000 {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}

	mapping, found := g.regmap.FindCoil(addr, regmap.Coil)
	if !found {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataAddress)
	}
	if mapping.ReadOnly {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalFunction)
	}
	raw := mapping.OffValue
	if value == 0xFF00 {
		raw = mapping.OnValue
	}
	if err := g.writeRaw(mapping.Source, mapping.Linkage, raw); err != nil {
		return modbus.BuildExceptionPDU(fc, modbus.ExcSlaveDeviceFailure)
	}
	return append([]byte{byte(fc)}, pdu[1:5]...)
}

// writeSingleRegister answers FC 0x06 (spec §4.4, and the worked example in
// spec §8: value 0x0032 -> update_actuator(pwm_duty=50, command=ON)).
func (g *Gateway) writeSingleRegister(pdu []byte) []byte {
	fc := modbus.FunctionCode(pdu[0])
	if len(pdu) < 5 {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	mapping, found := g.regmap.FindRegister(addr, regmap.Holding)
	if !found {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataAddress)
	}
	if mapping.ReadOnly {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalFunction)
	}

	eng, err := regmap.DecodeValue(mapping.DataType, []uint16{value})
	if err != nil {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	raw := mapping.Scaling.ToRaw(eng)
	if err := g.writeRaw(mapping.Source, mapping.Linkage, raw); err != nil {
		return modbus.BuildExceptionPDU(fc, modbus.ExcSlaveDeviceFailure)
	}
	return append([]byte{byte(fc)}, pdu[1:5]...)
}

// writeMultipleCoils answers FC 0x0F: "each coil checked individually"
// (spec §4.4) — a single read-only or missing mapping anywhere in the
// range fails the whole request before any coil is written. A data-source
// failure partway through the writes answers SLAVE_DEVICE_FAILURE; coils
// written before it stay written.
func (g *Gateway) writeMultipleCoils(pdu []byte) []byte {
	fc := modbus.FunctionCode(pdu[0])
	if len(pdu) < 6 {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	if qty == 0 || qty > maxWriteBits || len(pdu) < 6+byteCount {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	values := pdu[6 : 6+byteCount]

	type coilWrite struct {
		mapping regmap.CoilMapping
		raw     float64
	}
	writes := make([]coilWrite, 0, qty)
	for i := uint16(0); i < qty; i++ {
		addr := start + i
		mapping, found := g.regmap.FindCoil(addr, regmap.Coil)
		if !found {
			return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataAddress)
		}
		if mapping.ReadOnly {
			return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalFunction)
		}
		bit := (values[i/8] >> (i % 8)) & 1
		raw := mapping.OffValue
		if bit == 1 {
			raw = mapping.OnValue
		}
		writes = append(writes, coilWrite{mapping: mapping, raw: raw})
	}
	for _, w := range writes {
		if err := g.writeRaw(w.mapping.Source, w.mapping.Linkage, w.raw); err != nil {
			return modbus.BuildExceptionPDU(fc, modbus.ExcSlaveDeviceFailure)
		}
	}
	return append([]byte{byte(fc)}, pdu[1:5]...)
}

// writeMultipleRegisters answers FC 0x10: "each register checked
// individually" (spec §4.4) — every mapping in the range is checked before
// any register is written. A data-source failure partway through the writes
// answers SLAVE_DEVICE_FAILURE; registers written before it stay written.
func (g *Gateway) writeMultipleRegisters(pdu []byte) []byte {
	fc := modbus.FunctionCode(pdu[0])
	if len(pdu) < 6 {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	if qty == 0 || qty > maxWriteRegisters || len(pdu) < 6+byteCount || byteCount != 2*int(qty) {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	words := regmap.BytesToWords(pdu[6 : 6+byteCount])

	type registerWrite struct {
		mapping regmap.RegisterMapping
		raw     float64
	}
	var writes []registerWrite
	for i := uint16(0); i < qty; {
		addr := start + i
		mapping, found := g.regmap.FindRegister(addr, regmap.Holding)
		if !found {
			return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataAddress)
		}
		if mapping.ReadOnly {
			return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalFunction)
		}
		count := mapping.DataType.RegisterCount()
		if int(i)+count > int(qty) {
			return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
		}
		eng, err := regmap.DecodeValue(mapping.DataType, words[i:i+uint16(count)])
		if err != nil {
			return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
		}
		raw := mapping.Scaling.ToRaw(eng)
		writes = append(writes, registerWrite{mapping: mapping, raw: raw})
		i += uint16(count)
	}
	for _, w := range writes {
		if err := g.writeRaw(w.mapping.Source, w.mapping.Linkage, w.raw); err != nil {
			return modbus.BuildExceptionPDU(fc, modbus.ExcSlaveDeviceFailure)
		}
	}
	return append([]byte{byte(fc)}, pdu[1:5]...)
}
