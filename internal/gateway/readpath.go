package gateway

import (
	"encoding/binary"

	"github.com/watertreat/scada-core/internal/modbus"
	"github.com/watertreat/scada-core/internal/regmap"
)

func decodeReadRequest(pdu []byte) (start, qty uint16, ok bool) {
	if len(pdu) < 5 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(pdu[1:3]), binary.BigEndian.Uint16(pdu[3:5]), true
}

// readBits answers FC 0x01 (Coil) / 0x02 (DiscreteInput): bit-packed
// response built from the coil collection, zero-filled for unmapped
// addresses unless strict addressing is enabled (spec §4.4).
func (g *Gateway) readBits(pdu []byte, ct regmap.CoilType) []byte {
	fc := modbus.FunctionCode(pdu[0])
	start, qty, ok := decodeReadRequest(pdu)
	if !ok {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	if qty == 0 || qty > maxReadBits {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}

	byteCount := (int(qty) + 7) / 8
	out := make([]byte, byteCount)
	strict := g.regmap.StrictAddressing()

	for i := uint16(0); i < qty; i++ {
		addr := start + i
		mapping, found := g.regmap.FindCoil(addr, ct)
		if !found {
			if strict {
				return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataAddress)
			}
			continue // lenient: leave bit zero (spec §9)
		}
		if !mapping.Enabled {
			continue
		}
		raw, err := g.readRaw(mapping.Source, mapping.Linkage)
		if err != nil {
			return modbus.BuildExceptionPDU(fc, modbus.ExcSlaveDeviceFailure)
		}
		if raw != 0 {
			out[i/8] |= 1 << (i % 8)
		}
	}

	resp := make([]byte, 0, 2+len(out))
	resp = append(resp, byte(fc), byte(byteCount))
	resp = append(resp, out...)
	return resp
}

// readRegisters answers FC 0x03 (Holding) / 0x04 (Input): word-packed
// response built from the register collection, scaled per mapping.
func (g *Gateway) readRegisters(pdu []byte, rt regmap.RegisterType) []byte {
	fc := modbus.FunctionCode(pdu[0])
	start, qty, ok := decodeReadRequest(pdu)
	if !ok {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}
	if qty == 0 || qty > maxReadRegisters {
		return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataValue)
	}

	words := make([]uint16, 0, qty)
	strict := g.regmap.StrictAddressing()

	for i := uint16(0); i < qty; {
		addr := start + i
		mapping, found := g.regmap.FindRegister(addr, rt)
		if !found {
			if strict {
				return modbus.BuildExceptionPDU(fc, modbus.ExcIllegalDataAddress)
			}
			words = append(words, 0) // lenient: unmapped holes read zero (spec §9)
			i++
			continue
		}
		if !mapping.Enabled {
			words = append(words, 0)
			i++
			continue
		}
		raw, err := g.readRaw(mapping.Source, mapping.Linkage)
		if err != nil {
			return modbus.BuildExceptionPDU(fc, modbus.ExcSlaveDeviceFailure)
		}
		eng := mapping.Scaling.ToEngineering(raw)
		regWords, err := regmap.EncodeValue(mapping.DataType, eng)
		if err != nil {
			return modbus.BuildExceptionPDU(fc, modbus.ExcSlaveDeviceFailure)
		}
		words = append(words, regWords...)
		// A 32/64-bit mapping occupies its declared register count; the
		// addresses it covers are consumed together, not re-read as
		// separate (likely unmapped) registers.
		i += uint16(mapping.DataType.RegisterCount())
	}

	resp := make([]byte, 0, 2+2*len(words))
	resp = append(resp, byte(fc), byte(2*len(words)))
	resp = append(resp, regmap.WordsToBytes(words)...)
	return resp
}
