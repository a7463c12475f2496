package regmap

import (
	"math"

	"github.com/watertreat/scada-core/internal/scadaerr"
)

// EncodeValue converts an engineering-scaled raw value into the 16-bit
// register words a mapping's DataType dictates, in the declared byte order
// (spec §4.4 "for 32-bit types, occupy two consecutive registers in the
// declared byte order").
func EncodeValue(dt DataType, raw float64) ([]uint16, error) {
	switch dt {
	case UInt16:
		return []uint16{uint16(int64(raw))}, nil
	case Int16:
		return []uint16{uint16(int16(int64(raw)))}, nil
	case Bit:
		if raw != 0 {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	case UInt32BE, UInt32LE, Int32BE, Int32LE:
		v := uint32(int64(raw))
		hi := uint16(v >> 16)
		lo := uint16(v & 0xFFFF)
		if dt == UInt32LE || dt == Int32LE {
			return []uint16{lo, hi}, nil
		}
		return []uint16{hi, lo}, nil
	case Float32BE, Float32LE:
		bits := math.Float32bits(float32(raw))
		hi := uint16(bits >> 16)
		lo := uint16(bits & 0xFFFF)
		if dt == Float32LE {
			return []uint16{lo, hi}, nil
		}
		return []uint16{hi, lo}, nil
	case Float64BE, Float64LE:
		bits := math.Float64bits(raw)
		words := []uint16{
			uint16(bits >> 48),
			uint16(bits >> 32),
			uint16(bits >> 16),
			uint16(bits),
		}
		if dt == Float64LE {
			for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
				words[i], words[j] = words[j], words[i]
			}
		}
		return words, nil
	default:
		return nil, scadaerr.New(scadaerr.InvalidParam, "unsupported register data type for scalar encode")
	}
}

// DecodeValue reverses EncodeValue, reading raw back out of words.
func DecodeValue(dt DataType, words []uint16) (float64, error) {
	need := dt.RegisterCount()
	if len(words) < need {
		return 0, scadaerr.New(scadaerr.InvalidParam, "too few registers for data type")
	}
	switch dt {
	case UInt16:
		return float64(words[0]), nil
	case Int16:
		return float64(int16(words[0])), nil
	case Bit:
		if words[0] != 0 {
			return 1, nil
		}
		return 0, nil
	case UInt32BE, Int32BE:
		v := uint32(words[0])<<16 | uint32(words[1])
		if dt == Int32BE {
			return float64(int32(v)), nil
		}
		return float64(v), nil
	case UInt32LE, Int32LE:
		v := uint32(words[1])<<16 | uint32(words[0])
		if dt == Int32LE {
			return float64(int32(v)), nil
		}
		return float64(v), nil
	case Float32BE:
		bits := uint32(words[0])<<16 | uint32(words[1])
		return float64(math.Float32frombits(bits)), nil
	case Float32LE:
		bits := uint32(words[1])<<16 | uint32(words[0])
		return float64(math.Float32frombits(bits)), nil
	case Float64BE:
		bits := uint64(words[0])<<48 | uint64(words[1])<<32 | uint64(words[2])<<16 | uint64(words[3])
		return math.Float64frombits(bits), nil
	case Float64LE:
		bits := uint64(words[3])<<48 | uint64(words[2])<<32 | uint64(words[1])<<16 | uint64(words[0])
		return math.Float64frombits(bits), nil
	default:
		return 0, scadaerr.New(scadaerr.InvalidParam, "unsupported register data type for scalar decode")
	}
}

// WordsToBytes packs register words big-endian, two bytes each, the wire
// shape a Modbus read response's byte_count/payload carries.
func WordsToBytes(words []uint16) []byte {
	out := make([]byte, 2*len(words))
	for i, w := range words {
		out[2*i] = byte(w >> 8)
		out[2*i+1] = byte(w)
	}
	return out
}

// BytesToWords unpacks a big-endian byte payload into register words.
func BytesToWords(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return out
}
