package pnio

import "encoding/binary"

// NDRLen is the 20-byte NDR array header (ArgsMaximum, ArgsLength, MaxCount,
// Offset, ActualCount — all little-endian) that Connect/Control Responses
// carry after the 4-byte PNIO Status but before the blocks. Requests to the
// device do not carry this prefix at all (spec §4.2).
const NDRLen = 20

type NDRHeader struct {
	ArgsMaximum uint32
	ArgsLength  uint32
	MaxCount    uint32
	Offset      uint32
	ActualCount uint32
}

func ParseNDRHeader(buf []byte) (NDRHeader, []byte, error) {
	if len(buf) < NDRLen {
		return NDRHeader{}, nil, errShort("NDR header")
	}
	le := binary.LittleEndian
	h := NDRHeader{
		ArgsMaximum: le.Uint32(buf[0:4]),
		ArgsLength:  le.Uint32(buf[4:8]),
		MaxCount:    le.Uint32(buf[8:12]),
		Offset:      le.Uint32(buf[12:16]),
		ActualCount: le.Uint32(buf[16:20]),
	}
	return h, buf[NDRLen:], nil
}

func (h NDRHeader) Marshal() []byte {
	buf := make([]byte, NDRLen)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], h.ArgsMaximum)
	le.PutUint32(buf[4:8], h.ArgsLength)
	le.PutUint32(buf[8:12], h.MaxCount)
	le.PutUint32(buf[12:16], h.Offset)
	le.PutUint32(buf[16:20], h.ActualCount)
	return buf
}
