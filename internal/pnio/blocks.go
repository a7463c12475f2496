package pnio

import (
	"encoding/binary"
	"fmt"
)

// blockHeaderLen is (type:u16, length:u16, version_high:u8, version_low:u8).
const blockHeaderLen = 6

// RawBlock is one undifferentiated PNIO block as read off the wire: a type,
// version, and the payload bytes following the 6-byte header.
type RawBlock struct {
	Type         BlockType
	VersionHigh  byte
	VersionLow   byte
	Payload      []byte
}

// writeBlock wraps payload in a block header. `length` per spec excludes the
// type and length fields themselves, i.e. it counts version_high, version_low
// and payload.
func writeBlock(typ BlockType, payload []byte) []byte {
	buf := make([]byte, blockHeaderLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(typ))
	binary.BigEndian.PutUint16(buf[2:4], uint16(2+len(payload)))
	buf[4] = blockVersionHigh
	buf[5] = blockVersionLow
	copy(buf[6:], payload)
	return buf
}

// IterateBlocks walks consecutive PNIO blocks in buf until it is exhausted.
func IterateBlocks(buf []byte) ([]RawBlock, error) {
	var blocks []RawBlock
	for len(buf) > 0 {
		if len(buf) < blockHeaderLen {
			return nil, fmt.Errorf("pnio: %d trailing bytes too short for a block header", len(buf))
		}
		typ := BlockType(binary.BigEndian.Uint16(buf[0:2]))
		length := binary.BigEndian.Uint16(buf[2:4])
		if int(length) < 2 {
			return nil, fmt.Errorf("pnio: block type 0x%04x has invalid length %d", typ, length)
		}
		total := blockHeaderLen + int(length) - 2
		if total > len(buf) {
			return nil, fmt.Errorf("pnio: block type 0x%04x claims %d bytes, only %d remain", typ, total, len(buf))
		}
		blocks = append(blocks, RawBlock{
			Type:        typ,
			VersionHigh: buf[4],
			VersionLow:  buf[5],
			Payload:     buf[blockHeaderLen:total],
		})
		buf = buf[total:]
	}
	return blocks, nil
}

// putStationName writes a (u16 length, bytes) pair, the wire form used by
// both the AR Block's station name field and the Connect Request's device
// name-of-station.
func putStationName(name string) []byte {
	b := []byte(name)
	out := make([]byte, 2+len(b))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(b)))
	copy(out[2:], b)
	return out
}

func getStationName(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("pnio: truncated station name length")
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return "", nil, fmt.Errorf("pnio: truncated station name (want %d bytes)", n)
	}
	return string(buf[2 : 2+n]), buf[2+n:], nil
}
