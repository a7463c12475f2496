package pnio

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ARBlockReq carries the AR-level parameters of a Connect Request.
type ARBlockReq struct {
	ARType            uint16
	ARUUID            uuid.UUID
	SessionKey        uint16
	CMInitiatorMAC    [6]byte
	CMInitiatorObjectID uuid.UUID
	ARProperties      uint32
	TimeoutFactor     uint16
	UDPRTPort         uint16
	StationName       string
}

func (b ARBlockReq) marshal() []byte {
	name := putStationName(b.StationName)
	payload := make([]byte, 2+16+2+6+16+4+2+2+len(name))
	o := 0
	binary.BigEndian.PutUint16(payload[o:], b.ARType)
	o += 2
	putUUIDPNIO(payload[o:o+16], b.ARUUID)
	o += 16
	binary.BigEndian.PutUint16(payload[o:], b.SessionKey)
	o += 2
	copy(payload[o:o+6], b.CMInitiatorMAC[:])
	o += 6
	putUUIDPNIO(payload[o:o+16], b.CMInitiatorObjectID)
	o += 16
	binary.BigEndian.PutUint32(payload[o:], b.ARProperties)
	o += 4
	binary.BigEndian.PutUint16(payload[o:], b.TimeoutFactor)
	o += 2
	binary.BigEndian.PutUint16(payload[o:], b.UDPRTPort)
	o += 2
	copy(payload[o:], name)
	return writeBlock(BlockARBlockReq, payload)
}

// ARBlockRes is the device's acknowledgement of the AR block.
type ARBlockRes struct {
	ARType          uint16
	ARUUID          uuid.UUID
	SessionKey      uint16
	CMResponderMAC  [6]byte
	UDPRTPort       uint16
}

func parseARBlockRes(p []byte) (ARBlockRes, error) {
	const minLen = 2 + 16 + 2 + 6 + 2
	if len(p) < minLen {
		return ARBlockRes{}, fmt.Errorf("pnio: AR block res too short (%d bytes)", len(p))
	}
	var r ARBlockRes
	o := 0
	r.ARType = binary.BigEndian.Uint16(p[o:])
	o += 2
	r.ARUUID = getUUIDPNIO(p[o : o+16])
	o += 16
	r.SessionKey = binary.BigEndian.Uint16(p[o:])
	o += 2
	copy(r.CMResponderMAC[:], p[o:o+6])
	o += 6
	r.UDPRTPort = binary.BigEndian.Uint16(p[o:])
	return r, nil
}
