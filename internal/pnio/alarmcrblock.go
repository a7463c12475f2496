package pnio

import (
	"encoding/binary"
	"fmt"
)

// AlarmCRBlockReq requests the alarm communication relationship every AR
// carries alongside its IOCRs. The core does not act on alarms (out of
// scope per spec §1) but must still negotiate the block to satisfy
// PNIO-CM's handshake.
type AlarmCRBlockReq struct {
	AlarmCRType      uint16
	LT               uint16 // EtherType, 0x8892
	AlarmCRProperties uint32
	RTATimeoutFactor  uint16
	RTARetries        uint16
	LocalAlarmRef     uint16
	MaxAlarmDataLength uint16
}

func (b AlarmCRBlockReq) marshal() []byte {
	payload := make([]byte, 18)
	binary.BigEndian.PutUint16(payload[0:], b.AlarmCRType)
	binary.BigEndian.PutUint16(payload[2:], b.LT)
	binary.BigEndian.PutUint32(payload[4:], b.AlarmCRProperties)
	binary.BigEndian.PutUint16(payload[8:], b.RTATimeoutFactor)
	binary.BigEndian.PutUint16(payload[10:], b.RTARetries)
	binary.BigEndian.PutUint16(payload[12:], b.LocalAlarmRef)
	binary.BigEndian.PutUint16(payload[14:], b.MaxAlarmDataLength)
	return writeBlock(BlockAlarmCRBlockReq, payload)
}

type AlarmCRBlockRes struct {
	AlarmCRType     uint16
	LocalAlarmRef   uint16
	MaxAlarmDataLength uint16
}

func parseAlarmCRBlockRes(p []byte) (AlarmCRBlockRes, error) {
	if len(p) < 6 {
		return AlarmCRBlockRes{}, fmt.Errorf("pnio: alarm CR block res too short (%d bytes)", len(p))
	}
	return AlarmCRBlockRes{
		AlarmCRType:        binary.BigEndian.Uint16(p[0:]),
		LocalAlarmRef:      binary.BigEndian.Uint16(p[2:]),
		MaxAlarmDataLength: binary.BigEndian.Uint16(p[4:]),
	}, nil
}
