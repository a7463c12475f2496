package pnio

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// IODControlReq/Res carry a PrmEnd, AppReady, or Release handshake — the
// body is identical in shape for all three; ControlCommand distinguishes
// them (spec §4.1, §4.2).
type IODControl struct {
	ARUUID               uuid.UUID
	SessionKey            uint16
	ControlCommand        ControlCommand
	ControlBlockProperties uint16
}

func (c IODControl) marshalReq() []byte {
	return writeBlock(BlockIODControlReq, c.body())
}

func (c IODControl) marshalRes() []byte {
	return writeBlock(BlockIODControlRes, c.body())
}

func (c IODControl) body() []byte {
	payload := make([]byte, 16+2+2+2)
	putUUIDPNIO(payload[0:16], c.ARUUID)
	binary.BigEndian.PutUint16(payload[16:18], c.SessionKey)
	binary.BigEndian.PutUint16(payload[18:20], uint16(c.ControlCommand))
	binary.BigEndian.PutUint16(payload[20:22], c.ControlBlockProperties)
	return payload
}

func parseIODControl(p []byte) (IODControl, error) {
	if len(p) < 22 {
		return IODControl{}, errShort("IOD control block")
	}
	return IODControl{
		ARUUID:                getUUIDPNIO(p[0:16]),
		SessionKey:            binary.BigEndian.Uint16(p[16:18]),
		ControlCommand:        ControlCommand(binary.BigEndian.Uint16(p[18:20])),
		ControlBlockProperties: binary.BigEndian.Uint16(p[20:22]),
	}, nil
}
